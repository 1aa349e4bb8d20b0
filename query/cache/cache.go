// Package cache provides query result caching functionality.
//
// A Cache wraps a Store (in-memory LRU or files) with remember, stale-while-revalidate and
// tag semantics. Failures of the underlying store are logged and treated as misses; they
// never reach the caller.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/satishbabariya/gorel/internal/debug"
)

// Producer computes a value on a cache miss.
type Producer func(ctx context.Context) (any, error)

// Repository is the cache contract consumed by the query builder and the model layer.
type Repository interface {
	// Read returns a fresh value.
	Read(ctx context.Context, key string) (any, bool)
	Write(ctx context.Context, key string, value any, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
	// Remember returns the cached value or computes and stores it.
	Remember(ctx context.Context, key string, ttl time.Duration, producer Producer) (any, error)
	// RememberWithStale serves a value for ttl, then serves it stale for another ttl while
	// a single background refresh replaces it.
	RememberWithStale(ctx context.Context, key string, ttl time.Duration, producer Producer) (any, error)
	// Tags returns a view whose keys are namespaced by the given tags.
	Tags(names ...string) Repository
	// Clear invalidates the view: tagged views bump their tag versions, the root view
	// flushes the store.
	Clear(ctx context.Context) error
}

// Options configures a Cache.
type Options struct {
	// Prefix is prepended to every key.
	Prefix string
	// LockTimeout bounds how long a miss waits for the refresh lock. Defaults to 5s.
	LockTimeout time.Duration
	// LockLease is how long a refresh lock is held before it can be broken. Defaults to 30s.
	LockLease time.Duration
	// RetryWait is the pause before re-reading after a lock timeout. Defaults to 100ms.
	RetryWait time.Duration
	// PollInterval is the lock polling interval. Defaults to 25ms.
	PollInterval time.Duration
}

var _ Repository = (*Cache)(nil)

// Cache implements Repository over a Store.
type Cache struct {
	store *sharedState
	tags  []string
}

type sharedState struct {
	Store
	opts    Options
	group   singleflight.Group
	pending sync.WaitGroup
	now     func() time.Time
}

// New creates a cache over store.
func New(store Store, opts Options) *Cache {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.LockLease <= 0 {
		opts.LockLease = 30 * time.Second
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 100 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 25 * time.Millisecond
	}
	return &Cache{store: &sharedState{Store: store, opts: opts, now: time.Now}}
}

// Store returns the underlying store.
func (c *Cache) Store() Store { return c.store.Store }

// SetClock replaces the time source used for freshness checks, in the store too when it
// supports it.
func (c *Cache) SetClock(now func() time.Time) {
	c.store.now = now
	if s, ok := c.store.Store.(interface{ SetClock(func() time.Time) }); ok {
		s.SetClock(now)
	}
}

// Wait blocks until scheduled background refreshes have finished.
func (c *Cache) Wait() { c.store.pending.Wait() }

// Tags returns a view namespaced by names in addition to the receiver's tags.
func (c *Cache) Tags(names ...string) Repository {
	tags := append(append([]string(nil), c.tags...), names...)
	return &Cache{store: c.store, tags: tags}
}

func tagKey(name string) string { return "tag:" + name }

// tagVersion returns the current version of a tag, creating one if needed.
func (c *Cache) tagVersion(ctx context.Context, name string) string {
	e, ok, err := c.store.Get(ctx, c.store.opts.Prefix+tagKey(name))
	if err == nil && ok {
		if v, isString := e.Value.(string); isString {
			return v
		}
	}
	v := uuid.NewString()
	if err := c.store.Put(ctx, c.store.opts.Prefix+tagKey(name), Entry{Value: v}); err != nil {
		debug.Warn("cache tag write failed", "tag", name, "error", err)
	}
	return v
}

// itemKey namespaces key by prefix and current tag versions.
func (c *Cache) itemKey(ctx context.Context, key string) string {
	if len(c.tags) == 0 {
		return c.store.opts.Prefix + key
	}
	versions := make([]string, len(c.tags))
	for i, t := range c.tags {
		versions[i] = c.tagVersion(ctx, t)
	}
	sum := sha256.Sum256([]byte(strings.Join(versions, "|")))
	return c.store.opts.Prefix + hex.EncodeToString(sum[:8]) + ":" + key
}

// get reads an entry, treating store failures as misses.
func (c *Cache) get(ctx context.Context, full string) (Entry, bool) {
	e, ok, err := c.store.Get(ctx, full)
	if err != nil {
		debug.Warn("cache read failed", "key", full, "error", err)
		return Entry{}, false
	}
	return e, ok
}

func (c *Cache) put(ctx context.Context, full string, value any, ttl, grace time.Duration) error {
	now := c.store.now()
	e := Entry{Value: value}
	if ttl > 0 {
		e.FreshUntil = now.Add(ttl)
		if grace > 0 {
			e.StaleUntil = e.FreshUntil.Add(grace)
		}
	}
	return c.store.Put(ctx, full, e)
}

func (c *Cache) Read(ctx context.Context, key string) (any, bool) {
	e, ok := c.get(ctx, c.itemKey(ctx, key))
	if !ok || !e.Fresh(c.store.now()) {
		return nil, false
	}
	return e.Value, true
}

// Write stores value for ttl. A zero ttl stores it without expiry.
func (c *Cache) Write(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.put(ctx, c.itemKey(ctx, key), value, ttl, 0)
}

func (c *Cache) Forget(ctx context.Context, key string) error {
	return c.store.Forget(ctx, c.itemKey(ctx, key))
}

func (c *Cache) Remember(ctx context.Context, key string, ttl time.Duration, producer Producer) (any, error) {
	full := c.itemKey(ctx, key)
	if e, ok := c.get(ctx, full); ok && e.Fresh(c.store.now()) {
		return e.Value, nil
	}
	v, err, _ := c.store.group.Do(full, func() (any, error) {
		if e, ok := c.get(ctx, full); ok && e.Fresh(c.store.now()) {
			return e.Value, nil
		}
		v, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.put(ctx, full, v, ttl, 0); err != nil {
			debug.Warn("cache write failed", "key", full, "error", err)
		}
		return v, nil
	})
	return v, err
}

func (c *Cache) RememberWithStale(ctx context.Context, key string, ttl time.Duration, producer Producer) (any, error) {
	full := c.itemKey(ctx, key)
	now := c.store.now()
	if e, ok := c.get(ctx, full); ok {
		if !e.Fresh(now) {
			c.refresh(ctx, full, ttl, producer)
		}
		return e.Value, nil
	}

	lock := c.store.Lock("refresh:"+full, c.store.opts.LockLease)
	acquired, err := Block(ctx, lock, c.store.opts.LockTimeout, c.store.opts.PollInterval)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	if acquired {
		defer func() {
			if err := lock.Release(); err != nil {
				debug.Warn("cache lock release failed", "key", full, "error", err)
			}
		}()
		// Another holder may have filled the entry while we waited.
		if e, ok := c.get(ctx, full); ok {
			return e.Value, nil
		}
		return c.produce(ctx, full, ttl, producer)
	}

	debug.Debug("cache lock timeout, retrying read", "key", full)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.store.opts.RetryWait):
	}
	if e, ok := c.get(ctx, full); ok {
		return e.Value, nil
	}
	return c.produce(ctx, full, ttl, producer)
}

func (c *Cache) produce(ctx context.Context, full string, ttl time.Duration, producer Producer) (any, error) {
	v, err := producer(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.put(ctx, full, v, ttl, ttl); err != nil {
		debug.Warn("cache write failed", "key", full, "error", err)
	}
	return v, nil
}

// refresh recomputes a stale entry in the background. singleflight collapses refreshes in
// this process and the advisory lock collapses them across processes sharing the store.
func (c *Cache) refresh(ctx context.Context, full string, ttl time.Duration, producer Producer) {
	ctx = context.WithoutCancel(ctx)
	c.store.pending.Add(1)
	go func() {
		defer c.store.pending.Done()
		_, _, _ = c.store.group.Do("refresh:"+full, func() (any, error) {
			lock := c.store.Lock("refresh:"+full, c.store.opts.LockLease)
			ok, err := lock.TryAcquire()
			if err != nil || !ok {
				return nil, err
			}
			defer lock.Release()
			if e, found := c.get(ctx, full); found && e.Fresh(c.store.now()) {
				return nil, nil
			}
			if _, err := c.produce(ctx, full, ttl, producer); err != nil {
				debug.Warn("background cache refresh failed", "key", full, "error", err)
			}
			return nil, nil
		})
	}()
}

// Clear bumps the version of every tag of a tagged view, or flushes the store.
func (c *Cache) Clear(ctx context.Context) error {
	if len(c.tags) == 0 {
		return c.store.Flush(ctx)
	}
	for _, t := range c.tags {
		if err := c.store.Put(ctx, c.store.opts.Prefix+tagKey(t), Entry{Value: uuid.NewString()}); err != nil {
			return err
		}
	}
	return nil
}

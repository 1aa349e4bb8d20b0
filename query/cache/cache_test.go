package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, store Store) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New(store, Options{LockTimeout: 50 * time.Millisecond, RetryWait: 5 * time.Millisecond, PollInterval: 5 * time.Millisecond})
	c.SetClock(clock.Now)
	return c, clock
}

func counter() (Producer, *int64) {
	var calls int64
	return func(context.Context) (any, error) {
		return atomic.AddInt64(&calls, 1), nil
	}, &calls
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t, NewMemoryStore(10))

	_, ok := c.Read(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.Write(ctx, "k", "v", time.Minute))
	v, ok := c.Read(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(2 * time.Minute)
	_, ok = c.Read(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.Write(ctx, "forever", 1, 0))
	clock.Advance(24 * time.Hour)
	_, ok = c.Read(ctx, "forever")
	assert.True(t, ok)

	require.NoError(t, c.Forget(ctx, "forever"))
	_, ok = c.Read(ctx, "forever")
	assert.False(t, ok)
}

func TestRemember(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t, NewMemoryStore(10))
	producer, calls := counter()

	v, err := c.Remember(ctx, "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = c.Remember(ctx, "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))

	clock.Advance(2 * time.Minute)
	v, err = c.Remember(ctx, "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, NewMemoryStore(10))
	boom := errors.New("boom")

	_, err := c.Remember(ctx, "k", time.Minute, func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.Remember(ctx, "k", time.Minute, func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestRememberWithStale(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t, NewMemoryStore(10))
	producer, calls := counter()

	v, err := c.RememberWithStale(ctx, "k", 10*time.Second, producer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Stale but within grace: the old value is served and a refresh is scheduled.
	clock.Advance(15 * time.Second)
	v, err = c.RememberWithStale(ctx, "k", 10*time.Second, producer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	c.Wait()
	assert.Equal(t, int64(2), atomic.LoadInt64(calls))

	v, err = c.RememberWithStale(ctx, "k", 10*time.Second, producer)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// Past the grace period the entry is gone and is recomputed inline.
	clock.Advance(time.Minute)
	v, err = c.RememberWithStale(ctx, "k", 10*time.Second, producer)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestRememberWithStaleLockTimeout(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	c, _ := newTestCache(t, store)

	held := store.Lock("refresh:k", time.Hour)
	ok, err := held.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	producer, calls := counter()
	v, err := c.RememberWithStale(ctx, "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
	require.NoError(t, held.Release())
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, NewMemoryStore(100))

	users := c.Tags("users")
	posts := c.Tags("posts")
	require.NoError(t, users.Write(ctx, "k", "u", time.Minute))
	require.NoError(t, posts.Write(ctx, "k", "p", time.Minute))

	v, ok := users.Read(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "u", v)

	require.NoError(t, c.Tags("users").Clear(ctx))
	_, ok = users.Read(ctx, "k")
	assert.False(t, ok)

	v, ok = posts.Read(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "p", v)

	require.NoError(t, c.Clear(ctx))
	_, ok = posts.Read(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStoreEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	require.NoError(t, s.Put(ctx, "a", Entry{Value: 1}))
	require.NoError(t, s.Put(ctx, "b", Entry{Value: 2}))
	_, ok, _ := s.Get(ctx, "a")
	require.True(t, ok)
	require.NoError(t, s.Put(ctx, "c", Entry{Value: 3}))

	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok, _ = s.Get(ctx, "a")
	assert.True(t, ok)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 66.66, stats.HitRate(), 0.1)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s, err := NewFileStore(fs, "/cache")
	require.NoError(t, err)

	entry := Entry{Value: []any{map[string]any{"id": int64(1), "name": "a"}}}
	require.NoError(t, s.Put(ctx, "rows", entry))
	got, ok, err := s.Get(ctx, "rows")
	require.NoError(t, err)
	require.True(t, ok)
	rows := got.Value.([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].(map[string]any)["name"])

	require.NoError(t, s.Forget(ctx, "rows"))
	_, ok, _ = s.Get(ctx, "rows")
	assert.False(t, ok)
	assert.NoError(t, s.Forget(ctx, "rows"))
}

func TestFileStoreConcurrentPutsOfOneKey(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s, err := NewFileStore(fs, "/cache")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Put(ctx, "hot", Entry{Value: "rows"}))
		}()
	}
	wg.Wait()

	got, ok, err := s.Get(ctx, "hot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "rows", got.Value)

	files, err := afero.ReadDir(fs, filepath.Dir(s.path("hot")))
	require.NoError(t, err)
	require.Len(t, files, 1, "temporary files are renamed away")
	assert.Equal(t, filepath.Base(s.path("hot")), files[0].Name())
}

func TestFileStoreCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s, err := NewFileStore(fs, "/cache")
	require.NoError(t, err)

	path := s.path("bad")
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, []byte{0xc1, 0xff, 0x00}, 0o644))

	_, ok, err := s.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	exists, _ := afero.Exists(fs, path)
	assert.False(t, exists, "corrupt entry is deleted")
}

func TestFileStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(afero.NewMemMapFs(), "/cache")
	require.NoError(t, err)
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Put(ctx, "k", Entry{Value: "v", FreshUntil: now.Add(time.Second)}))
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestFileLock(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := NewFileLock(fs, "/locks/x.lock", time.Minute)
	b := NewFileLock(fs, "/locks/x.lock", time.Minute)

	ok, err := a.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(), "releasing a lock held by someone else is a no-op")
	ok, _ = b.TryAcquire()
	assert.False(t, ok)

	require.NoError(t, a.Release())
	ok, err = b.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileLockBreaksExpiredLease(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Now()
	a := NewFileLock(fs, "/locks/x.lock", time.Second)
	a.now = func() time.Time { return now }
	b := NewFileLock(fs, "/locks/x.lock", time.Second)
	b.now = func() time.Time { return now.Add(5 * time.Second) }

	ok, _ := a.TryAcquire()
	require.True(t, ok)
	ok, err := b.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBlock(t *testing.T) {
	store := NewMemoryStore(1)
	held := store.Lock("n", time.Hour)
	ok, _ := held.TryAcquire()
	require.True(t, ok)

	ok, err := Block(context.Background(), store.Lock("n", time.Hour), 20*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, held.Release())
	ok, err = Block(context.Background(), store.Lock("n", time.Hour), 20*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

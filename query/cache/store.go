package cache

import (
	"context"
	"time"
)

// Entry is a stored value with its freshness window.
type Entry struct {
	Value any `msgpack:"v"`
	// FreshUntil is when the value stops being fresh. Zero means it never expires.
	FreshUntil time.Time `msgpack:"f"`
	// StaleUntil is when a stale value can no longer be served. Zero means no grace period.
	StaleUntil time.Time `msgpack:"s"`
}

// ExpiresAt is when the store may drop the entry.
func (e Entry) ExpiresAt() time.Time {
	if e.StaleUntil.After(e.FreshUntil) {
		return e.StaleUntil
	}
	return e.FreshUntil
}

// Expired reports whether the entry can no longer be served at all.
func (e Entry) Expired(now time.Time) bool {
	exp := e.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

// Fresh reports whether the entry is within its ttl.
func (e Entry) Fresh(now time.Time) bool {
	return e.FreshUntil.IsZero() || now.Before(e.FreshUntil)
}

// Store persists entries. Implementations treat unreadable entries as missing.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry) error
	Forget(ctx context.Context, key string) error
	Flush(ctx context.Context) error
	// Lock returns an advisory lock named name whose hold expires after lease.
	Lock(name string, lease time.Duration) Lock
}

// Lock is a cooperative advisory lock.
type Lock interface {
	// TryAcquire takes the lock without waiting.
	TryAcquire() (bool, error)
	// Release gives the lock up if this holder still owns it.
	Release() error
}

// Block polls lock until it is acquired, timeout passes or ctx is done.
func Block(ctx context.Context, lock Lock, timeout, poll time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := lock.TryAcquire()
		if err != nil || ok {
			return ok, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(poll):
		}
	}
}

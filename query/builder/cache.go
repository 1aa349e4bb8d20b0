package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/satishbabariya/gorel/internal/debug"
	"github.com/satishbabariya/gorel/query/cache"
)

// WithCache sets the cache repository used by Remember and RememberStale.
func (b *Builder) WithCache(repo cache.Repository) *Builder {
	b.cache = repo
	return b
}

// Remember caches the results of Get for ttl.
func (b *Builder) Remember(ttl time.Duration) *Builder {
	b.cacheTTL = ttl
	b.cacheStale = false
	return b
}

// RememberStale caches the results of Get for ttl and keeps serving them for another ttl
// while a background refresh runs.
func (b *Builder) RememberStale(ttl time.Duration) *Builder {
	b.cacheTTL = ttl
	b.cacheStale = true
	return b
}

// CacheTags adds tags to cached reads in addition to the table name.
func (b *Builder) CacheTags(tags ...string) *Builder {
	b.cacheTags = append(b.cacheTags, tags...)
	return b
}

// CacheKey derives the cache key of a compiled query from its SQL and bindings.
func CacheKey(sql string, bindings []any) string {
	h := sha256.New()
	h.Write([]byte(sql))
	for _, v := range bindings {
		fmt.Fprintf(h, "\x00%T:%v", v, v)
	}
	return "query:" + hex.EncodeToString(h.Sum(nil))
}

func (b *Builder) remember(ctx context.Context, conn Conn, sql string, bindings []any) ([]Row, error) {
	repo := b.cache.Tags(append([]string{b.TableName()}, b.cacheTags...)...)
	key := CacheKey(sql, bindings)
	producer := func(ctx context.Context) (any, error) {
		return conn.Select(ctx, sql, bindings)
	}

	var (
		value any
		err   error
	)
	if b.cacheStale {
		value, err = repo.RememberWithStale(ctx, key, b.cacheTTL, producer)
	} else {
		value, err = repo.Remember(ctx, key, b.cacheTTL, producer)
	}
	if err != nil {
		return nil, err
	}
	if rows, ok := toRows(value); ok {
		return rows, nil
	}
	debug.Warn("cached query result has unexpected shape", "key", key, "type", fmt.Sprintf("%T", value))
	return conn.Select(ctx, sql, bindings)
}

// toRows accepts rows as produced by Select or as decoded from a serialized store.
func toRows(value any) ([]Row, bool) {
	switch v := value.(type) {
	case []Row:
		return v, true
	case nil:
		return []Row{}, true
	case []any:
		rows := make([]Row, len(v))
		for i, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			rows[i] = row
		}
		return rows, true
	}
	return nil, false
}

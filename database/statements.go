package database

import (
	"context"
	"database/sql"
	"sync"

	"github.com/satishbabariya/gorel/internal/debug"
)

const defaultStatementCache = 100

// statementCache keeps prepared statements keyed by SQL text. When full it evicts the
// statement that was inserted first, regardless of how recently it was used.
type statementCache struct {
	mu       sync.Mutex
	capacity int
	stmts    map[string]*sql.Stmt
	order    []string
}

func newStatementCache(capacity int) *statementCache {
	if capacity <= 0 {
		capacity = defaultStatementCache
	}
	return &statementCache{capacity: capacity, stmts: make(map[string]*sql.Stmt)}
}

func (s *statementCache) get(query string) (*sql.Stmt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stmt, ok := s.stmts[query]
	return stmt, ok
}

func (s *statementCache) put(query string, stmt *sql.Stmt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stmts[query]; ok {
		return
	}
	for len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		if err := s.stmts[oldest].Close(); err != nil {
			debug.Warn("closing evicted statement failed", "sql", oldest, "error", err)
		}
		delete(s.stmts, oldest)
	}
	s.stmts[query] = stmt
	s.order = append(s.order, query)
}

func (s *statementCache) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range s.stmts {
		_ = stmt.Close()
	}
	s.stmts = make(map[string]*sql.Stmt)
	s.order = nil
}

func (s *statementCache) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// prepared returns the cached statement for query, preparing it on a miss.
func (c *Connection) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := c.stmts.get(query); ok {
		return stmt, nil
	}
	db, err := c.DB(ctx)
	if err != nil {
		return nil, err
	}
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.stmts.put(query, stmt)
	if cached, _ := c.stmts.get(query); cached != stmt {
		_ = stmt.Close()
		return cached, nil
	}
	return stmt, nil
}

// StatementCacheSize returns the capacity of the prepared statement cache.
func (c *Connection) StatementCacheSize() int { return c.stmts.capacity }

// CachedStatements returns the cached SQL texts, oldest first.
func (c *Connection) CachedStatements() []string { return c.stmts.keys() }

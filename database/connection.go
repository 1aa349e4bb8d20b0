// Package database manages connections: the physical handle, prepared statement reuse,
// nested transactions, query events and schema introspection.
//
// A Connection owns exactly one physical database connection. It is meant to be used by one
// logical caller at a time; callers needing parallelism open several named connections
// through a Manager.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/satishbabariya/gorel/internal/debug"
	"github.com/satishbabariya/gorel/query/builder"
	"github.com/satishbabariya/gorel/query/cache"
	"github.com/satishbabariya/gorel/query/grammar"
)

// Row is a fetched row keyed by column name.
type Row = builder.Row

// Opener opens a database handle. It defaults to sql.Open and is replaced in tests.
type Opener func(driver, dsn string) (*sql.DB, error)

// Option configures a Connection.
type Option func(*Connection)

// WithOpener replaces the function used to open the handle.
func WithOpener(open Opener) Option {
	return func(c *Connection) { c.open = open }
}

// WithEvents shares an events registry between connections.
func WithEvents(events *Events) Option {
	return func(c *Connection) { c.events = events }
}

// WithCache attaches a cache repository to builders created by Table.
func WithCache(repo cache.Repository) Option {
	return func(c *Connection) { c.cache = repo }
}

// Connection is a named database connection.
type Connection struct {
	name    string
	cfg     Config
	grammar grammar.Grammar
	driver  string
	open    Opener
	events  *Events
	cache   cache.Repository

	mu    sync.Mutex
	db    *sql.DB
	stmts *statementCache

	tx            *sql.Tx
	depth         int
	afterCommit   []func(context.Context)
	afterRollBack []func(context.Context)

	pretending bool
	pretended  []QueryEvent
}

var _ builder.Conn = (*Connection)(nil)

// NewConnection creates a connection. Nothing is opened until first use.
func NewConnection(name string, cfg Config, opts ...Option) (*Connection, error) {
	g, err := newGrammar(cfg)
	if err != nil {
		return nil, &ConnectionError{Name: name, Err: err}
	}
	c := &Connection{
		name:    name,
		cfg:     cfg,
		grammar: g,
		driver:  driverName(g.Dialect()),
		open:    sql.Open,
		stmts:   newStatementCache(cfg.StatementCache),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.events == nil {
		c.events = NewEvents()
	}
	if cfg.SlowQuery > 0 {
		slow := SlowQueryListener(cfg.SlowQuery)
		c.events.Listen(func(ctx context.Context, ev QueryEvent) {
			if ev.Connection == name {
				slow(ctx, ev)
			}
		})
	}
	return c, nil
}

// Name returns the connection name.
func (c *Connection) Name() string { return c.name }

// Config returns the connection configuration.
func (c *Connection) Config() Config { return c.cfg }

// Grammar returns the dialect grammar.
func (c *Connection) Grammar() grammar.Grammar { return c.grammar }

// Events returns the events registry.
func (c *Connection) Events() *Events { return c.events }

// Cache returns the attached cache repository, if any.
func (c *Connection) Cache() cache.Repository { return c.cache }

// Table starts a query builder against table.
func (c *Connection) Table(table string) *builder.Builder {
	b := builder.New(c.grammar, c).From(table)
	if c.cache != nil {
		b.WithCache(c.cache)
	}
	return b
}

// Query starts a query builder without a table.
func (c *Connection) Query() *builder.Builder {
	return c.Table("")
}

// Connect opens the handle and runs the session setup statements. It does nothing when
// already connected.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Connection) connectLocked(ctx context.Context) error {
	if c.db != nil {
		return nil
	}
	dsn, err := buildDSN(c.grammar.Dialect(), c.cfg)
	if err != nil {
		return &ConnectionError{Name: c.name, Err: err}
	}
	init, err := initStatements(c.grammar.Dialect(), c.cfg)
	if err != nil {
		return &ConnectionError{Name: c.name, Err: err}
	}
	db, err := c.open(c.driver, dsn)
	if err != nil {
		return &ConnectionError{Name: c.name, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &ConnectionError{Name: c.name, Err: err}
	}
	for _, stmt := range init {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return &ConnectionError{Name: c.name, Err: fmt.Errorf("%s: %w", stmt, err)}
		}
	}
	debug.Debug("database connected", "connection", c.name, "driver", c.driver)
	c.db = db
	return nil
}

// Disconnect clears the statement cache and closes the handle. Open transactions are not
// rolled back; callers must finish them first.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts.clear()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Connected reports whether the handle is open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db != nil
}

// DB returns the handle, connecting first if needed.
func (c *Connection) DB(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.db, nil
}

// Select runs a query and returns every row. Byte slices are returned as strings.
func (c *Connection) Select(ctx context.Context, query string, bindings []any) ([]Row, error) {
	var out []Row
	err := c.run(ctx, query, bindings, func(ctx context.Context, q string) error {
		rows, err := c.queryRows(ctx, q, bindings)
		if err != nil {
			return err
		}
		out, err = scanRows(rows)
		return err
	})
	if out == nil {
		out = []Row{}
	}
	return out, err
}

// SelectOne returns the first row of a query or nil.
func (c *Connection) SelectOne(ctx context.Context, query string, bindings []any) (Row, error) {
	rows, err := c.Select(ctx, query, bindings)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Insert runs an insert statement.
func (c *Connection) Insert(ctx context.Context, query string, bindings []any) error {
	return c.Statement(ctx, query, bindings)
}

// InsertGetID runs an insert and returns the generated key, through a returning clause where
// the dialect has one and the driver's last insert id otherwise.
func (c *Connection) InsertGetID(ctx context.Context, query string, bindings []any, key string) (int64, error) {
	if c.grammar.SupportsReturning() {
		row, err := c.SelectOne(ctx, query, bindings)
		if err != nil || row == nil {
			return 0, err
		}
		return cast.ToInt64E(row[key])
	}
	var id int64
	err := c.run(ctx, query, bindings, func(ctx context.Context, q string) error {
		res, err := c.exec(ctx, q, bindings)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Affecting runs a statement and returns the number of affected rows.
func (c *Connection) Affecting(ctx context.Context, query string, bindings []any) (int64, error) {
	var n int64
	err := c.run(ctx, query, bindings, func(ctx context.Context, q string) error {
		res, err := c.exec(ctx, q, bindings)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Statement runs a statement, discarding its result.
func (c *Connection) Statement(ctx context.Context, query string, bindings []any) error {
	return c.run(ctx, query, bindings, func(ctx context.Context, q string) error {
		_, err := c.exec(ctx, q, bindings)
		return err
	})
}

// Unprepared runs raw SQL without preparing it, for statements drivers refuse to prepare.
func (c *Connection) Unprepared(ctx context.Context, query string) error {
	return c.run(ctx, query, nil, func(ctx context.Context, q string) error {
		ex, err := c.executor(ctx)
		if err != nil {
			return err
		}
		_, err = ex.ExecContext(ctx, q)
		return err
	})
}

// Pretend runs fn with execution disabled and returns the statements it would have run.
// Selects return no rows and writes affect nothing.
func (c *Connection) Pretend(ctx context.Context, fn func(ctx context.Context) error) ([]QueryEvent, error) {
	c.mu.Lock()
	c.pretending = true
	c.pretended = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pretending = false
		c.mu.Unlock()
	}()
	err := fn(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pretended, err
}

// run executes fn with the dialect-bound SQL, wraps failures and dispatches the event.
func (c *Connection) run(ctx context.Context, query string, bindings []any, fn func(ctx context.Context, query string) error) error {
	c.mu.Lock()
	if c.pretending {
		c.pretended = append(c.pretended, QueryEvent{Connection: c.name, SQL: query, Bindings: bindings})
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	bound := c.grammar.Rebind(query)
	start := time.Now()
	if err := fn(ctx, bound); err != nil {
		return &QueryError{Connection: c.name, SQL: query, Bindings: bindings, Err: err}
	}
	c.events.dispatch(ctx, QueryEvent{Connection: c.name, SQL: query, Bindings: bindings, Elapsed: time.Since(start)})
	return nil
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// executor returns the active transaction or the handle.
func (c *Connection) executor(ctx context.Context) (execQuerier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return c.tx, nil
	}
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.db, nil
}

// exec runs a statement. Inside a transaction it runs on the transaction directly; outside,
// through a cached prepared statement.
func (c *Connection) exec(ctx context.Context, query string, bindings []any) (sql.Result, error) {
	if tx := c.currentTx(); tx != nil {
		return tx.ExecContext(ctx, query, bindings...)
	}
	stmt, err := c.prepared(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, bindings...)
}

func (c *Connection) queryRows(ctx context.Context, query string, bindings []any) (*sql.Rows, error) {
	if tx := c.currentTx(); tx != nil {
		return tx.QueryContext(ctx, query, bindings...)
	}
	stmt, err := c.prepared(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, bindings...)
}

func (c *Connection) currentTx() *sql.Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx
}

// scanRows reads every row into a map, converting byte slices to strings.
func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

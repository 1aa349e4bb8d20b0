// Package grammar compiles query ASTs into dialect-specific SQL and positional bindings.
//
// Every grammar emits `?` placeholders whose count always equals the number of returned
// bindings; Rebind converts them to the dialect's native marker right before execution.
package grammar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/satishbabariya/gorel/query/ast"
)

// Dialect identifies a SQL dialect.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "pgsql"
	SQLite   Dialect = "sqlite"
)

var (
	// ErrUnsupported is returned when a dialect lacks a requested feature.
	ErrUnsupported = errors.New("operation not supported by dialect")

	// ErrUnknownWhere is returned for a where node the compiler cannot dispatch.
	ErrUnknownWhere = errors.New("unknown where clause type")

	// ErrMissingTable is returned when a statement is compiled without a table.
	ErrMissingTable = errors.New("query has no table")

	// ErrUnknownDialect is returned by New for an unrecognized dialect name.
	ErrUnknownDialect = errors.New("unknown dialect")
)

// Statement is a compiled statement with its bindings.
type Statement struct {
	SQL      string
	Bindings []any
}

// Grammar compiles ASTs for one dialect. Implementations hold no mutable state.
type Grammar interface {
	// Dialect returns the dialect identifier.
	Dialect() Dialect

	// Wrap quotes an identifier, handling `*`, `table.column`, `expr as alias` and JSON selectors.
	Wrap(value string) string
	// WrapTable quotes a table reference.
	WrapTable(table string) string
	// Columnize wraps and comma-joins columns.
	Columnize(columns []string) string
	// Parameter returns the SQL for a bound value: `?`, or the text of a raw expression.
	Parameter(value any) string

	CompileSelect(q *ast.Query) (string, []any, error)
	CompileExists(q *ast.Query) (string, []any, error)
	CompileInsert(q *ast.Query, rows []map[string]any) (string, []any, error)
	CompileInsertGetID(q *ast.Query, row map[string]any, key string) (string, []any, error)
	CompileInsertOrIgnore(q *ast.Query, rows []map[string]any) (string, []any, error)
	CompileUpsert(q *ast.Query, rows []map[string]any, uniqueBy, update []string) (string, []any, error)
	CompileUpdate(q *ast.Query, values map[string]any) (string, []any, error)
	CompileDelete(q *ast.Query) (string, []any, error)
	CompileTruncate(q *ast.Query) ([]Statement, error)
	CompileRandom(seed string) string

	CompileSavepoint(name string) string
	CompileSavepointRelease(name string) string
	CompileSavepointRollBack(name string) string

	// PrepareJSONContainsBinding converts a containment value to the dialect's binding form.
	PrepareJSONContainsBinding(value any) any
	// Rebind converts `?` placeholders to the dialect's native form.
	Rebind(sql string) string
	// SupportsReturning reports whether insert ... returning is available.
	SupportsReturning() bool
	// DateFormat is the layout used to store timestamps.
	DateFormat() string
}

// New returns the grammar for a dialect name. Accepted names include driver aliases.
func New(name string) (Grammar, error) {
	switch strings.ToLower(name) {
	case "mysql", "mariadb":
		return NewMySQL(), nil
	case "pgsql", "postgres", "postgresql":
		return NewPostgres(), nil
	case "sqlite", "sqlite3":
		return NewSQLite(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
}

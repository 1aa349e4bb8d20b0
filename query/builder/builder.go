// Package builder provides a fluent query builder API.
//
// A Builder accumulates a query AST and its bindings, compiles it through a dialect grammar
// and executes it through a connection. Building methods mutate and return the receiver; use
// Clone to branch a query. The first build error is kept and returned by ToSQL and by every
// execution method.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/satishbabariya/gorel/query/ast"
	"github.com/satishbabariya/gorel/query/cache"
	"github.com/satishbabariya/gorel/query/grammar"
)

var (
	ErrInvalidOperator  = errors.New("invalid operator")
	ErrInvalidDirection = errors.New("order direction must be asc or desc")
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrInvalidSubquery  = errors.New("subquery must be a *Builder or func(*Builder)")
	ErrNotFound         = errors.New("no rows found")
	ErrCursorColumn     = errors.New("cursor column is not sortable")
	ErrMissingOrder     = errors.New("chunking requires an order by clause")
	ErrNoConnection     = errors.New("builder has no connection")

	// ErrStopChunk stops Chunk without reporting an error when returned by the callback.
	ErrStopChunk = errors.New("stop chunk")
)

// Row is a fetched row keyed by column name.
type Row = map[string]any

// Conn executes compiled statements.
type Conn interface {
	Grammar() grammar.Grammar
	Select(ctx context.Context, query string, bindings []any) ([]Row, error)
	InsertGetID(ctx context.Context, query string, bindings []any, key string) (int64, error)
	Affecting(ctx context.Context, query string, bindings []any) (int64, error)
	Statement(ctx context.Context, query string, bindings []any) error
}

var operators = map[string]bool{
	"=": true, "<": true, ">": true, "<=": true, ">=": true, "<>": true, "!=": true, "<=>": true,
	"like": true, "like binary": true, "not like": true, "ilike": true, "not ilike": true,
	"&": true, "|": true, "^": true, "<<": true, ">>": true, "&~": true,
	"rlike": true, "not rlike": true, "regexp": true, "not regexp": true,
	"~": true, "~*": true, "!~": true, "!~*": true, "similar to": true, "not similar to": true,
	"is": true, "is not": true, "@>": true, "<@": true,
}

// Builder accumulates a query.
type Builder struct {
	conn     Conn
	grammar  grammar.Grammar
	query    *ast.Query
	err      error
	scope    string
	sortable map[string]bool

	cache      cache.Repository
	cacheTTL   time.Duration
	cacheStale bool
	cacheTags  []string
}

// New creates a builder. conn may be nil for compile-only use.
func New(g grammar.Grammar, conn Conn) *Builder {
	return &Builder{conn: conn, grammar: g, query: &ast.Query{}}
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	c := *b
	c.query = b.query.Clone()
	c.cacheTags = append([]string(nil), b.cacheTags...)
	if b.sortable != nil {
		c.sortable = make(map[string]bool, len(b.sortable))
		for k := range b.sortable {
			c.sortable[k] = true
		}
	}
	return &c
}

// newQuery returns an empty builder sharing the connection and grammar.
func (b *Builder) newQuery() *Builder {
	return New(b.grammar, b.conn)
}

// Grammar returns the builder's grammar.
func (b *Builder) Grammar() grammar.Grammar { return b.grammar }

// Conn returns the builder's connection.
func (b *Builder) Conn() Conn { return b.conn }

// Query exposes the accumulated AST.
func (b *Builder) Query() *ast.Query { return b.query }

// Err returns the first build error.
func (b *Builder) Err() error { return b.err }

// AddError records err unless an earlier error is already recorded.
func (b *Builder) AddError(err error) *Builder {
	if b.err == nil && err != nil {
		b.err = err
	}
	return b
}

// ToSQL compiles the query into SQL and bindings.
func (b *Builder) ToSQL() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	return b.grammar.CompileSelect(b.query)
}

// Bindings returns the flattened bindings in placeholder order.
func (b *Builder) Bindings() []any {
	return b.query.Bindings.Flatten()
}

// From sets the table.
func (b *Builder) From(table string) *Builder {
	b.query.Table = table
	return b
}

// Table is an alias for From.
func (b *Builder) Table(table string) *Builder { return b.From(table) }

// TableName returns the table without any alias.
func (b *Builder) TableName() string {
	table := b.query.Table
	if i := strings.Index(strings.ToLower(table), " as "); i >= 0 {
		return strings.TrimSpace(table[:i])
	}
	return table
}

// Select replaces the select list.
func (b *Builder) Select(columns ...string) *Builder {
	b.query.Columns = nil
	b.query.Bindings.Set(ast.ClauseSelect, nil)
	return b.AddSelect(columns...)
}

// AddSelect appends columns to the select list.
func (b *Builder) AddSelect(columns ...string) *Builder {
	for _, c := range columns {
		b.query.Columns = append(b.query.Columns, ast.Column{Name: c})
	}
	return b
}

// SelectRaw appends a raw select expression.
func (b *Builder) SelectRaw(sql string, bindings ...any) *Builder {
	raw, err := ast.NewRaw(sql, bindings...)
	if err != nil {
		return b.AddError(err)
	}
	b.query.Columns = append(b.query.Columns, ast.Column{Expr: &raw})
	b.query.Bindings.Add(ast.ClauseSelect, raw.Bindings()...)
	return b
}

// SelectSub appends `(subquery) as alias` to the select list.
func (b *Builder) SelectSub(sub any, alias string) *Builder {
	raw, err := b.subRaw(sub, alias)
	if err != nil {
		return b.AddError(err)
	}
	b.query.Columns = append(b.query.Columns, ast.Column{Expr: &raw})
	b.query.Bindings.Add(ast.ClauseSelect, raw.Bindings()...)
	return b
}

// Distinct makes the select distinct.
func (b *Builder) Distinct() *Builder {
	b.query.Distinct = true
	return b
}

// Comment prefixes the compiled select with an SQL comment.
func (b *Builder) Comment(text string) *Builder {
	b.query.Comment = text
	return b
}

// subquery resolves a *Builder or a callback into a builder.
func (b *Builder) subquery(sub any) (*Builder, error) {
	switch s := sub.(type) {
	case *Builder:
		return s, s.err
	case func(*Builder):
		q := b.newQuery()
		s(q)
		return q, q.err
	}
	return nil, fmt.Errorf("%w: got %T", ErrInvalidSubquery, sub)
}

// compileSub resolves and compiles a subquery, returning its AST and bindings.
func (b *Builder) compileSub(sub any) (*ast.Query, []any, error) {
	q, err := b.subquery(sub)
	if err != nil {
		return nil, nil, err
	}
	query := q.query.Clone()
	_, bindings, err := b.grammar.CompileSelect(query)
	if err != nil {
		return nil, nil, err
	}
	return query, bindings, nil
}

// subRaw compiles a subquery into `(sql) as alias`.
func (b *Builder) subRaw(sub any, alias string) (ast.Raw, error) {
	q, err := b.subquery(sub)
	if err != nil {
		return ast.Raw{}, err
	}
	sql, bindings, err := q.ToSQL()
	if err != nil {
		return ast.Raw{}, err
	}
	return ast.NewRaw("("+sql+") as "+b.grammar.Wrap(alias), bindings...)
}

// JoinClause builds the conditions of a join.
type JoinClause struct {
	b *Builder
}

// On adds a column comparison joined with and.
func (j *JoinClause) On(first string, args ...string) *JoinClause {
	j.b.WhereColumn(first, args...)
	return j
}

// OrOn adds a column comparison joined with or.
func (j *JoinClause) OrOn(first string, args ...string) *JoinClause {
	j.b.OrWhereColumn(first, args...)
	return j
}

// Where adds a bound value condition to the join.
func (j *JoinClause) Where(column string, args ...any) *JoinClause {
	j.b.Where(column, args...)
	return j
}

// OrWhere adds a bound value condition joined with or.
func (j *JoinClause) OrWhere(column string, args ...any) *JoinClause {
	j.b.OrWhere(column, args...)
	return j
}

// WhereNull adds an is null condition to the join.
func (j *JoinClause) WhereNull(column string) *JoinClause {
	j.b.WhereNull(column)
	return j
}

// WhereIn adds an in condition to the join.
func (j *JoinClause) WhereIn(column string, values any) *JoinClause {
	j.b.WhereIn(column, values)
	return j
}

func (b *Builder) addJoin(kind, table string, expr *ast.Raw, fn func(*JoinClause)) *Builder {
	join := &ast.Join{Type: kind, Table: table, Expr: expr}
	if expr != nil {
		b.query.Bindings.Add(ast.ClauseJoin, expr.Bindings()...)
	}
	if fn != nil {
		jc := &JoinClause{b: b.newQuery()}
		fn(jc)
		if jc.b.err != nil {
			return b.AddError(jc.b.err)
		}
		join.Wheres = jc.b.query.Wheres
		b.query.Bindings.Add(ast.ClauseJoin, jc.b.query.Bindings.Of(ast.ClauseWhere)...)
	}
	b.query.Joins = append(b.query.Joins, join)
	return b
}

func onColumns(first string, args []string) func(*JoinClause) {
	return func(j *JoinClause) { j.On(first, args...) }
}

// Join adds an inner join on `first [operator] second`.
func (b *Builder) Join(table, first string, args ...string) *Builder {
	return b.addJoin("inner", table, nil, onColumns(first, args))
}

// LeftJoin adds a left join.
func (b *Builder) LeftJoin(table, first string, args ...string) *Builder {
	return b.addJoin("left", table, nil, onColumns(first, args))
}

// RightJoin adds a right join.
func (b *Builder) RightJoin(table, first string, args ...string) *Builder {
	return b.addJoin("right", table, nil, onColumns(first, args))
}

// CrossJoin adds a cross join.
func (b *Builder) CrossJoin(table string) *Builder {
	return b.addJoin("cross", table, nil, nil)
}

// JoinFunc adds a join of the given type whose conditions are built by fn.
func (b *Builder) JoinFunc(kind, table string, fn func(*JoinClause)) *Builder {
	return b.addJoin(kind, table, nil, fn)
}

// JoinWhere adds an inner join comparing a column to a bound value.
func (b *Builder) JoinWhere(table, column, operator string, value any) *Builder {
	return b.addJoin("inner", table, nil, func(j *JoinClause) { j.Where(column, operator, value) })
}

// JoinSub adds an inner join against `(subquery) as alias`.
func (b *Builder) JoinSub(sub any, alias, first string, args ...string) *Builder {
	return b.joinSub("inner", sub, alias, first, args)
}

// LeftJoinSub adds a left join against `(subquery) as alias`.
func (b *Builder) LeftJoinSub(sub any, alias, first string, args ...string) *Builder {
	return b.joinSub("left", sub, alias, first, args)
}

func (b *Builder) joinSub(kind string, sub any, alias, first string, args []string) *Builder {
	raw, err := b.subRaw(sub, alias)
	if err != nil {
		return b.AddError(err)
	}
	return b.addJoin(kind, alias, &raw, onColumns(first, args))
}

// GroupBy adds group by columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	for _, c := range columns {
		b.query.Groups = append(b.query.Groups, ast.Column{Name: c})
	}
	return b
}

// GroupByRaw adds a raw group by expression.
func (b *Builder) GroupByRaw(sql string, bindings ...any) *Builder {
	raw, err := ast.NewRaw(sql, bindings...)
	if err != nil {
		return b.AddError(err)
	}
	b.query.Groups = append(b.query.Groups, ast.Column{Expr: &raw})
	b.query.Bindings.Add(ast.ClauseGroup, raw.Bindings()...)
	return b
}

func (b *Builder) addHaving(w ast.Where, boolean ast.Boolean, bindings []any) *Builder {
	m := ast.MetaOf(w)
	m.Boolean = boolean
	m.Count = len(bindings)
	b.query.Havings = append(b.query.Havings, w)
	b.query.Bindings.Add(ast.ClauseHaving, bindings...)
	return b
}

func (b *Builder) having(boolean ast.Boolean, column string, args []any) *Builder {
	op, value, err := operatorAndValue(args)
	if err != nil {
		return b.AddError(err)
	}
	return b.addHaving(&ast.Basic{Column: column, Operator: op, Value: value}, boolean, ast.ValueBindings(value))
}

// Having adds a having condition.
func (b *Builder) Having(column string, args ...any) *Builder {
	return b.having(ast.And, column, args)
}

// OrHaving adds a having condition joined with or.
func (b *Builder) OrHaving(column string, args ...any) *Builder {
	return b.having(ast.Or, column, args)
}

// HavingRaw adds a raw having condition.
func (b *Builder) HavingRaw(sql string, bindings ...any) *Builder {
	raw, err := ast.NewRaw(sql, bindings...)
	if err != nil {
		return b.AddError(err)
	}
	return b.addHaving(&ast.RawClause{Expr: raw}, ast.And, raw.Bindings())
}

// OrHavingRaw adds a raw having condition joined with or.
func (b *Builder) OrHavingRaw(sql string, bindings ...any) *Builder {
	raw, err := ast.NewRaw(sql, bindings...)
	if err != nil {
		return b.AddError(err)
	}
	return b.addHaving(&ast.RawClause{Expr: raw}, ast.Or, raw.Bindings())
}

// HavingBetween adds a having between condition.
func (b *Builder) HavingBetween(column string, low, high any) *Builder {
	bindings := append(ast.ValueBindings(low), ast.ValueBindings(high)...)
	return b.addHaving(&ast.Between{Column: column, Min: low, Max: high}, ast.And, bindings)
}

// OrderBy adds an order by column. Direction defaults to asc.
func (b *Builder) OrderBy(column string, direction ...string) *Builder {
	dir := "asc"
	if len(direction) > 0 {
		dir = strings.ToLower(strings.TrimSpace(direction[0]))
	}
	if dir != "asc" && dir != "desc" {
		return b.AddError(fmt.Errorf("%w: %q", ErrInvalidDirection, dir))
	}
	b.query.Orders = append(b.query.Orders, ast.Order{Column: column, Direction: dir})
	return b
}

// OrderByDesc adds a descending order by column.
func (b *Builder) OrderByDesc(column string) *Builder {
	return b.OrderBy(column, "desc")
}

// OrderByRaw adds a raw order by expression.
func (b *Builder) OrderByRaw(sql string, bindings ...any) *Builder {
	raw, err := ast.NewRaw(sql, bindings...)
	if err != nil {
		return b.AddError(err)
	}
	b.query.Orders = append(b.query.Orders, ast.Order{Expr: &raw})
	b.query.Bindings.Add(ast.ClauseOrder, raw.Bindings()...)
	return b
}

// Latest orders by column descending; column defaults to created_at.
func (b *Builder) Latest(column ...string) *Builder {
	if len(column) == 0 {
		return b.OrderByDesc("created_at")
	}
	return b.OrderByDesc(column[0])
}

// Oldest orders by column ascending; column defaults to created_at.
func (b *Builder) Oldest(column ...string) *Builder {
	if len(column) == 0 {
		return b.OrderBy("created_at")
	}
	return b.OrderBy(column[0])
}

// InRandomOrder orders rows randomly. MySQL honors the seed.
func (b *Builder) InRandomOrder(seed ...string) *Builder {
	s := ""
	if len(seed) > 0 {
		s = seed[0]
	}
	return b.OrderByRaw(b.grammar.CompileRandom(s))
}

// Reorder drops existing orders, then optionally orders by column.
func (b *Builder) Reorder(column ...string) *Builder {
	b.query.Orders = nil
	b.query.Bindings.Set(ast.ClauseOrder, nil)
	if len(column) > 0 {
		return b.OrderBy(column[0], column[1:]...)
	}
	return b
}

// Limit sets the maximum number of rows. A negative value removes the limit.
func (b *Builder) Limit(n int) *Builder {
	if n < 0 {
		b.query.Limit = nil
		return b
	}
	b.query.Limit = &n
	return b
}

// Offset sets the number of rows to skip.
func (b *Builder) Offset(n int) *Builder {
	if n < 0 {
		n = 0
	}
	b.query.Offset = &n
	return b
}

// Take is an alias for Limit.
func (b *Builder) Take(n int) *Builder { return b.Limit(n) }

// Skip is an alias for Offset.
func (b *Builder) Skip(n int) *Builder { return b.Offset(n) }

// ForPage limits the query to a 1-based page.
func (b *Builder) ForPage(page, perPage int) *Builder {
	if page < 1 {
		page = 1
	}
	return b.Offset((page - 1) * perPage).Limit(perPage)
}

// WithCTE adds a common table expression.
func (b *Builder) WithCTE(name string, sub any, columns ...string) *Builder {
	return b.withCTE(name, sub, columns, false)
}

// WithRecursiveCTE adds a recursive common table expression.
func (b *Builder) WithRecursiveCTE(name string, sub any, columns ...string) *Builder {
	return b.withCTE(name, sub, columns, true)
}

func (b *Builder) withCTE(name string, sub any, columns []string, recursive bool) *Builder {
	q, bindings, err := b.compileSub(sub)
	if err != nil {
		return b.AddError(err)
	}
	b.query.CTEs = append(b.query.CTEs, ast.CTE{Name: name, Columns: columns, Query: q, Recursive: recursive})
	b.query.Bindings.Add(ast.ClauseExpressions, bindings...)
	return b
}

// Union combines the query with another, removing duplicates.
func (b *Builder) Union(sub any) *Builder { return b.union(sub, false) }

// UnionAll combines the query with another, keeping duplicates.
func (b *Builder) UnionAll(sub any) *Builder { return b.union(sub, true) }

func (b *Builder) union(sub any, all bool) *Builder {
	q, bindings, err := b.compileSub(sub)
	if err != nil {
		return b.AddError(err)
	}
	b.query.Unions = append(b.query.Unions, ast.Union{Query: q, All: all})
	b.query.Bindings.Add(ast.ClauseUnion, bindings...)
	return b
}

// LockForUpdate adds an exclusive row lock.
func (b *Builder) LockForUpdate() *Builder {
	b.query.Lock = ast.LockForUpdate
	return b
}

// SharedLock adds a shared row lock.
func (b *Builder) SharedLock() *Builder {
	b.query.Lock = ast.LockShared
	return b
}

// Sortable declares the columns CursorPaginate may order by.
func (b *Builder) Sortable(columns ...string) *Builder {
	if b.sortable == nil {
		b.sortable = map[string]bool{}
	}
	for _, c := range columns {
		b.sortable[c] = true
	}
	return b
}

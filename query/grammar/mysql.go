package grammar

import (
	"strings"

	"github.com/satishbabariya/gorel/query/ast"
)

// mysqlNoLimit is the largest LIMIT MySQL accepts; it stands in for "no limit" when
// only an offset is given.
const mysqlNoLimit = "18446744073709551615"

const upsertAlias = "gorel_upsert_alias"

// MySQLGrammar compiles for MySQL and MariaDB.
type MySQLGrammar struct {
	base
	rowAlias bool
}

// MySQLOption configures a MySQLGrammar.
type MySQLOption func(*MySQLGrammar)

// WithRowAlias makes upserts reference inserted values through a row alias
// (`values (...) as alias`) instead of the deprecated VALUES() function. Requires MySQL 8.0.19+.
func WithRowAlias() MySQLOption {
	return func(g *MySQLGrammar) { g.rowAlias = true }
}

func NewMySQL(opts ...MySQLOption) *MySQLGrammar {
	g := &MySQLGrammar{}
	g.self = g
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *MySQLGrammar) Dialect() Dialect { return MySQL }

func (g *MySQLGrammar) quote(segment string) string {
	return "`" + strings.ReplaceAll(segment, "`", "``") + "`"
}

func (g *MySQLGrammar) wrapJSONSelector(value string) string {
	field, path := splitJSON(value)
	return "json_unquote(json_extract(" + g.wrapSegments(field) + ", " + jsonPath(path) + "))"
}

func (g *MySQLGrammar) jsonFieldAndPath(column string) string {
	field, path := splitJSON(column)
	if len(path) == 0 {
		return g.wrapSegments(field)
	}
	return g.wrapSegments(field) + ", " + jsonPath(path)
}

func (g *MySQLGrammar) whereDatePart(w *ast.DatePart) (string, error) {
	return string(w.Part) + "(" + g.Wrap(w.Column) + ") " + w.Operator + " " + g.Parameter(w.Value), nil
}

func (g *MySQLGrammar) whereRegexp(w *ast.Regexp) (string, error) {
	op := " regexp "
	if w.Not {
		op = " not regexp "
	}
	return g.Wrap(w.Column) + op + g.Parameter(w.Pattern), nil
}

func (g *MySQLGrammar) whereFullText(w *ast.FullText) (string, error) {
	mode := "in natural language mode"
	if w.Boolean {
		mode = "in boolean mode"
	}
	return "match (" + g.Columnize(w.Columns) + ") against (" + g.Parameter(w.Value) + " " + mode + ")", nil
}

func (g *MySQLGrammar) whereJSONContains(w *ast.JSONContains) (string, error) {
	sql := "json_contains(" + g.jsonFieldAndPath(w.Column) + ", " + g.Parameter(w.Value) + ")"
	if w.Not {
		return "not " + sql, nil
	}
	return sql, nil
}

func (g *MySQLGrammar) whereJSONLength(w *ast.JSONLength) (string, error) {
	return "json_length(" + g.jsonFieldAndPath(w.Column) + ") " + w.Operator + " " + g.Parameter(w.Value), nil
}

func (g *MySQLGrammar) compileLimitOffset(q *ast.Query) string {
	return limitOffset(q, mysqlNoLimit)
}

func (g *MySQLGrammar) compileLock(q *ast.Query) string {
	switch q.Lock {
	case ast.LockForUpdate:
		return "for update"
	case ast.LockShared:
		return "lock in share mode"
	}
	return ""
}

func (g *MySQLGrammar) compileUnions(q *ast.Query, sql string) (string, error) {
	return parenthesizedUnions(&g.base, q, sql)
}

func (g *MySQLGrammar) CompileRandom(seed string) string {
	return "RAND(" + seed + ")"
}

func (g *MySQLGrammar) CompileInsert(q *ast.Query, rows []map[string]any) (string, []any, error) {
	if q.Table == "" {
		return "", nil, ErrMissingTable
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "insert into " + g.WrapTable(q.Table) + " () values ()", []any{}, nil
	}
	return g.base.CompileInsert(q, rows)
}

func (g *MySQLGrammar) CompileInsertGetID(q *ast.Query, row map[string]any, _ string) (string, []any, error) {
	return g.CompileInsert(q, []map[string]any{row})
}

func (g *MySQLGrammar) CompileInsertOrIgnore(q *ast.Query, rows []map[string]any) (string, []any, error) {
	sql, bindings, err := g.CompileInsert(q, rows)
	if err != nil {
		return "", nil, err
	}
	return strings.Replace(sql, "insert", "insert ignore", 1), bindings, nil
}

func (g *MySQLGrammar) CompileUpsert(q *ast.Query, rows []map[string]any, _ []string, update []string) (string, []any, error) {
	if len(update) == 0 {
		return g.CompileInsertOrIgnore(q, rows)
	}
	sql, bindings, err := g.CompileInsert(q, rows)
	if err != nil {
		return "", nil, err
	}
	set := make([]string, len(update))
	for i, c := range update {
		if g.rowAlias {
			set[i] = g.Wrap(c) + " = " + g.quote(upsertAlias) + "." + g.Wrap(c)
		} else {
			set[i] = g.Wrap(c) + " = values(" + g.Wrap(c) + ")"
		}
	}
	if g.rowAlias {
		sql += " as " + g.quote(upsertAlias)
	}
	return sql + " on duplicate key update " + strings.Join(set, ", "), bindings, nil
}

// compileUpdate uses MySQL's native multi-table update; join bindings precede the values.
func (g *MySQLGrammar) compileUpdate(q *ast.Query, set string, values []any) (string, []any, error) {
	if len(q.Joins) == 0 {
		sql, bindings, err := g.plainUpdate(q, set, values)
		if err != nil {
			return "", nil, err
		}
		tail := strings.TrimSpace(g.compileOrders(q.Orders) + " " + limitOffset(&ast.Query{Limit: q.Limit}, ""))
		if tail != "" {
			sql += " " + tail
		}
		return sql, concat(bindings, q.Bindings.Of(ast.ClauseOrder)), nil
	}
	joins, err := g.compileJoins(q.Joins)
	if err != nil {
		return "", nil, err
	}
	wheres, err := g.compileWheres(q.Wheres)
	if err != nil {
		return "", nil, err
	}
	sql := strings.TrimSpace("update " + g.WrapTable(q.Table) + " " + joins + " set " + set + " " + wheres)
	return sql, concat(q.Bindings.Of(ast.ClauseJoin), values, q.Bindings.Of(ast.ClauseWhere)), nil
}

func (g *MySQLGrammar) compileDelete(q *ast.Query) (string, []any, error) {
	if len(q.Joins) == 0 {
		sql, bindings, err := g.plainDelete(q)
		if err != nil {
			return "", nil, err
		}
		tail := strings.TrimSpace(g.compileOrders(q.Orders) + " " + limitOffset(&ast.Query{Limit: q.Limit}, ""))
		if tail != "" {
			sql += " " + tail
		}
		return sql, concat(bindings, q.Bindings.Of(ast.ClauseOrder)), nil
	}
	joins, err := g.compileJoins(q.Joins)
	if err != nil {
		return "", nil, err
	}
	wheres, err := g.compileWheres(q.Wheres)
	if err != nil {
		return "", nil, err
	}
	alias := g.Wrap(tableAlias(q.Table))
	sql := strings.TrimSpace("delete " + alias + " from " + g.WrapTable(q.Table) + " " + joins + " " + wheres)
	return sql, concat(q.Bindings.Of(ast.ClauseJoin), q.Bindings.Of(ast.ClauseWhere)), nil
}

func (g *MySQLGrammar) CompileTruncate(q *ast.Query) ([]Statement, error) {
	if q.Table == "" {
		return nil, ErrMissingTable
	}
	return []Statement{{SQL: "truncate table " + g.WrapTable(q.Table), Bindings: []any{}}}, nil
}

// parenthesizedUnions renders `(base) union [all] (other)`.
func parenthesizedUnions(g *base, q *ast.Query, sql string) (string, error) {
	var b strings.Builder
	b.WriteString("(" + sql + ")")
	for _, u := range q.Unions {
		sub, err := g.compileSubquery(u.Query)
		if err != nil {
			return "", err
		}
		if u.All {
			b.WriteString(" union all ")
		} else {
			b.WriteString(" union ")
		}
		b.WriteString("(" + sub + ")")
	}
	return b.String(), nil
}

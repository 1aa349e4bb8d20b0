package grammar

import (
	"strings"

	"github.com/satishbabariya/gorel/query/ast"
)

var sqliteDateFormats = map[ast.Part]string{
	ast.PartDate:      "%Y-%m-%d",
	ast.PartTime:      "%H:%M:%S",
	ast.PartDay:       "%d",
	ast.PartMonth:     "%m",
	ast.PartYear:      "%Y",
	ast.PartDayOfWeek: "%w",
}

// SQLiteGrammar compiles for SQLite.
type SQLiteGrammar struct {
	base
}

func NewSQLite() *SQLiteGrammar {
	g := &SQLiteGrammar{}
	g.self = g
	return g
}

func (g *SQLiteGrammar) Dialect() Dialect { return SQLite }

func (g *SQLiteGrammar) quote(segment string) string {
	return `"` + strings.ReplaceAll(segment, `"`, `""`) + `"`
}

func (g *SQLiteGrammar) jsonFieldAndPath(column string) string {
	field, path := splitJSON(column)
	if len(path) == 0 {
		return g.wrapSegments(field)
	}
	return g.wrapSegments(field) + ", " + jsonPath(path)
}

func (g *SQLiteGrammar) wrapJSONSelector(value string) string {
	return "json_extract(" + g.jsonFieldAndPath(value) + ")"
}

// PrepareJSONContainsBinding leaves scalars as-is; json_each yields SQL values, not JSON text.
func (g *SQLiteGrammar) PrepareJSONContainsBinding(value any) any { return value }

func (g *SQLiteGrammar) whereDatePart(w *ast.DatePart) (string, error) {
	format, ok := sqliteDateFormats[w.Part]
	if !ok {
		return "", ErrUnsupported
	}
	return "strftime('" + format + "', " + g.Wrap(w.Column) + ") " + w.Operator + " cast(" + g.Parameter(w.Value) + " as text)", nil
}

// whereRegexp requires a REGEXP function registered on the connection.
func (g *SQLiteGrammar) whereRegexp(w *ast.Regexp) (string, error) {
	op := " regexp "
	if w.Not {
		op = " not regexp "
	}
	return g.Wrap(w.Column) + op + g.Parameter(w.Pattern), nil
}

func (g *SQLiteGrammar) whereFullText(*ast.FullText) (string, error) {
	return "", ErrUnsupported
}

func (g *SQLiteGrammar) whereJSONContains(w *ast.JSONContains) (string, error) {
	sql := "exists (select 1 from json_each(" + g.jsonFieldAndPath(w.Column) + ") where " + g.quote("json_each") + "." + g.quote("value") + " is " + g.Parameter(w.Value) + ")"
	if w.Not {
		return "not " + sql, nil
	}
	return sql, nil
}

func (g *SQLiteGrammar) whereJSONLength(w *ast.JSONLength) (string, error) {
	return "json_array_length(" + g.jsonFieldAndPath(w.Column) + ") " + w.Operator + " " + g.Parameter(w.Value), nil
}

func (g *SQLiteGrammar) compileLimitOffset(q *ast.Query) string {
	return limitOffset(q, "-1")
}

// SQLite has no row locks.
func (g *SQLiteGrammar) compileLock(*ast.Query) string { return "" }

// compileUnions renders `select * from (base) union select * from (other)`.
func (g *SQLiteGrammar) compileUnions(q *ast.Query, sql string) (string, error) {
	var b strings.Builder
	b.WriteString("select * from (" + sql + ")")
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
		b.WriteString("select * from (" + sub + ")")
	}
	return b.String(), nil
}

func (g *SQLiteGrammar) CompileInsertOrIgnore(q *ast.Query, rows []map[string]any) (string, []any, error) {
	sql, bindings, err := g.CompileInsert(q, rows)
	if err != nil {
		return "", nil, err
	}
	return strings.Replace(sql, "insert", "insert or ignore", 1), bindings, nil
}

func (g *SQLiteGrammar) CompileUpsert(q *ast.Query, rows []map[string]any, uniqueBy, update []string) (string, []any, error) {
	return g.conflictUpsert(q, rows, uniqueBy, update)
}

// compileUpdate routes joined or limited updates through a rowid subselect.
func (g *SQLiteGrammar) compileUpdate(q *ast.Query, set string, values []any) (string, []any, error) {
	if len(q.Joins) == 0 && q.Limit == nil {
		return g.plainUpdate(q, set, values)
	}
	return g.keyedUpdate(q, set, values, "rowid")
}

func (g *SQLiteGrammar) compileDelete(q *ast.Query) (string, []any, error) {
	if len(q.Joins) == 0 && q.Limit == nil {
		return g.plainDelete(q)
	}
	return g.keyedDelete(q, "rowid")
}

// CompileTruncate resets the autoincrement sequence and deletes every row.
func (g *SQLiteGrammar) CompileTruncate(q *ast.Query) ([]Statement, error) {
	if q.Table == "" {
		return nil, ErrMissingTable
	}
	return []Statement{
		{SQL: "delete from sqlite_sequence where name = ?", Bindings: []any{q.Table}},
		{SQL: "delete from " + g.WrapTable(q.Table), Bindings: []any{}},
	}, nil
}

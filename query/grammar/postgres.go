package grammar

import (
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/satishbabariya/gorel/internal/sqltext"
	"github.com/satishbabariya/gorel/query/ast"
)

// PostgresGrammar compiles for PostgreSQL.
type PostgresGrammar struct {
	base
}

func NewPostgres() *PostgresGrammar {
	g := &PostgresGrammar{}
	g.self = g
	return g
}

func (g *PostgresGrammar) Dialect() Dialect { return Postgres }

func (g *PostgresGrammar) quote(segment string) string {
	return pq.QuoteIdentifier(segment)
}

func (g *PostgresGrammar) Rebind(sql string) string { return sqltext.Rebind(sql) }

func (g *PostgresGrammar) SupportsReturning() bool { return true }

// jsonAccess renders `field->'a'->'b'`, using ->> for the last step when text is wanted.
func (g *PostgresGrammar) jsonAccess(field string, path []string, asText bool) string {
	var b strings.Builder
	b.WriteString(g.wrapSegments(field))
	for i, p := range path {
		if asText && i == len(path)-1 {
			b.WriteString("->>")
		} else {
			b.WriteString("->")
		}
		if _, err := strconv.Atoi(p); err == nil {
			b.WriteString(p)
		} else {
			b.WriteString(pq.QuoteLiteral(p))
		}
	}
	return b.String()
}

func (g *PostgresGrammar) wrapJSONSelector(value string) string {
	field, path := splitJSON(value)
	return g.jsonAccess(field, path, true)
}

func (g *PostgresGrammar) whereDatePart(w *ast.DatePart) (string, error) {
	column := g.Wrap(w.Column)
	var expr string
	switch w.Part {
	case ast.PartDate:
		expr = column + "::date"
	case ast.PartTime:
		expr = column + "::time"
	case ast.PartDayOfWeek:
		expr = "extract(dow from " + column + ")"
	default:
		expr = "extract(" + string(w.Part) + " from " + column + ")"
	}
	return expr + " " + w.Operator + " " + g.Parameter(w.Value), nil
}

func (g *PostgresGrammar) whereRegexp(w *ast.Regexp) (string, error) {
	op := " ~ "
	if w.Not {
		op = " !~ "
	}
	return g.Wrap(w.Column) + op + g.Parameter(w.Pattern), nil
}

func (g *PostgresGrammar) whereFullText(w *ast.FullText) (string, error) {
	language := w.Language
	if language == "" {
		language = "english"
	}
	lang := pq.QuoteLiteral(language)
	vectors := make([]string, len(w.Columns))
	for i, c := range w.Columns {
		vectors[i] = "to_tsvector(" + lang + ", " + g.Wrap(c) + ")"
	}
	return "(" + strings.Join(vectors, " || ") + ") @@ plainto_tsquery(" + lang + ", " + g.Parameter(w.Value) + ")", nil
}

func (g *PostgresGrammar) whereJSONContains(w *ast.JSONContains) (string, error) {
	field, path := splitJSON(w.Column)
	sql := "(" + g.jsonAccess(field, path, false) + ")::jsonb @> " + g.Parameter(w.Value)
	if w.Not {
		return "not " + sql, nil
	}
	return sql, nil
}

func (g *PostgresGrammar) whereJSONLength(w *ast.JSONLength) (string, error) {
	field, path := splitJSON(w.Column)
	return "jsonb_array_length((" + g.jsonAccess(field, path, false) + ")::jsonb) " + w.Operator + " " + g.Parameter(w.Value), nil
}

func (g *PostgresGrammar) compileLimitOffset(q *ast.Query) string {
	return limitOffset(q, "")
}

func (g *PostgresGrammar) compileLock(q *ast.Query) string {
	switch q.Lock {
	case ast.LockForUpdate:
		return "for update"
	case ast.LockShared:
		return "for share"
	}
	return ""
}

func (g *PostgresGrammar) compileUnions(q *ast.Query, sql string) (string, error) {
	return parenthesizedUnions(&g.base, q, sql)
}

func (g *PostgresGrammar) CompileInsertGetID(q *ast.Query, row map[string]any, key string) (string, []any, error) {
	if key == "" {
		key = "id"
	}
	sql, bindings, err := g.CompileInsert(q, []map[string]any{row})
	if err != nil {
		return "", nil, err
	}
	return sql + " returning " + g.Wrap(key), bindings, nil
}

func (g *PostgresGrammar) CompileInsertOrIgnore(q *ast.Query, rows []map[string]any) (string, []any, error) {
	sql, bindings, err := g.CompileInsert(q, rows)
	if err != nil {
		return "", nil, err
	}
	return sql + " on conflict do nothing", bindings, nil
}

func (g *PostgresGrammar) CompileUpsert(q *ast.Query, rows []map[string]any, uniqueBy, update []string) (string, []any, error) {
	return g.conflictUpsert(q, rows, uniqueBy, update)
}

// compileUpdate routes joined or limited updates through a ctid subselect; values precede
// join bindings.
func (g *PostgresGrammar) compileUpdate(q *ast.Query, set string, values []any) (string, []any, error) {
	if len(q.Joins) == 0 && q.Limit == nil {
		return g.plainUpdate(q, set, values)
	}
	return g.keyedUpdate(q, set, values, "ctid")
}

func (g *PostgresGrammar) compileDelete(q *ast.Query) (string, []any, error) {
	if len(q.Joins) == 0 && q.Limit == nil {
		return g.plainDelete(q)
	}
	return g.keyedDelete(q, "ctid")
}

func (g *PostgresGrammar) CompileTruncate(q *ast.Query) ([]Statement, error) {
	if q.Table == "" {
		return nil, ErrMissingTable
	}
	return []Statement{{SQL: "truncate " + g.WrapTable(q.Table) + " restart identity cascade", Bindings: []any{}}}, nil
}

package grammar

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/satishbabariya/gorel/query/ast"
)

// dialect is implemented by each concrete grammar for the parts of compilation that differ.
type dialect interface {
	quote(segment string) string
	wrapJSONSelector(value string) string

	whereDatePart(w *ast.DatePart) (string, error)
	whereRegexp(w *ast.Regexp) (string, error)
	whereFullText(w *ast.FullText) (string, error)
	whereJSONContains(w *ast.JSONContains) (string, error)
	whereJSONLength(w *ast.JSONLength) (string, error)

	compileLimitOffset(q *ast.Query) string
	compileLock(q *ast.Query) string
	compileUnions(q *ast.Query, base string) (string, error)
	compileUpdate(q *ast.Query, set string, values []any) (string, []any, error)
	compileDelete(q *ast.Query) (string, []any, error)
}

// base implements everything the dialects share. Each dialect embeds it and sets self.
type base struct {
	self dialect
}

const dateFormat = "2006-01-02 15:04:05"

func (g *base) Wrap(value string) string {
	if value == "*" {
		return value
	}
	if i := strings.Index(strings.ToLower(value), " as "); i >= 0 {
		return g.Wrap(strings.TrimSpace(value[:i])) + " as " + g.self.quote(strings.TrimSpace(value[i+4:]))
	}
	if strings.Contains(value, "->") {
		return g.self.wrapJSONSelector(value)
	}
	return g.wrapSegments(value)
}

func (g *base) wrapSegments(value string) string {
	segments := strings.Split(value, ".")
	for i, s := range segments {
		if s != "*" {
			segments[i] = g.self.quote(s)
		}
	}
	return strings.Join(segments, ".")
}

func (g *base) WrapTable(table string) string {
	return g.Wrap(table)
}

func (g *base) Columnize(columns []string) string {
	wrapped := make([]string, len(columns))
	for i, c := range columns {
		wrapped[i] = g.Wrap(c)
	}
	return strings.Join(wrapped, ", ")
}

func (g *base) Parameter(value any) string {
	if r, ok := value.(ast.Raw); ok {
		return r.SQL()
	}
	return "?"
}

func (g *base) parameterize(values []any) string {
	params := make([]string, len(values))
	for i, v := range values {
		params[i] = g.Parameter(v)
	}
	return strings.Join(params, ", ")
}

func (g *base) CompileSavepoint(name string) string        { return "SAVEPOINT " + name }
func (g *base) CompileSavepointRelease(name string) string { return "RELEASE SAVEPOINT " + name }
func (g *base) CompileSavepointRollBack(name string) string {
	return "ROLLBACK TO SAVEPOINT " + name
}

func (g *base) PrepareJSONContainsBinding(value any) any { return jsonEncode(value) }
func (g *base) Rebind(sql string) string                 { return sql }
func (g *base) SupportsReturning() bool                  { return false }
func (g *base) DateFormat() string                       { return dateFormat }

// CompileSelect compiles a select, an aggregate or a union.
func (g *base) CompileSelect(q *ast.Query) (string, []any, error) {
	if q.Table == "" {
		return "", nil, ErrMissingTable
	}
	if q.Aggregate != nil && (len(q.Groups) > 0 || len(q.Unions) > 0 || distinctRows(q)) {
		return g.compileWrappedAggregate(q)
	}

	sql, err := g.compileComponents(q)
	if err != nil {
		return "", nil, err
	}
	if len(q.Unions) > 0 {
		if sql, err = g.self.compileUnions(q, sql); err != nil {
			return "", nil, err
		}
	}

	var bindings []any
	if q.Aggregate != nil {
		bindings = q.Bindings.Flatten(ast.ClauseSelect)
	} else {
		bindings = q.Bindings.Flatten()
	}
	return withComment(q, sql), bindings, nil
}

// distinctRows reports whether an aggregate over all columns must see distinct rows.
func distinctRows(q *ast.Query) bool {
	if !q.Distinct {
		return false
	}
	cols := q.Aggregate.Columns
	return len(cols) == 0 || (len(cols) == 1 && cols[0] == "*")
}

// compileWrappedAggregate computes an aggregate over a grouped, unioned or distinct select.
func (g *base) compileWrappedAggregate(q *ast.Query) (string, []any, error) {
	inner := q.Clone()
	agg := inner.Aggregate
	inner.Aggregate = nil
	inner.Comment = ""
	if len(inner.Columns) == 0 && len(inner.Groups) > 0 && plainColumns(inner.Groups) {
		inner.Columns = inner.Groups
	}
	innerSQL, bindings, err := g.CompileSelect(inner)
	if err != nil {
		return "", nil, err
	}
	column := "*"
	if len(agg.Columns) > 0 && !(len(agg.Columns) == 1 && agg.Columns[0] == "*") {
		// Columns of the inner select are addressed by their last segment.
		last := agg.Columns[0]
		if i := strings.LastIndex(last, "."); i >= 0 {
			last = last[i+1:]
		}
		column = g.Wrap("temp_table." + last)
	}
	sql := fmt.Sprintf("select %s(%s) as %s from (%s) as %s",
		agg.Function, column, g.self.quote("aggregate"), innerSQL, g.self.quote("temp_table"))
	return withComment(q, sql), bindings, nil
}

func plainColumns(cols []ast.Column) bool {
	for _, c := range cols {
		if c.Expr != nil {
			return false
		}
	}
	return true
}

func withComment(q *ast.Query, sql string) string {
	if q.Comment == "" {
		return sql
	}
	return "/* " + strings.ReplaceAll(q.Comment, "*/", "* /") + " */ " + sql
}

// compileComponents emits the clauses of a select in their fixed order.
func (g *base) compileComponents(q *ast.Query) (string, error) {
	var parts []string
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}

	ctes, err := g.compileCTEs(q)
	if err != nil {
		return "", err
	}
	add(ctes)
	if q.Aggregate != nil {
		add(g.compileAggregate(q))
	} else {
		add(g.compileColumns(q))
	}
	add("from " + g.WrapTable(q.Table))
	joins, err := g.compileJoins(q.Joins)
	if err != nil {
		return "", err
	}
	add(joins)
	wheres, err := g.compileWheres(q.Wheres)
	if err != nil {
		return "", err
	}
	add(wheres)
	add(g.compileGroups(q.Groups))
	havings, err := g.compileConditions(q.Havings)
	if err != nil {
		return "", err
	}
	if havings != "" {
		add("having " + havings)
	}
	add(g.compileOrders(q.Orders))
	add(g.self.compileLimitOffset(q))
	add(g.self.compileLock(q))
	return strings.Join(parts, " "), nil
}

func (g *base) compileCTEs(q *ast.Query) (string, error) {
	if len(q.CTEs) == 0 {
		return "", nil
	}
	recursive := false
	items := make([]string, 0, len(q.CTEs))
	for _, cte := range q.CTEs {
		recursive = recursive || cte.Recursive
		sql, _, err := g.CompileSelect(cte.Query)
		if err != nil {
			return "", fmt.Errorf("cte %s: %w", cte.Name, err)
		}
		item := g.self.quote(cte.Name)
		if len(cte.Columns) > 0 {
			item += " (" + g.Columnize(cte.Columns) + ")"
		}
		items = append(items, item+" as ("+sql+")")
	}
	prefix := "with "
	if recursive {
		prefix = "with recursive "
	}
	return prefix + strings.Join(items, ", "), nil
}

func (g *base) compileAggregate(q *ast.Query) string {
	column := "*"
	if len(q.Aggregate.Columns) > 0 {
		column = g.Columnize(q.Aggregate.Columns)
	}
	if q.Distinct && column != "*" {
		column = "distinct " + column
	}
	return "select " + q.Aggregate.Function + "(" + column + ") as " + g.self.quote("aggregate")
}

func (g *base) compileColumns(q *ast.Query) string {
	sel := "select "
	if q.Distinct {
		sel = "select distinct "
	}
	if len(q.Columns) == 0 {
		return sel + "*"
	}
	return sel + g.columnList(q.Columns)
}

func (g *base) columnList(cols []ast.Column) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if c.Expr != nil {
			out[i] = c.Expr.SQL()
		} else {
			out[i] = g.Wrap(c.Name)
		}
	}
	return strings.Join(out, ", ")
}

func (g *base) compileJoins(joins []*ast.Join) (string, error) {
	out := make([]string, 0, len(joins))
	for _, j := range joins {
		table := ""
		if j.Expr != nil {
			table = j.Expr.SQL()
		} else {
			table = g.WrapTable(j.Table)
		}
		clause := j.Type + " join " + table
		if len(j.Wheres) > 0 {
			on, err := g.compileConditions(j.Wheres)
			if err != nil {
				return "", err
			}
			clause += " on " + on
		}
		out = append(out, clause)
	}
	return strings.Join(out, " "), nil
}

func (g *base) compileWheres(wheres []ast.Where) (string, error) {
	conds, err := g.compileConditions(wheres)
	if err != nil || conds == "" {
		return "", err
	}
	return "where " + conds, nil
}

// compileConditions joins conditions with their connectives and drops the leading one.
func (g *base) compileConditions(wheres []ast.Where) (string, error) {
	if len(wheres) == 0 {
		return "", nil
	}
	var b strings.Builder
	for i, w := range wheres {
		sql, err := g.compileWhere(w)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteByte(' ')
			b.WriteString(string(ast.MetaOf(w).Boolean))
			b.WriteByte(' ')
		}
		b.WriteString(sql)
	}
	return b.String(), nil
}

func (g *base) compileGroups(groups []ast.Column) string {
	if len(groups) == 0 {
		return ""
	}
	return "group by " + g.columnList(groups)
}

func (g *base) compileOrders(orders []ast.Order) string {
	if len(orders) == 0 {
		return ""
	}
	out := make([]string, len(orders))
	for i, o := range orders {
		if o.Expr != nil {
			out[i] = o.Expr.SQL()
			continue
		}
		out[i] = g.Wrap(o.Column) + " " + o.Direction
	}
	return "order by " + strings.Join(out, ", ")
}

// CompileExists wraps the select in `select exists(...)`.
func (g *base) CompileExists(q *ast.Query) (string, []any, error) {
	sql, bindings, err := g.CompileSelect(q)
	if err != nil {
		return "", nil, err
	}
	return "select exists(" + sql + ") as " + g.self.quote("exists"), bindings, nil
}

func (g *base) CompileRandom(string) string { return "RANDOM()" }

func (g *base) compileSubquery(q *ast.Query) (string, error) {
	sql, _, err := g.CompileSelect(q)
	return sql, err
}

func limitOffset(q *ast.Query, noLimit string) string {
	var parts []string
	if q.Limit != nil {
		parts = append(parts, "limit "+strconv.Itoa(*q.Limit))
	}
	if q.Offset != nil {
		if q.Limit == nil && noLimit != "" {
			parts = append(parts, "limit "+noLimit)
		}
		parts = append(parts, "offset "+strconv.Itoa(*q.Offset))
	}
	return strings.Join(parts, " ")
}

func sortedColumns(row map[string]any) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

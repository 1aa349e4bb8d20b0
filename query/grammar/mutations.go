package grammar

import (
	"strings"

	"github.com/satishbabariya/gorel/query/ast"
)

// insertValues renders `(cols) values (...), (...)` over the sorted union of the row keys.
// Rows missing a column bind nil for it.
func (g *base) insertValues(rows []map[string]any) (string, []string, []any) {
	union := map[string]any{}
	for _, row := range rows {
		for c := range row {
			union[c] = nil
		}
	}
	cols := sortedColumns(union)
	var bindings []any
	tuples := make([]string, len(rows))
	for i, row := range rows {
		params := make([]string, len(cols))
		for j, c := range cols {
			v := row[c]
			params[j] = g.Parameter(v)
			bindings = append(bindings, ast.ValueBindings(v)...)
		}
		tuples[i] = "(" + strings.Join(params, ", ") + ")"
	}
	return "(" + g.Columnize(cols) + ") values " + strings.Join(tuples, ", "), cols, bindings
}

func (g *base) CompileInsert(q *ast.Query, rows []map[string]any) (string, []any, error) {
	if q.Table == "" {
		return "", nil, ErrMissingTable
	}
	table := g.WrapTable(q.Table)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "insert into " + table + " default values", []any{}, nil
	}
	values, _, bindings := g.insertValues(rows)
	return "insert into " + table + " " + values, bindings, nil
}

func (g *base) CompileInsertGetID(q *ast.Query, row map[string]any, _ string) (string, []any, error) {
	return g.CompileInsert(q, []map[string]any{row})
}

// updateSet renders `a = ?, b = ?` with columns in sorted order.
func (g *base) updateSet(values map[string]any) (string, []any) {
	cols := sortedColumns(values)
	set := make([]string, len(cols))
	var bindings []any
	for i, c := range cols {
		v := values[c]
		set[i] = g.Wrap(c) + " = " + g.Parameter(v)
		bindings = append(bindings, ast.ValueBindings(v)...)
	}
	return strings.Join(set, ", "), bindings
}

func (g *base) CompileUpdate(q *ast.Query, values map[string]any) (string, []any, error) {
	if q.Table == "" {
		return "", nil, ErrMissingTable
	}
	set, bindings := g.updateSet(values)
	return g.self.compileUpdate(q, set, bindings)
}

// plainUpdate is `update t set ... where ...` with value then where bindings.
func (g *base) plainUpdate(q *ast.Query, set string, values []any) (string, []any, error) {
	wheres, err := g.compileWheres(q.Wheres)
	if err != nil {
		return "", nil, err
	}
	sql := strings.TrimSpace("update " + g.WrapTable(q.Table) + " set " + set + " " + wheres)
	return sql, concat(values, q.Bindings.Of(ast.ClauseWhere)), nil
}

// keyedUpdate restricts an update to the rows selected through joins or a limit by
// matching a row identifier column against a subselect.
func (g *base) keyedUpdate(q *ast.Query, set string, values []any, key string) (string, []any, error) {
	sub, bindings, err := g.keyedSubselect(q, key)
	if err != nil {
		return "", nil, err
	}
	sql := "update " + g.WrapTable(q.Table) + " set " + set + " where " + g.Wrap(key) + " in (" + sub + ")"
	return sql, concat(values, bindings), nil
}

func (g *base) keyedSubselect(q *ast.Query, key string) (string, []any, error) {
	sub := q.Clone()
	table := tableAlias(q.Table)
	sub.Columns = []ast.Column{{Name: table + "." + key}}
	sub.Aggregate = nil
	sub.Unions = nil
	sub.Lock = ast.LockNone
	sub.Comment = ""
	sub.Bindings.Set(ast.ClauseSelect, nil)
	sub.Bindings.Set(ast.ClauseUnion, nil)
	return g.CompileSelect(sub)
}

func (g *base) CompileDelete(q *ast.Query) (string, []any, error) {
	if q.Table == "" {
		return "", nil, ErrMissingTable
	}
	return g.self.compileDelete(q)
}

func (g *base) plainDelete(q *ast.Query) (string, []any, error) {
	wheres, err := g.compileWheres(q.Wheres)
	if err != nil {
		return "", nil, err
	}
	sql := strings.TrimSpace("delete from " + g.WrapTable(q.Table) + " " + wheres)
	return sql, concat(q.Bindings.Of(ast.ClauseWhere)), nil
}

func (g *base) keyedDelete(q *ast.Query, key string) (string, []any, error) {
	sub, bindings, err := g.keyedSubselect(q, key)
	if err != nil {
		return "", nil, err
	}
	return "delete from " + g.WrapTable(q.Table) + " where " + g.Wrap(key) + " in (" + sub + ")", bindings, nil
}

// conflictUpsert is the `on conflict (...) do update` form shared by PostgreSQL and SQLite.
func (g *base) conflictUpsert(q *ast.Query, rows []map[string]any, uniqueBy, update []string) (string, []any, error) {
	if q.Table == "" {
		return "", nil, ErrMissingTable
	}
	if len(rows) == 0 {
		return g.CompileInsert(q, rows)
	}
	values, _, bindings := g.insertValues(rows)
	sql := "insert into " + g.WrapTable(q.Table) + " " + values + " on conflict (" + g.Columnize(uniqueBy) + ")"
	if len(update) == 0 {
		return sql + " do nothing", bindings, nil
	}
	set := make([]string, len(update))
	for i, c := range update {
		set[i] = g.Wrap(c) + " = " + g.Wrap("excluded."+c)
	}
	return sql + " do update set " + strings.Join(set, ", "), bindings, nil
}

// tableAlias returns the name a table reference is addressed by in column qualifiers.
func tableAlias(table string) string {
	if i := strings.Index(strings.ToLower(table), " as "); i >= 0 {
		return strings.TrimSpace(table[i+4:])
	}
	return table
}

func concat(parts ...[]any) []any {
	out := []any{}
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

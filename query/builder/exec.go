package builder

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/satishbabariya/gorel/internal/debug"
	"github.com/satishbabariya/gorel/query/ast"
)

func (b *Builder) connection() (Conn, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.conn == nil {
		return nil, ErrNoConnection
	}
	return b.conn, nil
}

// Get executes the select and returns every row.
func (b *Builder) Get(ctx context.Context) ([]Row, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}
	sql, bindings, err := b.ToSQL()
	if err != nil {
		return nil, err
	}
	if b.cache != nil && b.cacheTTL > 0 {
		return b.remember(ctx, conn, sql, bindings)
	}
	return conn.Select(ctx, sql, bindings)
}

// First returns the first row, or nil when there is none.
func (b *Builder) First(ctx context.Context) (Row, error) {
	rows, err := b.Clone().Limit(1).Get(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// FirstOrFail returns the first row or ErrNotFound.
func (b *Builder) FirstOrFail(ctx context.Context) (Row, error) {
	row, err := b.First(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%s: %w", b.TableName(), ErrNotFound)
	}
	return row, nil
}

// Find returns the row whose key column equals id. The column defaults to id.
func (b *Builder) Find(ctx context.Context, id any, column ...string) (Row, error) {
	key := "id"
	if len(column) > 0 {
		key = column[0]
	}
	return b.Clone().Where(key, id).First(ctx)
}

// Value returns a single column of the first row.
func (b *Builder) Value(ctx context.Context, column string) (any, error) {
	row, err := b.Clone().Select(column).First(ctx)
	if err != nil || row == nil {
		return nil, err
	}
	return row[columnKey(column)], nil
}

// Pluck returns one column from every row.
func (b *Builder) Pluck(ctx context.Context, column string) ([]any, error) {
	rows, err := b.Clone().Select(column).Get(ctx)
	if err != nil {
		return nil, err
	}
	key := columnKey(column)
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[key]
	}
	return out, nil
}

// columnKey is the result key a selected column is returned under.
func columnKey(column string) string {
	if i := strings.Index(strings.ToLower(column), " as "); i >= 0 {
		return strings.TrimSpace(column[i+4:])
	}
	if i := strings.LastIndex(column, "."); i >= 0 {
		return column[i+1:]
	}
	return column
}

// Exists reports whether the query matches any row.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	conn, err := b.connection()
	if err != nil {
		return false, err
	}
	sql, bindings, err := b.grammar.CompileExists(b.query)
	if err != nil {
		return false, err
	}
	rows, err := conn.Select(ctx, sql, bindings)
	if err != nil || len(rows) == 0 {
		return false, err
	}
	return cast.ToBoolE(rows[0]["exists"])
}

// DoesntExist reports whether the query matches no row.
func (b *Builder) DoesntExist(ctx context.Context) (bool, error) {
	ok, err := b.Exists(ctx)
	return !ok, err
}

// Aggregate runs `function(columns)` over the query. The receiver is not modified.
func (b *Builder) Aggregate(ctx context.Context, function string, columns ...string) (any, error) {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	q := b.Clone()
	if len(q.query.Groups) == 0 && len(q.query.Unions) == 0 {
		q.query.Orders = nil
		q.query.Bindings.Set(ast.ClauseOrder, nil)
	}
	q.query.Aggregate = &ast.Aggregate{Function: function, Columns: columns}
	rows, err := q.Get(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0]["aggregate"], nil
}

// Count returns the number of matching rows.
func (b *Builder) Count(ctx context.Context, columns ...string) (int64, error) {
	v, err := b.Aggregate(ctx, "count", columns...)
	if err != nil {
		return 0, err
	}
	return cast.ToInt64E(v)
}

// Min returns the smallest value of column.
func (b *Builder) Min(ctx context.Context, column string) (any, error) {
	return b.Aggregate(ctx, "min", column)
}

// Max returns the largest value of column.
func (b *Builder) Max(ctx context.Context, column string) (any, error) {
	return b.Aggregate(ctx, "max", column)
}

// Sum returns the sum of column, zero when no rows match.
func (b *Builder) Sum(ctx context.Context, column string) (float64, error) {
	v, err := b.Aggregate(ctx, "sum", column)
	if err != nil {
		return 0, err
	}
	return cast.ToFloat64E(v)
}

// Avg returns the average of column, zero when no rows match.
func (b *Builder) Avg(ctx context.Context, column string) (float64, error) {
	v, err := b.Aggregate(ctx, "avg", column)
	if err != nil {
		return 0, err
	}
	return cast.ToFloat64E(v)
}

// Insert inserts one or more rows.
func (b *Builder) Insert(ctx context.Context, rows ...map[string]any) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	sql, bindings, err := b.grammar.CompileInsert(b.query, rows)
	if err != nil {
		return err
	}
	if _, err := conn.Affecting(ctx, sql, bindings); err != nil {
		return err
	}
	b.flushCache(ctx)
	return nil
}

// InsertGetID inserts a row and returns its generated key. The key column defaults to id.
func (b *Builder) InsertGetID(ctx context.Context, row map[string]any, key ...string) (int64, error) {
	conn, err := b.connection()
	if err != nil {
		return 0, err
	}
	column := "id"
	if len(key) > 0 {
		column = key[0]
	}
	sql, bindings, err := b.grammar.CompileInsertGetID(b.query, row, column)
	if err != nil {
		return 0, err
	}
	id, err := conn.InsertGetID(ctx, sql, bindings, column)
	if err != nil {
		return 0, err
	}
	b.flushCache(ctx)
	return id, nil
}

// InsertOrIgnore inserts rows, skipping those that violate a unique constraint.
func (b *Builder) InsertOrIgnore(ctx context.Context, rows ...map[string]any) (int64, error) {
	sql, bindings, err := b.grammar.CompileInsertOrIgnore(b.query, rows)
	return b.affecting(ctx, sql, bindings, err)
}

// Upsert inserts rows or updates the listed columns when uniqueBy conflicts. With no
// update columns every inserted column except uniqueBy is updated.
func (b *Builder) Upsert(ctx context.Context, rows []map[string]any, uniqueBy []string, update ...string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(update) == 0 {
		unique := map[string]bool{}
		for _, c := range uniqueBy {
			unique[c] = true
		}
		for c := range rows[0] {
			if !unique[c] {
				update = append(update, c)
			}
		}
		sort.Strings(update)
	}
	sql, bindings, err := b.grammar.CompileUpsert(b.query, rows, uniqueBy, update)
	return b.affecting(ctx, sql, bindings, err)
}

// Update updates matching rows and returns the affected count.
func (b *Builder) Update(ctx context.Context, values map[string]any) (int64, error) {
	sql, bindings, err := b.grammar.CompileUpdate(b.query, values)
	return b.affecting(ctx, sql, bindings, err)
}

// Increment adds amount to column, also setting any extra values.
func (b *Builder) Increment(ctx context.Context, column string, amount any, extra ...map[string]any) (int64, error) {
	return b.step(ctx, column, "+", amount, extra)
}

// Decrement subtracts amount from column, also setting any extra values.
func (b *Builder) Decrement(ctx context.Context, column string, amount any, extra ...map[string]any) (int64, error) {
	return b.step(ctx, column, "-", amount, extra)
}

func (b *Builder) step(ctx context.Context, column, op string, amount any, extra []map[string]any) (int64, error) {
	if _, err := cast.ToFloat64E(amount); err != nil {
		return 0, fmt.Errorf("%w: non-numeric amount %v", ErrInvalidArguments, amount)
	}
	raw, err := ast.NewRaw(b.grammar.Wrap(column)+" "+op+" ?", amount)
	if err != nil {
		return 0, err
	}
	values := map[string]any{column: raw}
	for _, e := range extra {
		for k, v := range e {
			values[k] = v
		}
	}
	return b.Update(ctx, values)
}

// Delete deletes matching rows and returns the affected count.
func (b *Builder) Delete(ctx context.Context) (int64, error) {
	sql, bindings, err := b.grammar.CompileDelete(b.query)
	return b.affecting(ctx, sql, bindings, err)
}

// Truncate empties the table.
func (b *Builder) Truncate(ctx context.Context) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	stmts, err := b.grammar.CompileTruncate(b.query)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if err := conn.Statement(ctx, s.SQL, s.Bindings); err != nil {
			return err
		}
	}
	b.flushCache(ctx)
	return nil
}

func (b *Builder) affecting(ctx context.Context, sql string, bindings []any, compileErr error) (int64, error) {
	conn, err := b.connection()
	if err != nil {
		return 0, err
	}
	if compileErr != nil {
		return 0, compileErr
	}
	n, err := conn.Affecting(ctx, sql, bindings)
	if err != nil {
		return 0, err
	}
	b.flushCache(ctx)
	return n, nil
}

// flushCache drops cached reads of the table after a write. Cache failures are only logged.
func (b *Builder) flushCache(ctx context.Context) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Tags(b.TableName()).Clear(ctx); err != nil {
		debug.Warn("cache flush failed", "table", b.TableName(), "error", err)
	}
}

package orm

import (
	"context"
	"time"

	"github.com/satishbabariya/gorel/query/builder"
	"github.com/satishbabariya/gorel/query/grammar"
)

type eagerLoad struct {
	name      string
	constrain func(*Query)
}

type aggregateLoad struct {
	relation string
	function string
	column   string
	alias    string
}

// Query builds model queries. Global scopes are applied when the query runs, after the
// caller's own wheres, so they can still be removed with WithoutGlobalScope.
type Query struct {
	reg    *Registry
	schema *Schema
	b      *builder.Builder

	eager      []eagerLoad
	aggregates []aggregateLoad
	removed    map[string]bool
	removeAll  bool
}

// Query starts a query against the named schema. Resolution errors are returned when the
// query runs.
func (r *Registry) Query(name string) *Query {
	q := &Query{reg: r, removed: map[string]bool{}}
	s, err := r.Schema(name)
	if err != nil {
		q.schema = &Schema{Name: name}
		q.b = builder.New(grammar.NewSQLite(), nil).AddError(err)
		return q
	}
	q.schema = s
	b, err := r.table(s)
	if err != nil {
		q.b = builder.New(grammar.NewSQLite(), nil).From(s.Table).AddError(err)
		return q
	}
	q.b = b.Sortable(s.Sortable...)
	return q
}

// Schema returns the queried schema.
func (q *Query) Schema() *Schema { return q.schema }

// Clone returns an independent copy.
func (q *Query) Clone() *Query {
	c := *q
	c.b = q.b.Clone()
	c.eager = append([]eagerLoad(nil), q.eager...)
	c.aggregates = append([]aggregateLoad(nil), q.aggregates...)
	c.removed = make(map[string]bool, len(q.removed))
	for k := range q.removed {
		c.removed[k] = true
	}
	return &c
}

// Scope exposes the underlying builder for clauses the Query does not wrap.
func (q *Query) Scope(fn func(*builder.Builder)) *Query {
	fn(q.b)
	return q
}

func (q *Query) Where(column string, args ...any) *Query {
	q.b.Where(column, args...)
	return q
}

func (q *Query) OrWhere(column string, args ...any) *Query {
	q.b.OrWhere(column, args...)
	return q
}

func (q *Query) WhereIn(column string, values any) *Query {
	q.b.WhereIn(column, values)
	return q
}

// WhereKey constrains the primary key to ids.
func (q *Query) WhereKey(ids ...any) *Query {
	key := q.schema.Qualify(q.schema.PrimaryKey)
	if len(ids) == 1 {
		q.b.Where(key, ids[0])
		return q
	}
	q.b.WhereIn(key, ids)
	return q
}

func (q *Query) WhereNull(column string) *Query {
	q.b.WhereNull(column)
	return q
}

func (q *Query) WhereNotNull(column string) *Query {
	q.b.WhereNotNull(column)
	return q
}

func (q *Query) OrderBy(column string, direction ...string) *Query {
	q.b.OrderBy(column, direction...)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.b.Limit(n)
	return q
}

func (q *Query) Offset(n int) *Query {
	q.b.Offset(n)
	return q
}

// Remember caches the fetched rows for ttl.
func (q *Query) Remember(ttl time.Duration) *Query {
	q.b.Remember(ttl)
	return q
}

// With eager loads relations. Dotted names load nested relations.
func (q *Query) With(relations ...string) *Query {
	for _, r := range relations {
		q.eager = append(q.eager, eagerLoad{name: r})
	}
	return q
}

// WithFunc eager loads relation, constraining its query with fn.
func (q *Query) WithFunc(relation string, fn func(*Query)) *Query {
	q.eager = append(q.eager, eagerLoad{name: relation, constrain: fn})
	return q
}

// WithCount loads the number of related rows into "<relation>_count".
func (q *Query) WithCount(relations ...string) *Query {
	for _, r := range relations {
		q.aggregates = append(q.aggregates, aggregateLoad{relation: r, function: "count", column: "*", alias: r + "_count"})
	}
	return q
}

// WithSum loads the sum of column into "<relation>_sum_<column>".
func (q *Query) WithSum(relation, column string) *Query { return q.withAggregate(relation, "sum", column) }

// WithAvg loads the average of column into "<relation>_avg_<column>".
func (q *Query) WithAvg(relation, column string) *Query { return q.withAggregate(relation, "avg", column) }

// WithMin loads the minimum of column into "<relation>_min_<column>".
func (q *Query) WithMin(relation, column string) *Query { return q.withAggregate(relation, "min", column) }

// WithMax loads the maximum of column into "<relation>_max_<column>".
func (q *Query) WithMax(relation, column string) *Query { return q.withAggregate(relation, "max", column) }

func (q *Query) withAggregate(relation, function, column string) *Query {
	q.aggregates = append(q.aggregates, aggregateLoad{
		relation: relation,
		function: function,
		column:   column,
		alias:    relation + "_" + function + "_" + column,
	})
	return q
}

// WithoutGlobalScope removes the global scopes with the given ids.
func (q *Query) WithoutGlobalScope(ids ...string) *Query {
	for _, id := range ids {
		q.removed[id] = true
		q.b.RemoveScope(id)
	}
	return q
}

// WithoutGlobalScopes removes every global scope.
func (q *Query) WithoutGlobalScopes() *Query {
	q.removeAll = true
	return q
}

// WithTrashed includes soft-deleted rows.
func (q *Query) WithTrashed() *Query {
	return q.WithoutGlobalScope(SoftDeleteScope)
}

// OnlyTrashed returns soft-deleted rows only.
func (q *Query) OnlyTrashed() *Query {
	q.WithoutGlobalScope(SoftDeleteScope)
	if sd := q.schema.SoftDelete; sd != nil {
		q.b.WhereNotNull(q.schema.Qualify(sd.Column))
	}
	return q
}

// Builder returns a builder with the active global scopes applied.
func (q *Query) Builder() *builder.Builder {
	b := q.b.Clone()
	if q.removeAll {
		return b
	}
	var active []globalScope
	for _, s := range q.reg.globalScopes(q.schema.Name) {
		if !q.removed[s.id] && !b.HasScope(s.id) {
			active = append(active, s)
		}
	}
	if len(active) > 0 {
		b.WrapWheres()
	}
	for _, s := range active {
		b.ApplyScope(s.id, s.fn)
	}
	return b
}

// ToSQL compiles the query with its global scopes.
func (q *Query) ToSQL() (string, []any, error) {
	return q.Builder().ToSQL()
}

// Get fetches the models and loads the requested relations and aggregates.
func (q *Query) Get(ctx context.Context) ([]*Model, error) {
	rows, err := q.Builder().Get(ctx)
	if err != nil {
		return nil, err
	}
	return q.finish(ctx, rows)
}

// finish hydrates rows and runs the eager loads over the whole batch.
func (q *Query) finish(ctx context.Context, rows []builder.Row) ([]*Model, error) {
	models := q.reg.hydrate(ctx, q.schema, rows)
	if len(models) == 0 {
		return models, nil
	}
	if err := q.reg.eagerLoad(ctx, q.schema, models, q.eager); err != nil {
		return nil, err
	}
	for _, agg := range q.aggregates {
		if err := q.reg.loadAggregate(ctx, q.schema, models, agg); err != nil {
			return nil, err
		}
	}
	return models, nil
}

// First returns the first model or nil.
func (q *Query) First(ctx context.Context) (*Model, error) {
	models, err := q.Clone().Limit(1).Get(ctx)
	if err != nil || len(models) == 0 {
		return nil, err
	}
	return models[0], nil
}

// FirstOrFail returns the first model or a *NotFoundError.
func (q *Query) FirstOrFail(ctx context.Context) (*Model, error) {
	m, err := q.First(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &NotFoundError{Model: q.schema.Name}
	}
	return m, nil
}

// Find returns the model with primary key id or nil.
func (q *Query) Find(ctx context.Context, id any) (*Model, error) {
	return q.Clone().WhereKey(id).First(ctx)
}

// FindOrFail returns the model with primary key id or a *NotFoundError.
func (q *Query) FindOrFail(ctx context.Context, id any) (*Model, error) {
	m, err := q.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &NotFoundError{Model: q.schema.Name, IDs: []any{id}}
	}
	return m, nil
}

// Count counts the matching rows.
func (q *Query) Count(ctx context.Context) (int64, error) {
	return q.Builder().Count(ctx)
}

// Paginate returns one page of models; perPage 0 uses the schema default.
func (q *Query) Paginate(ctx context.Context, perPage, page int) (*builder.Page[*Model], error) {
	if perPage == 0 {
		perPage = q.schema.PerPage
	}
	p, err := q.Builder().Paginate(ctx, perPage, page)
	if err != nil {
		return nil, err
	}
	models, err := q.finish(ctx, p.Items)
	if err != nil {
		return nil, err
	}
	return &builder.Page[*Model]{Items: models, Total: p.Total, PerPage: p.PerPage, CurrentPage: p.CurrentPage, LastPage: p.LastPage}, nil
}

// CursorPaginate returns perPage models after the cursor; column must be in the schema's
// Sortable list.
func (q *Query) CursorPaginate(ctx context.Context, column string, after any, perPage int) (*builder.CursorPage[*Model], error) {
	if perPage == 0 {
		perPage = q.schema.PerPage
	}
	p, err := q.Builder().CursorPaginate(ctx, column, after, perPage)
	if err != nil {
		return nil, err
	}
	models, err := q.finish(ctx, p.Items)
	if err != nil {
		return nil, err
	}
	return &builder.CursorPage[*Model]{Items: models, PerPage: p.PerPage, HasMore: p.HasMore, NextCursor: p.NextCursor}, nil
}

// Chunk walks the models in batches, ordering by primary key when the query is unordered.
func (q *Query) Chunk(ctx context.Context, size int, fn func([]*Model) error) error {
	b := q.Builder()
	if len(b.Query().Orders) == 0 {
		b.OrderBy(q.schema.Qualify(q.schema.PrimaryKey))
	}
	return b.Chunk(ctx, size, func(rows []builder.Row) error {
		models, err := q.finish(ctx, rows)
		if err != nil {
			return err
		}
		return fn(models)
	})
}

// Create fills a new model with attrs and saves it.
func (q *Query) Create(ctx context.Context, attrs map[string]any) (*Model, error) {
	if err := q.b.Err(); err != nil {
		return nil, err
	}
	m := q.reg.newModel(q.schema)
	if err := m.Fill(attrs); err != nil {
		return nil, err
	}
	if err := m.Save(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

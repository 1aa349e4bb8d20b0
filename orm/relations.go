package orm

import (
	"context"

	"github.com/spf13/cast"
)

// RelationKind identifies a relation type.
type RelationKind string

const (
	KindBelongsTo RelationKind = "belongs_to"
	KindHasOne    RelationKind = "has_one"
	KindHasMany   RelationKind = "has_many"
	KindMorphTo   RelationKind = "morph_to"
	KindMorphOne  RelationKind = "morph_one"
	KindMorphMany RelationKind = "morph_many"
)

// Relation describes how a model reaches related models. It resolves lazily for the parent
// it was built for, and eagerly for a batch of parents with one query per related type.
type Relation interface {
	Kind() RelationKind
	// Get fetches the relation of the parent: a *Model or nil for singular relations, a
	// []*Model for plural ones.
	Get(ctx context.Context) (any, error)

	// eager loads the relation for every parent, attaches the results under name and loads
	// nested onto the related models.
	eager(ctx context.Context, parents []*Model, name string, constrain func(*Query), nested []eagerLoad) error
}

// RelationFunc builds a relation for a parent model.
type RelationFunc func(parent *Model) Relation

type aggregatable interface {
	aggregate(ctx context.Context, parents []*Model, agg aggregateLoad) error
}

// keyString normalizes key values so 1, int64(1) and "1" match.
func keyString(v any) string { return cast.ToString(v) }

// collectKeys returns the distinct non-nil values of column, in first-seen order.
func collectKeys(models []*Model, column string) []any {
	seen := map[string]bool{}
	keys := []any{}
	for _, m := range models {
		v := m.Raw(column)
		if v == nil || seen[keyString(v)] {
			continue
		}
		seen[keyString(v)] = true
		keys = append(keys, v)
	}
	return keys
}

func applyLoad(q *Query, constrain func(*Query), nested []eagerLoad) *Query {
	if constrain != nil {
		constrain(q)
	}
	q.eager = append(q.eager, nested...)
	return q
}

// BelongsTo declares an inverse one-to-one or many-to-one relation. keys are the foreign
// key on the parent (default "<related>_id") and the owner key on the related schema
// (default its primary key).
func BelongsTo(related string, keys ...string) RelationFunc {
	return func(parent *Model) Relation {
		r := &belongsTo{parent: parent, related: related}
		if len(keys) > 0 {
			r.foreignKey = keys[0]
		}
		if len(keys) > 1 {
			r.ownerKey = keys[1]
		}
		return r
	}
}

type belongsTo struct {
	parent     *Model
	related    string
	foreignKey string
	ownerKey   string
}

func (r *belongsTo) Kind() RelationKind { return KindBelongsTo }

func (r *belongsTo) resolve() (*Schema, error) {
	s, err := r.parent.reg.Schema(r.related)
	if err != nil {
		return nil, err
	}
	if r.foreignKey == "" {
		r.foreignKey = s.ForeignKey()
	}
	if r.ownerKey == "" {
		r.ownerKey = s.PrimaryKey
	}
	return s, nil
}

func (r *belongsTo) Get(ctx context.Context) (any, error) {
	s, err := r.resolve()
	if err != nil {
		return nil, err
	}
	key := r.parent.Raw(r.foreignKey)
	if key == nil {
		return nil, nil
	}
	m, err := r.parent.reg.Query(s.Name).Where(s.Qualify(r.ownerKey), key).First(ctx)
	if err != nil || m == nil {
		return nil, err
	}
	return m, nil
}

func (r *belongsTo) eager(ctx context.Context, parents []*Model, name string, constrain func(*Query), nested []eagerLoad) error {
	s, err := r.resolve()
	if err != nil {
		return err
	}
	dict := map[string]*Model{}
	if keys := collectKeys(parents, r.foreignKey); len(keys) > 0 {
		q := applyLoad(r.parent.reg.Query(s.Name).WhereIn(s.Qualify(r.ownerKey), keys), constrain, nested)
		related, err := q.Get(ctx)
		if err != nil {
			return err
		}
		for _, m := range related {
			dict[keyString(m.Raw(r.ownerKey))] = m
		}
	}
	for _, p := range parents {
		if m, ok := dict[keyString(p.Raw(r.foreignKey))]; ok && p.Raw(r.foreignKey) != nil {
			p.SetRelation(name, m)
		} else {
			p.SetRelation(name, nil)
		}
	}
	return nil
}

// HasOne declares a one-to-one relation. keys are the foreign key on the related schema
// (default "<parent>_id") and the local key on the parent (default its primary key).
func HasOne(related string, keys ...string) RelationFunc {
	return hasRelation(related, false, keys)
}

// HasMany declares a one-to-many relation with the same keys as HasOne.
func HasMany(related string, keys ...string) RelationFunc {
	return hasRelation(related, true, keys)
}

func hasRelation(related string, many bool, keys []string) RelationFunc {
	return func(parent *Model) Relation {
		r := &hasOneOrMany{parent: parent, related: related, many: many}
		if len(keys) > 0 {
			r.foreignKey = keys[0]
		}
		if len(keys) > 1 {
			r.localKey = keys[1]
		}
		if r.foreignKey == "" {
			r.foreignKey = parent.schema.ForeignKey()
		}
		if r.localKey == "" {
			r.localKey = parent.schema.PrimaryKey
		}
		return r
	}
}

// MorphOne declares a polymorphic one-to-one relation stored in "<name>_type" and
// "<name>_id" columns of the related schema.
func MorphOne(related, name string) RelationFunc {
	return morphRelation(related, name, false)
}

// MorphMany declares a polymorphic one-to-many relation, see MorphOne.
func MorphMany(related, name string) RelationFunc {
	return morphRelation(related, name, true)
}

func morphRelation(related, name string, many bool) RelationFunc {
	return func(parent *Model) Relation {
		return &hasOneOrMany{
			parent:     parent,
			related:    related,
			many:       many,
			foreignKey: name + "_id",
			localKey:   parent.schema.PrimaryKey,
			morphType:  name + "_type",
			morphClass: parent.reg.morphAlias(parent.schema.Name),
		}
	}
}

type hasOneOrMany struct {
	parent     *Model
	related    string
	many       bool
	foreignKey string
	localKey   string
	morphType  string
	morphClass string
}

func (r *hasOneOrMany) Kind() RelationKind {
	switch {
	case r.morphType != "" && r.many:
		return KindMorphMany
	case r.morphType != "":
		return KindMorphOne
	case r.many:
		return KindHasMany
	}
	return KindHasOne
}

// query returns the related query with the morph type constraint, if any.
func (r *hasOneOrMany) query() (*Query, *Schema, error) {
	s, err := r.parent.reg.Schema(r.related)
	if err != nil {
		return nil, nil, err
	}
	q := r.parent.reg.Query(s.Name)
	if r.morphType != "" {
		q.Where(s.Qualify(r.morphType), r.morphClass)
	}
	return q, s, nil
}

func (r *hasOneOrMany) empty() any {
	if r.many {
		return []*Model{}
	}
	return nil
}

func (r *hasOneOrMany) Get(ctx context.Context) (any, error) {
	key := r.parent.Raw(r.localKey)
	if key == nil {
		return r.empty(), nil
	}
	q, s, err := r.query()
	if err != nil {
		return nil, err
	}
	q.Where(s.Qualify(r.foreignKey), key)
	if r.many {
		return q.Get(ctx)
	}
	m, err := q.First(ctx)
	if err != nil || m == nil {
		return nil, err
	}
	return m, nil
}

func (r *hasOneOrMany) eager(ctx context.Context, parents []*Model, name string, constrain func(*Query), nested []eagerLoad) error {
	dict := map[string][]*Model{}
	if keys := collectKeys(parents, r.localKey); len(keys) > 0 {
		q, s, err := r.query()
		if err != nil {
			return err
		}
		related, err := applyLoad(q.WhereIn(s.Qualify(r.foreignKey), keys), constrain, nested).Get(ctx)
		if err != nil {
			return err
		}
		for _, m := range related {
			k := keyString(m.Raw(r.foreignKey))
			dict[k] = append(dict[k], m)
		}
	}
	for _, p := range parents {
		matched := dict[keyString(p.Raw(r.localKey))]
		if p.Raw(r.localKey) == nil {
			matched = nil
		}
		switch {
		case r.many && matched == nil:
			p.SetRelation(name, []*Model{})
		case r.many:
			p.SetRelation(name, matched)
		case len(matched) > 0:
			p.SetRelation(name, matched[0])
		default:
			p.SetRelation(name, nil)
		}
	}
	return nil
}

// aggregate runs one grouped query for every parent and stores the value under agg.alias,
// defaulting to zero.
func (r *hasOneOrMany) aggregate(ctx context.Context, parents []*Model, agg aggregateLoad) error {
	values := map[string]any{}
	if keys := collectKeys(parents, r.localKey); len(keys) > 0 {
		q, s, err := r.query()
		if err != nil {
			return err
		}
		b := q.WhereIn(s.Qualify(r.foreignKey), keys).Builder()
		g := b.Grammar()
		expr := "count(*)"
		if agg.column != "*" {
			expr = agg.function + "(" + g.Wrap(s.Qualify(agg.column)) + ")"
		}
		fk := s.Qualify(r.foreignKey)
		rows, err := b.Select(fk).SelectRaw(expr + " as " + g.Wrap(agg.alias)).GroupBy(fk).Get(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			values[keyString(row[r.foreignKey])] = row[agg.alias]
		}
	}
	for _, p := range parents {
		v := values[keyString(p.Raw(r.localKey))]
		switch agg.function {
		case "count":
			v = cast.ToInt64(v)
		case "sum", "avg":
			v = cast.ToFloat64(v)
		default:
			if v == nil {
				v = int64(0)
			}
		}
		p.SetTransient(agg.alias, v)
	}
	return nil
}

// MorphTo declares the owning side of a polymorphic relation stored in "<name>_type" and
// "<name>_id". Type strings resolve through the registry's morph map.
func MorphTo(name string) RelationFunc {
	return func(parent *Model) Relation {
		return &morphTo{parent: parent, typeColumn: name + "_type", idColumn: name + "_id"}
	}
}

type morphTo struct {
	parent     *Model
	typeColumn string
	idColumn   string
}

func (r *morphTo) Kind() RelationKind { return KindMorphTo }

func (r *morphTo) Get(ctx context.Context) (any, error) {
	typ, id := r.parent.Raw(r.typeColumn), r.parent.Raw(r.idColumn)
	if typ == nil || id == nil {
		return nil, nil
	}
	s, err := r.parent.reg.morphSchema(cast.ToString(typ))
	if err != nil {
		return nil, err
	}
	m, err := r.parent.reg.Query(s.Name).Find(ctx, id)
	if err != nil || m == nil {
		return nil, err
	}
	return m, nil
}

// eager runs one query per distinct stored type.
func (r *morphTo) eager(ctx context.Context, parents []*Model, name string, constrain func(*Query), nested []eagerLoad) error {
	var types []string
	groups := map[string][]*Model{}
	for _, p := range parents {
		p.SetRelation(name, nil)
		typ := p.Raw(r.typeColumn)
		if typ == nil || p.Raw(r.idColumn) == nil {
			continue
		}
		t := cast.ToString(typ)
		if _, ok := groups[t]; !ok {
			types = append(types, t)
		}
		groups[t] = append(groups[t], p)
	}
	for _, t := range types {
		s, err := r.parent.reg.morphSchema(t)
		if err != nil {
			return err
		}
		ids := collectKeys(groups[t], r.idColumn)
		related, err := applyLoad(r.parent.reg.Query(s.Name).WhereIn(s.Qualify(s.PrimaryKey), ids), constrain, nested).Get(ctx)
		if err != nil {
			return err
		}
		dict := make(map[string]*Model, len(related))
		for _, m := range related {
			dict[keyString(m.Key())] = m
		}
		for _, p := range groups[t] {
			if m, ok := dict[keyString(p.Raw(r.idColumn))]; ok {
				p.SetRelation(name, m)
			}
		}
	}
	return nil
}

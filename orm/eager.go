package orm

import (
	"context"
	"fmt"
	"strings"
)

// eagerLoad resolves loads over models with one query per root relation. Dotted names
// are grouped by their root; the remainder is loaded onto the related batch by the
// relation's own query, so each nesting level also costs one query per related type.
func (r *Registry) eagerLoad(ctx context.Context, s *Schema, models []*Model, loads []eagerLoad) error {
	if len(models) == 0 || len(loads) == 0 {
		return nil
	}
	type plan struct {
		constrain func(*Query)
		nested    []eagerLoad
	}
	var order []string
	plans := map[string]*plan{}
	for _, l := range loads {
		root, rest, _ := strings.Cut(l.name, ".")
		p, ok := plans[root]
		if !ok {
			p = &plan{}
			plans[root] = p
			order = append(order, root)
		}
		if rest == "" {
			if l.constrain != nil {
				p.constrain = l.constrain
			}
			continue
		}
		p.nested = append(p.nested, eagerLoad{name: rest, constrain: l.constrain})
	}

	for _, name := range order {
		fn, ok := s.Relations[name]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownRelation, s.Name, name)
		}
		rel := fn(r.newModel(s))
		if err := rel.eager(ctx, models, name, plans[name].constrain, plans[name].nested); err != nil {
			return fmt.Errorf("eager load %s.%s: %w", s.Name, name, err)
		}
	}
	return nil
}

// loadAggregate runs one grouped query for agg over models.
func (r *Registry) loadAggregate(ctx context.Context, s *Schema, models []*Model, agg aggregateLoad) error {
	fn, ok := s.Relations[agg.relation]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownRelation, s.Name, agg.relation)
	}
	rel, ok := fn(r.newModel(s)).(aggregatable)
	if !ok {
		return fmt.Errorf("%w: %s.%s cannot be aggregated", ErrUnknownRelation, s.Name, agg.relation)
	}
	return rel.aggregate(ctx, models, agg)
}

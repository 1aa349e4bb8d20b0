// Package orm maps rows to models: attribute casting, dirty tracking, lifecycle events,
// validation, relations with batched eager loading, global scopes and soft deletes.
//
// All metadata lives in a Registry. Schemas, listeners and scopes are registered at startup
// and a Registry can be Reset between tests.
package orm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satishbabariya/gorel/database"
	"github.com/satishbabariya/gorel/query/builder"
	"github.com/satishbabariya/gorel/validation"
)

// ConnectionResolver resolves named connections. *database.Manager implements it.
type ConnectionResolver interface {
	Connection(name string) (*database.Connection, error)
}

// Validator checks attributes against rules before a save. *validation.Validator
// implements it.
type Validator interface {
	Validate(ctx context.Context, attrs map[string]any, rules map[string][]string, subject validation.Subject) (map[string][]string, error)
}

type globalScope struct {
	id string
	fn func(*builder.Builder)
}

// Registry holds schemas, listeners, global scopes and the morph map.
type Registry struct {
	mu        sync.RWMutex
	conns     ConnectionResolver
	validator Validator
	now       func() time.Time

	schemas   map[string]*Schema
	listeners map[string]map[Event][]Listener
	scopes    map[string][]globalScope
	morphs    map[string]string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithValidator replaces the default validator.
func WithValidator(v Validator) RegistryOption {
	return func(r *Registry) { r.validator = v }
}

// WithClock replaces time.Now for timestamps and soft deletes.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry resolving connections through conns.
func NewRegistry(conns ConnectionResolver, opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:     conns,
		validator: validation.New(),
		now:       time.Now,
	}
	r.Reset()
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reset forgets every schema, listener, scope and morph alias.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas = map[string]*Schema{}
	r.listeners = map[string]map[Event][]Listener{}
	r.scopes = map[string][]globalScope{}
	r.morphs = map[string]string{}
}

// Register boots s and makes it available by name. Soft-deleting schemas get their
// exclusion scope here.
func (r *Registry) Register(s *Schema) (*Schema, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("%w: schema has no name", ErrUnknownSchema)
	}
	s.boot()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[s.Name]; ok {
		return nil, fmt.Errorf("schema %q already registered", s.Name)
	}
	r.schemas[s.Name] = s
	if s.SoftDelete != nil {
		r.scopes[s.Name] = append(r.scopes[s.Name], globalScope{id: SoftDeleteScope, fn: s.SoftDelete.scope(s)})
	}
	return s, nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(s *Schema) *Schema {
	s, err := r.Register(s)
	if err != nil {
		panic(err)
	}
	return s
}

// Schema returns a registered schema.
func (r *Registry) Schema(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	return s, nil
}

// Listen registers fn for ev on the named schema.
func (r *Registry) Listen(schema string, ev Event, fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners[schema] == nil {
		r.listeners[schema] = map[Event][]Listener{}
	}
	r.listeners[schema][ev] = append(r.listeners[schema][ev], fn)
}

// AddGlobalScope applies fn to every query of the named schema until removed with
// WithoutGlobalScope(id).
func (r *Registry) AddGlobalScope(schema, id string, fn func(*builder.Builder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes[schema] = append(r.scopes[schema], globalScope{id: id, fn: fn})
}

func (r *Registry) globalScopes(schema string) []globalScope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]globalScope(nil), r.scopes[schema]...)
}

// MorphMap maps the type strings stored by polymorphic relations to schema names.
// Schemas without an alias are stored under their name.
func (r *Registry) MorphMap(aliases map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for alias, name := range aliases {
		r.morphs[alias] = name
	}
}

// morphAlias is the type string stored for the named schema.
func (r *Registry) morphAlias(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for alias, n := range r.morphs {
		if n == name {
			return alias
		}
	}
	return name
}

// morphSchema resolves a stored type string.
func (r *Registry) morphSchema(alias string) (*Schema, error) {
	r.mu.RLock()
	name, ok := r.morphs[alias]
	r.mu.RUnlock()
	if !ok {
		name = alias
	}
	return r.Schema(name)
}

// Connection resolves the schema's connection.
func (r *Registry) Connection(s *Schema) (*database.Connection, error) {
	return r.conns.Connection(s.Connection)
}

// table returns a builder on the schema's table without global scopes.
func (r *Registry) table(s *Schema) (*builder.Builder, error) {
	conn, err := r.Connection(s)
	if err != nil {
		return nil, err
	}
	return conn.Table(s.Table), nil
}

// New returns an unsaved model of the named schema.
func (r *Registry) New(name string) (*Model, error) {
	s, err := r.Schema(name)
	if err != nil {
		return nil, err
	}
	return r.newModel(s), nil
}

// Make returns an unsaved model filled with attrs.
func (r *Registry) Make(name string, attrs map[string]any) (*Model, error) {
	m, err := r.New(name)
	if err != nil {
		return nil, err
	}
	if err := m.Fill(attrs); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Registry) newModel(s *Schema) *Model {
	return &Model{
		reg:        r,
		schema:     s,
		attributes: map[string]any{},
		original:   map[string]any{},
		relations:  map[string]any{},
	}
}

// hydrate builds persisted models from rows and fires retrieved for each.
func (r *Registry) hydrate(ctx context.Context, s *Schema, rows []builder.Row) []*Model {
	models := make([]*Model, 0, len(rows))
	for _, row := range rows {
		m := r.newModel(s)
		for k, v := range row {
			m.attributes[k] = v
		}
		m.exists = true
		m.SyncOriginal()
		r.fire(ctx, Retrieved, m)
		models = append(models, m)
	}
	return models
}

package orm

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/satishbabariya/gorel/internal/debug"
	"github.com/satishbabariya/gorel/validation"
)

// Model is one row of a schema. Attributes are held in their storage form; Get applies
// casts and accessors on the way out.
type Model struct {
	reg    *Registry
	schema *Schema

	attributes map[string]any
	original   map[string]any
	relations  map[string]any

	exists             bool
	wasRecentlyCreated bool
}

// Schema returns the model's schema.
func (m *Model) Schema() *Schema { return m.schema }

// Exists reports whether the model is persisted.
func (m *Model) Exists() bool { return m.exists }

// WasRecentlyCreated reports whether the model was inserted by this instance.
func (m *Model) WasRecentlyCreated() bool { return m.wasRecentlyCreated }

// Key returns the primary key value.
func (m *Model) Key() any { return m.attributes[m.schema.PrimaryKey] }

// Get returns an attribute after its cast and accessor, or a loaded relation. Relations
// that were not loaded read as nil; use Related to fetch them.
func (m *Model) Get(key string) any {
	if v, ok := m.relations[key]; ok {
		return v
	}
	value := m.attributes[key]
	if c, ok := m.schema.Casts[key]; ok {
		got, err := c.Get(value)
		if err != nil {
			debug.Warn("attribute cast failed", "model", m.schema.Name, "attribute", key, "error", err)
		} else {
			value = got
		}
	}
	if a, ok := m.schema.Accessors[key]; ok && a.Get != nil {
		value = a.Get(m, value)
	}
	return value
}

// Raw returns an attribute in its storage form.
func (m *Model) Raw(key string) any { return m.attributes[key] }

// Set writes an attribute through its mutator and cast.
func (m *Model) Set(key string, value any) error {
	if a, ok := m.schema.Accessors[key]; ok && a.Set != nil {
		v, err := a.Set(m, value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", m.schema.Name, key, err)
		}
		value = v
	}
	if c, ok := m.schema.Casts[key]; ok {
		v, err := c.Set(value)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", m.schema.Name, key, err)
		}
		value = v
	}
	m.attributes[key] = value
	return nil
}

// Fill sets every fillable attribute of attrs. Attributes outside Fillable are ignored.
func (m *Model) Fill(attrs map[string]any) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !m.schema.fillable(k) {
			debug.Debug("ignoring non-fillable attribute", "model", m.schema.Name, "attribute", k)
			continue
		}
		if err := m.Set(k, attrs[k]); err != nil {
			return err
		}
	}
	return nil
}

// SetTransient sets an attribute without marking it dirty. Eager aggregates use it.
func (m *Model) SetTransient(key string, value any) {
	m.attributes[key] = value
	m.original[key] = value
}

// GetOriginal returns the attribute as last loaded or saved, after its cast.
func (m *Model) GetOriginal(key string) any {
	value := m.original[key]
	if c, ok := m.schema.Casts[key]; ok {
		if got, err := c.Get(value); err == nil {
			value = got
		}
	}
	return value
}

// SyncOriginal makes the current attributes the clean state.
func (m *Model) SyncOriginal() {
	m.original = make(map[string]any, len(m.attributes))
	for k, v := range m.attributes {
		m.original[k] = v
	}
}

// GetDirty returns the attributes that differ from the original state, in storage form.
func (m *Model) GetDirty() map[string]any {
	dirty := map[string]any{}
	for k, v := range m.attributes {
		orig, ok := m.original[k]
		if !ok || !equivalent(v, orig) {
			dirty[k] = v
		}
	}
	return dirty
}

// IsDirty reports whether any of keys, or any attribute when keys is empty, changed.
func (m *Model) IsDirty(keys ...string) bool {
	dirty := m.GetDirty()
	if len(keys) == 0 {
		return len(dirty) > 0
	}
	for _, k := range keys {
		if _, ok := dirty[k]; ok {
			return true
		}
	}
	return false
}

// IsClean is the negation of IsDirty.
func (m *Model) IsClean(keys ...string) bool { return !m.IsDirty(keys...) }

// equivalent compares storage values loosely so 1, int64(1) and "1" agree.
func equivalent(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return cast.ToString(a) == cast.ToString(b) && cast.ToString(a) != ""
}

// ToMap returns the visible attributes after casts and accessors, with loaded relations.
func (m *Model) ToMap() map[string]any {
	out := make(map[string]any, len(m.attributes)+len(m.relations))
	for k := range m.attributes {
		if !m.schema.hidden(k) {
			out[k] = m.Get(k)
		}
	}
	for k, a := range m.schema.Accessors {
		if _, ok := out[k]; !ok && a.Get != nil && !m.schema.hidden(k) {
			out[k] = m.Get(k)
		}
	}
	for name, rel := range m.relations {
		switch v := rel.(type) {
		case *Model:
			out[name] = v.ToMap()
		case []*Model:
			items := make([]map[string]any, len(v))
			for i, item := range v {
				items[i] = item.ToMap()
			}
			out[name] = items
		default:
			out[name] = nil
		}
	}
	return out
}

// Related returns a relation, fetching and caching it on first access. The result is a
// *Model (nil when missing) for singular relations and a []*Model for plural ones.
func (m *Model) Related(ctx context.Context, name string) (any, error) {
	if v, ok := m.relations[name]; ok {
		return v, nil
	}
	rel, err := m.relation(name)
	if err != nil {
		return nil, err
	}
	v, err := rel.Get(ctx)
	if err != nil {
		return nil, err
	}
	m.relations[name] = v
	return v, nil
}

// RelatedOne is Related for singular relations.
func (m *Model) RelatedOne(ctx context.Context, name string) (*Model, error) {
	v, err := m.Related(ctx, name)
	if err != nil {
		return nil, err
	}
	one, _ := v.(*Model)
	return one, nil
}

// RelatedMany is Related for plural relations.
func (m *Model) RelatedMany(ctx context.Context, name string) ([]*Model, error) {
	v, err := m.Related(ctx, name)
	if err != nil {
		return nil, err
	}
	many, _ := v.([]*Model)
	return many, nil
}

// SetRelation stores a loaded relation.
func (m *Model) SetRelation(name string, value any) {
	m.relations[name] = value
}

// RelationLoaded reports whether the relation is cached.
func (m *Model) RelationLoaded(name string) bool {
	_, ok := m.relations[name]
	return ok
}

func (m *Model) relation(name string) (Relation, error) {
	fn, ok := m.schema.Relations[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, m.schema.Name, name)
	}
	return fn(m), nil
}

// Load eager loads relations onto the model. Dotted names load nested relations.
func (m *Model) Load(ctx context.Context, relations ...string) error {
	loads := make([]eagerLoad, len(relations))
	for i, r := range relations {
		loads[i] = eagerLoad{name: r}
	}
	return m.reg.eagerLoad(ctx, m.schema, []*Model{m}, loads)
}

// Save validates the model and inserts or updates it. Updating a clean model issues no SQL.
func (m *Model) Save(ctx context.Context) error {
	if !m.reg.fire(ctx, Saving, m) {
		return fmt.Errorf("%s saving: %w", m.schema.Name, ErrAborted)
	}
	if m.persisted() && m.IsClean() {
		m.reg.fire(ctx, Saved, m)
		return nil
	}
	if err := m.validate(ctx); err != nil {
		return err
	}

	var err error
	if m.persisted() {
		err = m.performUpdate(ctx)
	} else {
		err = m.performInsert(ctx)
	}
	if err != nil {
		return err
	}
	m.reg.fire(ctx, Saved, m)
	m.SyncOriginal()
	return nil
}

// persisted routes saves: loaded models update, as do new models that already carry an
// incrementing key.
func (m *Model) persisted() bool {
	if m.exists {
		return true
	}
	return m.schema.KeyType == KeyIncrementing && m.Key() != nil
}

func (m *Model) validate(ctx context.Context) error {
	if len(m.schema.Rules) == 0 || m.reg.validator == nil {
		return nil
	}
	conn, err := m.reg.Connection(m.schema)
	if err != nil {
		return err
	}
	attrs := make(map[string]any, len(m.attributes))
	for k := range m.attributes {
		attrs[k] = m.Get(k)
	}
	subject := validation.Subject{Table: m.schema.Table, Key: m.schema.PrimaryKey, DB: conn}
	if m.persisted() {
		subject.IgnoreID = m.Key()
	}
	errs, err := m.reg.validator.Validate(ctx, attrs, m.schema.Rules, subject)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return &ValidationError{Model: m.schema.Name, Errors: errs}
	}
	return nil
}

func (m *Model) performInsert(ctx context.Context) error {
	if !m.reg.fire(ctx, Creating, m) {
		return fmt.Errorf("%s creating: %w", m.schema.Name, ErrAborted)
	}
	if m.schema.Timestamps {
		now := m.freshTimestamp()
		if m.attributes[m.schema.CreatedAt] == nil {
			m.attributes[m.schema.CreatedAt] = now
		}
		if m.attributes[m.schema.UpdatedAt] == nil {
			m.attributes[m.schema.UpdatedAt] = now
		}
	}
	if m.schema.KeyType == KeyUUID && m.Key() == nil {
		m.attributes[m.schema.PrimaryKey] = uuid.NewString()
	}

	b, err := m.reg.table(m.schema)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(m.attributes))
	for k, v := range m.attributes {
		values[k] = v
	}
	if m.schema.KeyType == KeyIncrementing {
		id, err := b.InsertGetID(ctx, values, m.schema.PrimaryKey)
		if err != nil {
			return err
		}
		m.attributes[m.schema.PrimaryKey] = id
	} else if err := b.Insert(ctx, values); err != nil {
		return err
	}
	m.exists = true
	m.wasRecentlyCreated = true
	m.reg.fire(ctx, Created, m)
	return nil
}

func (m *Model) performUpdate(ctx context.Context) error {
	if !m.reg.fire(ctx, Updating, m) {
		return fmt.Errorf("%s updating: %w", m.schema.Name, ErrAborted)
	}
	if m.schema.Timestamps && !m.IsDirty(m.schema.UpdatedAt) {
		m.attributes[m.schema.UpdatedAt] = m.freshTimestamp()
	}
	dirty := m.GetDirty()
	b, err := m.reg.table(m.schema)
	if err != nil {
		return err
	}
	if _, err := b.Where(m.schema.PrimaryKey, m.storedKey()).Update(ctx, dirty); err != nil {
		return err
	}
	m.exists = true
	m.reg.fire(ctx, Updated, m)
	return nil
}

// storedKey is the primary key the row is stored under, before any unsaved change to it.
func (m *Model) storedKey() any {
	if key, ok := m.original[m.schema.PrimaryKey]; ok && key != nil {
		return key
	}
	return m.Key()
}

// freshTimestamp formats the registry clock in the connection's storage format.
func (m *Model) freshTimestamp() string {
	layout := "2006-01-02 15:04:05"
	if conn, err := m.reg.Connection(m.schema); err == nil {
		layout = conn.Grammar().DateFormat()
	}
	return m.reg.now().UTC().Format(layout)
}

// Update fills attrs and saves.
func (m *Model) Update(ctx context.Context, attrs map[string]any) error {
	if err := m.Fill(attrs); err != nil {
		return err
	}
	return m.Save(ctx)
}

// Delete removes the model, or marks it deleted when the schema soft deletes.
func (m *Model) Delete(ctx context.Context) error {
	if !m.exists {
		return nil
	}
	if !m.reg.fire(ctx, Deleting, m) {
		return fmt.Errorf("%s deleting: %w", m.schema.Name, ErrAborted)
	}
	var err error
	if m.schema.SoftDelete != nil {
		err = m.schema.SoftDelete.delete(ctx, m)
	} else {
		err = m.hardDelete(ctx)
	}
	if err != nil {
		return err
	}
	m.reg.fire(ctx, Deleted, m)
	return nil
}

// ForceDelete removes the row even when the schema soft deletes.
func (m *Model) ForceDelete(ctx context.Context) error {
	if !m.exists {
		return nil
	}
	if !m.reg.fire(ctx, Deleting, m) {
		return fmt.Errorf("%s deleting: %w", m.schema.Name, ErrAborted)
	}
	if err := m.hardDelete(ctx); err != nil {
		return err
	}
	m.reg.fire(ctx, Deleted, m)
	return nil
}

func (m *Model) hardDelete(ctx context.Context) error {
	b, err := m.reg.table(m.schema)
	if err != nil {
		return err
	}
	if _, err := b.Where(m.schema.PrimaryKey, m.storedKey()).Delete(ctx); err != nil {
		return err
	}
	m.exists = false
	return nil
}

// Trashed reports whether a soft-deleting model is marked deleted.
func (m *Model) Trashed() bool {
	return m.schema.SoftDelete != nil && m.attributes[m.schema.SoftDelete.Column] != nil
}

// Restore clears the soft delete marker.
func (m *Model) Restore(ctx context.Context) error {
	if m.schema.SoftDelete == nil {
		return fmt.Errorf("%s does not soft delete", m.schema.Name)
	}
	if !m.reg.fire(ctx, Restoring, m) {
		return fmt.Errorf("%s restoring: %w", m.schema.Name, ErrAborted)
	}
	m.attributes[m.schema.SoftDelete.Column] = nil
	if err := m.Save(ctx); err != nil {
		return err
	}
	m.reg.fire(ctx, Restored, m)
	return nil
}

// Refresh reloads the attributes from the database and drops cached relations.
func (m *Model) Refresh(ctx context.Context) error {
	if !m.exists {
		return nil
	}
	q := m.reg.Query(m.schema.Name).WithoutGlobalScopes()
	fresh, err := q.FindOrFail(ctx, m.Key())
	if err != nil {
		return err
	}
	m.attributes = fresh.attributes
	m.relations = map[string]any{}
	m.SyncOriginal()
	return nil
}

package orm

import (
	"context"

	"github.com/satishbabariya/gorel/query/builder"
)

// SoftDeleteScope is the global scope id excluding soft-deleted rows.
const SoftDeleteScope = "soft_deletes"

// SoftDelete marks rows deleted with a timestamp instead of removing them. Queries of the
// schema exclude marked rows unless WithTrashed or OnlyTrashed is used.
type SoftDelete struct {
	// Column holds the deletion time. Defaults to deleted_at.
	Column string
}

func (sd *SoftDelete) scope(s *Schema) func(*builder.Builder) {
	column := s.Qualify(sd.Column)
	return func(b *builder.Builder) { b.WhereNull(column) }
}

// delete stamps the marker, and the update timestamp when the schema keeps one.
func (sd *SoftDelete) delete(ctx context.Context, m *Model) error {
	now := m.freshTimestamp()
	values := map[string]any{sd.Column: now}
	if m.schema.Timestamps {
		values[m.schema.UpdatedAt] = now
	}
	b, err := m.reg.table(m.schema)
	if err != nil {
		return err
	}
	if _, err := b.Where(m.schema.PrimaryKey, m.storedKey()).Update(ctx, values); err != nil {
		return err
	}
	for k, v := range values {
		m.SetTransient(k, v)
	}
	return nil
}

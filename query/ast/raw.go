package ast

import (
	"errors"
	"fmt"

	"github.com/satishbabariya/gorel/internal/sqltext"
)

// ErrPlaceholderMismatch is returned when a raw expression's `?` count differs from its bindings.
var ErrPlaceholderMismatch = errors.New("raw expression: placeholder count does not match bindings")

// Raw is literal SQL with its own positional bindings. It is immutable.
type Raw struct {
	sql      string
	bindings []any
}

// NewRaw creates a raw expression after checking that every `?` has a binding.
func NewRaw(sql string, bindings ...any) (Raw, error) {
	if n := sqltext.CountPlaceholders(sql); n != len(bindings) {
		return Raw{}, fmt.Errorf("%w: %q has %d placeholders, got %d bindings", ErrPlaceholderMismatch, sql, n, len(bindings))
	}
	return Raw{sql: sql, bindings: append([]any(nil), bindings...)}, nil
}

// MustRaw is like NewRaw but panics on a placeholder mismatch.
func MustRaw(sql string, bindings ...any) Raw {
	r, err := NewRaw(sql, bindings...)
	if err != nil {
		panic(err)
	}
	return r
}

// SQL returns the expression text.
func (r Raw) SQL() string { return r.sql }

// Bindings returns a copy of the expression bindings.
func (r Raw) Bindings() []any { return append([]any(nil), r.bindings...) }

func (r Raw) String() string { return r.sql }

// ValueBindings returns the bindings a value contributes when compiled as a parameter:
// a raw expression contributes its own bindings, anything else contributes itself.
func ValueBindings(v any) []any {
	if r, ok := v.(Raw); ok {
		return r.Bindings()
	}
	return []any{v}
}

// IsRaw reports whether v is a raw expression.
func IsRaw(v any) bool {
	_, ok := v.(Raw)
	return ok
}

package orm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrAborted is returned when a cancellable event listener returns false.
	ErrAborted = errors.New("operation aborted by listener")

	// ErrModelNotFound is returned by FirstOrFail and FindOrFail.
	ErrModelNotFound = errors.New("model not found")

	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownSchema is returned for a schema name that was never registered.
	ErrUnknownSchema = errors.New("unknown schema")

	// ErrUnknownRelation is returned for a relation name the schema does not declare.
	ErrUnknownRelation = errors.New("unknown relation")

	// ErrCast is returned when a value cannot be converted by an attribute cast.
	ErrCast = errors.New("invalid attribute value")
)

// ValidationError carries every failed rule of a save, keyed by attribute.
type ValidationError struct {
	Model  string
	Errors map[string][]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e.Errors[f], ", "))
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Model, strings.Join(parts, "; "))
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError is returned when no model matches a lookup.
type NotFoundError struct {
	Model string
	IDs   []any
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if len(e.IDs) == 0 {
		return fmt.Sprintf("no %s found", e.Model)
	}
	return fmt.Sprintf("no %s found for %v", e.Model, e.IDs)
}

// Is reports whether target is ErrModelNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrModelNotFound
}

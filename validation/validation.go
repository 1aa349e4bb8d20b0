// Package validation checks attribute maps against rule lists such as
// []string{"required", "email", "unique", "max:255"}.
package validation

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cast"

	"github.com/satishbabariya/gorel/query/builder"
)

// ErrUnknownRule is returned for a rule name with no registered checker.
var ErrUnknownRule = errors.New("unknown validation rule")

// Tables starts queries for database-backed rules. *database.Connection implements it.
type Tables interface {
	Table(table string) *builder.Builder
}

// Subject describes the record being validated.
type Subject struct {
	// Table and Key are the defaults for unique checks.
	Table string
	Key   string
	// IgnoreID excludes the record itself from unique checks.
	IgnoreID any
	DB       Tables
}

// Check is one rule application.
type Check struct {
	Field   string
	Value   any
	Param   string
	Attrs   map[string]any
	Subject Subject
}

// Rule returns a failure message, or "" when the check passes.
type Rule func(ctx context.Context, c Check) (string, error)

// Validator holds the rule set.
type Validator struct {
	rules map[string]Rule
}

// New returns a validator with the built-in rules: required, unique, min, max, email,
// confirmed, in and numeric.
func New() *Validator {
	v := &Validator{rules: map[string]Rule{}}
	v.Extend("unique", unique)
	v.Extend("min", minRule)
	v.Extend("max", maxRule)
	v.Extend("email", email)
	v.Extend("confirmed", confirmed)
	v.Extend("in", in)
	v.Extend("numeric", numeric)
	return v
}

// Extend registers or replaces a rule.
func (v *Validator) Extend(name string, rule Rule) {
	v.rules[name] = rule
}

// Validate applies rules to attrs and returns the failure messages per field. An empty map
// means the attributes are valid. Rules other than required are skipped for empty values.
func (v *Validator) Validate(ctx context.Context, attrs map[string]any, rules map[string][]string, subject Subject) (map[string][]string, error) {
	failures := map[string][]string{}
	fields := make([]string, 0, len(rules))
	for f := range rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := attrs[field]
		for _, spec := range rules[field] {
			name, param, _ := strings.Cut(spec, ":")
			if name == "required" {
				if isEmpty(value) {
					failures[field] = append(failures[field], "is required")
				}
				continue
			}
			rule, ok := v.rules[name]
			if !ok {
				return nil, fmt.Errorf("%w: %q on %s", ErrUnknownRule, name, field)
			}
			if isEmpty(value) {
				continue
			}
			msg, err := rule(ctx, Check{Field: field, Value: value, Param: param, Attrs: attrs, Subject: subject})
			if err != nil {
				return nil, fmt.Errorf("validate %s: %w", field, err)
			}
			if msg != "" {
				failures[field] = append(failures[field], msg)
			}
		}
	}
	return failures, nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

// unique takes an optional "table,column" parameter.
func unique(ctx context.Context, c Check) (string, error) {
	if c.Subject.DB == nil {
		return "", errors.New("unique rule needs a database")
	}
	table, column := c.Subject.Table, c.Field
	if c.Param != "" {
		parts := strings.SplitN(c.Param, ",", 2)
		table = parts[0]
		if len(parts) == 2 && parts[1] != "" {
			column = parts[1]
		}
	}
	q := c.Subject.DB.Table(table).Where(column, c.Value)
	if c.Subject.IgnoreID != nil && c.Subject.Key != "" {
		q.Where(c.Subject.Key, "<>", c.Subject.IgnoreID)
	}
	n, err := q.Count(ctx)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "has already been taken", nil
	}
	return "", nil
}

// size measures strings in characters, collections by length and numbers by value.
func size(v any) (float64, bool) {
	switch x := v.(type) {
	case string:
		return float64(utf8.RuneCountInString(x)), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return float64(rv.Len()), true
	}
	f, err := cast.ToFloat64E(v)
	return f, err == nil
}

func bound(c Check) (float64, error) {
	n, err := strconv.ParseFloat(c.Param, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bound %q", c.Param)
	}
	return n, nil
}

func minRule(_ context.Context, c Check) (string, error) {
	n, err := bound(c)
	if err != nil {
		return "", err
	}
	s, ok := size(c.Value)
	if !ok || s < n {
		return "must be at least " + c.Param + unit(c.Value), nil
	}
	return "", nil
}

func maxRule(_ context.Context, c Check) (string, error) {
	n, err := bound(c)
	if err != nil {
		return "", err
	}
	s, ok := size(c.Value)
	if !ok || s > n {
		return "may not be greater than " + c.Param + unit(c.Value), nil
	}
	return "", nil
}

func unit(v any) string {
	switch reflect.ValueOf(v).Kind() {
	case reflect.String:
		return " characters"
	case reflect.Slice, reflect.Map, reflect.Array:
		return " items"
	}
	return ""
}

func email(_ context.Context, c Check) (string, error) {
	s, ok := c.Value.(string)
	if ok {
		if addr, err := mail.ParseAddress(s); err == nil && addr.Address == s {
			return "", nil
		}
	}
	return "must be a valid email address", nil
}

func confirmed(_ context.Context, c Check) (string, error) {
	other, ok := c.Attrs[c.Field+"_confirmation"]
	if !ok || cast.ToString(other) != cast.ToString(c.Value) {
		return "confirmation does not match", nil
	}
	return "", nil
}

func in(_ context.Context, c Check) (string, error) {
	value := cast.ToString(c.Value)
	for _, allowed := range strings.Split(c.Param, ",") {
		if value == allowed {
			return "", nil
		}
	}
	return "is invalid", nil
}

func numeric(_ context.Context, c Check) (string, error) {
	if s, ok := c.Value.(string); ok {
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return "must be a number", nil
		}
		return "", nil
	}
	if _, err := cast.ToFloat64E(c.Value); err != nil {
		return "must be a number", nil
	}
	return "", nil
}

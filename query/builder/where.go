package builder

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/satishbabariya/gorel/query/ast"
	"github.com/satishbabariya/gorel/query/grammar"
)

// operatorAndValue reads `value` or `operator, value` arguments.
func operatorAndValue(args []any) (string, any, error) {
	switch len(args) {
	case 1:
		return "=", args[0], nil
	case 2:
		op, ok := args[0].(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: operator must be a string, got %T", ErrInvalidOperator, args[0])
		}
		op = strings.ToLower(strings.TrimSpace(op))
		if !operators[op] {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidOperator, op)
		}
		return op, args[1], nil
	}
	return "", nil, fmt.Errorf("%w: expected value or operator and value, got %d arguments", ErrInvalidArguments, len(args))
}

// addWhere appends a node, tagging it with the active scope and recording how many
// bindings it contributed so scope removal can splice them out later.
func (b *Builder) addWhere(w ast.Where, boolean ast.Boolean, bindings ...any) *Builder {
	m := ast.MetaOf(w)
	m.Boolean = boolean
	m.Scope = b.scope
	m.Count = len(bindings)
	b.query.Wheres = append(b.query.Wheres, w)
	b.query.Bindings.Add(ast.ClauseWhere, bindings...)
	return b
}

func (b *Builder) where(boolean ast.Boolean, column string, args []any) *Builder {
	op, value, err := operatorAndValue(args)
	if err != nil {
		return b.AddError(fmt.Errorf("where %s: %w", column, err))
	}
	switch v := value.(type) {
	case nil:
		switch op {
		case "=", "is":
			return b.addWhere(&ast.Null{Column: column}, boolean)
		case "!=", "<>", "is not":
			return b.addWhere(&ast.Null{Column: column, Not: true}, boolean)
		}
	case *Builder, func(*Builder):
		return b.whereSub(boolean, column, op, v)
	}
	return b.addWhere(&ast.Basic{Column: column, Operator: op, Value: value}, boolean, ast.ValueBindings(value)...)
}

// Where adds `column = value` or `column operator value`. A nil value compiles to a null
// check, a *Builder or func(*Builder) value to a subquery comparison.
func (b *Builder) Where(column string, args ...any) *Builder {
	return b.where(ast.And, column, args)
}

// OrWhere adds a condition joined with or.
func (b *Builder) OrWhere(column string, args ...any) *Builder {
	return b.where(ast.Or, column, args)
}

// WhereMap adds an equality condition per map entry, in sorted column order.
func (b *Builder) WhereMap(conditions map[string]any) *Builder {
	cols := make([]string, 0, len(conditions))
	for c := range conditions {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		b.Where(c, conditions[c])
	}
	return b
}

func (b *Builder) whereColumn(boolean ast.Boolean, first string, args []string) *Builder {
	op, second := "=", ""
	switch len(args) {
	case 1:
		second = args[0]
	case 2:
		op, second = strings.ToLower(strings.TrimSpace(args[0])), args[1]
		if !operators[op] {
			return b.AddError(fmt.Errorf("%w: %q", ErrInvalidOperator, op))
		}
	default:
		return b.AddError(fmt.Errorf("%w: column comparison needs a second column", ErrInvalidArguments))
	}
	return b.addWhere(&ast.ColumnCompare{First: first, Operator: op, Second: second}, boolean)
}

// WhereColumn compares two columns.
func (b *Builder) WhereColumn(first string, args ...string) *Builder {
	return b.whereColumn(ast.And, first, args)
}

// OrWhereColumn compares two columns, joined with or.
func (b *Builder) OrWhereColumn(first string, args ...string) *Builder {
	return b.whereColumn(ast.Or, first, args)
}

func (b *Builder) whereRaw(boolean ast.Boolean, sql string, bindings []any) *Builder {
	raw, err := ast.NewRaw(sql, bindings...)
	if err != nil {
		return b.AddError(err)
	}
	return b.addWhere(&ast.RawClause{Expr: raw}, boolean, raw.Bindings()...)
}

// WhereRaw adds a raw condition.
func (b *Builder) WhereRaw(sql string, bindings ...any) *Builder {
	return b.whereRaw(ast.And, sql, bindings)
}

// OrWhereRaw adds a raw condition joined with or.
func (b *Builder) OrWhereRaw(sql string, bindings ...any) *Builder {
	return b.whereRaw(ast.Or, sql, bindings)
}

// WhereNull adds an is null condition.
func (b *Builder) WhereNull(column string) *Builder {
	return b.addWhere(&ast.Null{Column: column}, ast.And)
}

// OrWhereNull adds an is null condition joined with or.
func (b *Builder) OrWhereNull(column string) *Builder {
	return b.addWhere(&ast.Null{Column: column}, ast.Or)
}

// WhereNotNull adds an is not null condition.
func (b *Builder) WhereNotNull(column string) *Builder {
	return b.addWhere(&ast.Null{Column: column, Not: true}, ast.And)
}

// OrWhereNotNull adds an is not null condition joined with or.
func (b *Builder) OrWhereNotNull(column string) *Builder {
	return b.addWhere(&ast.Null{Column: column, Not: true}, ast.Or)
}

func (b *Builder) whereBetween(boolean ast.Boolean, column string, low, high any, not bool) *Builder {
	bindings := append(ast.ValueBindings(low), ast.ValueBindings(high)...)
	return b.addWhere(&ast.Between{Column: column, Min: low, Max: high, Not: not}, boolean, bindings...)
}

// WhereBetween adds a between condition.
func (b *Builder) WhereBetween(column string, low, high any) *Builder {
	return b.whereBetween(ast.And, column, low, high, false)
}

// OrWhereBetween adds a between condition joined with or.
func (b *Builder) OrWhereBetween(column string, low, high any) *Builder {
	return b.whereBetween(ast.Or, column, low, high, false)
}

// WhereNotBetween adds a not between condition.
func (b *Builder) WhereNotBetween(column string, low, high any) *Builder {
	return b.whereBetween(ast.And, column, low, high, true)
}

// OrWhereNotBetween adds a not between condition joined with or.
func (b *Builder) OrWhereNotBetween(column string, low, high any) *Builder {
	return b.whereBetween(ast.Or, column, low, high, true)
}

func (b *Builder) whereIn(boolean ast.Boolean, column string, values any, not bool) *Builder {
	switch v := values.(type) {
	case *Builder, func(*Builder):
		q, bindings, err := b.compileSub(v)
		if err != nil {
			return b.AddError(err)
		}
		return b.addWhere(&ast.InSub{Column: column, Query: q, Not: not}, boolean, bindings...)
	}
	list, err := toSlice(values)
	if err != nil {
		return b.AddError(fmt.Errorf("where in %s: %w", column, err))
	}
	var bindings []any
	for _, v := range list {
		bindings = append(bindings, ast.ValueBindings(v)...)
	}
	return b.addWhere(&ast.In{Column: column, Values: list, Not: not}, boolean, bindings...)
}

// WhereIn adds an in condition. values is a slice, a *Builder or a func(*Builder).
// An empty slice compiles to a condition that matches nothing.
func (b *Builder) WhereIn(column string, values any) *Builder {
	return b.whereIn(ast.And, column, values, false)
}

// OrWhereIn adds an in condition joined with or.
func (b *Builder) OrWhereIn(column string, values any) *Builder {
	return b.whereIn(ast.Or, column, values, false)
}

// WhereNotIn adds a not in condition.
func (b *Builder) WhereNotIn(column string, values any) *Builder {
	return b.whereIn(ast.And, column, values, true)
}

// OrWhereNotIn adds a not in condition joined with or.
func (b *Builder) OrWhereNotIn(column string, values any) *Builder {
	return b.whereIn(ast.Or, column, values, true)
}

func toSlice(values any) ([]any, error) {
	if list, ok := values.([]any); ok {
		return list, nil
	}
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: expected a slice, got %T", ErrInvalidArguments, values)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func (b *Builder) whereSub(boolean ast.Boolean, column, op string, sub any) *Builder {
	q, bindings, err := b.compileSub(sub)
	if err != nil {
		return b.AddError(err)
	}
	return b.addWhere(&ast.Sub{Column: column, Operator: op, Query: q}, boolean, bindings...)
}

// WhereSub compares a column with the result of a subquery.
func (b *Builder) WhereSub(column, operator string, sub any) *Builder {
	op := strings.ToLower(strings.TrimSpace(operator))
	if !operators[op] {
		return b.AddError(fmt.Errorf("%w: %q", ErrInvalidOperator, operator))
	}
	return b.whereSub(ast.And, column, op, sub)
}

func (b *Builder) whereExists(boolean ast.Boolean, sub any, not bool) *Builder {
	q, bindings, err := b.compileSub(sub)
	if err != nil {
		return b.AddError(err)
	}
	return b.addWhere(&ast.Exists{Query: q, Not: not}, boolean, bindings...)
}

// WhereExists adds an exists condition.
func (b *Builder) WhereExists(sub any) *Builder { return b.whereExists(ast.And, sub, false) }

// OrWhereExists adds an exists condition joined with or.
func (b *Builder) OrWhereExists(sub any) *Builder { return b.whereExists(ast.Or, sub, false) }

// WhereNotExists adds a not exists condition.
func (b *Builder) WhereNotExists(sub any) *Builder { return b.whereExists(ast.And, sub, true) }

// OrWhereNotExists adds a not exists condition joined with or.
func (b *Builder) OrWhereNotExists(sub any) *Builder { return b.whereExists(ast.Or, sub, true) }

func (b *Builder) nested(boolean ast.Boolean, fn func(*Builder), not bool) *Builder {
	child := b.newQuery().From(b.query.Table)
	fn(child)
	if child.err != nil {
		return b.AddError(child.err)
	}
	if len(child.query.Wheres) == 0 {
		return b
	}
	return b.addWhere(&ast.Nested{Query: child.query, Not: not}, boolean, child.query.Bindings.Of(ast.ClauseWhere)...)
}

// WhereNested adds a parenthesized group of conditions built by fn.
func (b *Builder) WhereNested(fn func(*Builder)) *Builder { return b.nested(ast.And, fn, false) }

// OrWhereNested adds a parenthesized group joined with or.
func (b *Builder) OrWhereNested(fn func(*Builder)) *Builder { return b.nested(ast.Or, fn, false) }

// WhereNot adds a negated group of conditions.
func (b *Builder) WhereNot(fn func(*Builder)) *Builder { return b.nested(ast.And, fn, true) }

// OrWhereNot adds a negated group joined with or.
func (b *Builder) OrWhereNot(fn func(*Builder)) *Builder { return b.nested(ast.Or, fn, true) }

func (b *Builder) whereDatePart(boolean ast.Boolean, part ast.Part, column string, args []any) *Builder {
	op, value, err := operatorAndValue(args)
	if err != nil {
		return b.AddError(fmt.Errorf("where %s %s: %w", part, column, err))
	}
	value = b.datePartValue(part, value)
	return b.addWhere(&ast.DatePart{Part: part, Column: column, Operator: op, Value: value}, boolean, ast.ValueBindings(value)...)
}

// datePartValue formats time values for the extracted part and zero-pads days and months.
func (b *Builder) datePartValue(part ast.Part, value any) any {
	if t, ok := value.(time.Time); ok {
		switch part {
		case ast.PartDate:
			return t.Format("2006-01-02")
		case ast.PartTime:
			return t.Format("15:04:05")
		case ast.PartDay:
			return t.Format("02")
		case ast.PartMonth:
			return t.Format("01")
		case ast.PartYear:
			return t.Format("2006")
		case ast.PartDayOfWeek:
			// MySQL numbers days from 1 (Sunday); the other dialects from 0.
			if b.grammar.Dialect() == grammar.MySQL {
				return int(t.Weekday()) + 1
			}
			return int(t.Weekday())
		}
	}
	if part == ast.PartDay || part == ast.PartMonth {
		if _, isString := value.(string); !isString {
			if n, err := cast.ToIntE(value); err == nil {
				return fmt.Sprintf("%02d", n)
			}
		}
	}
	return value
}

// WhereDate compares the date part of a column.
func (b *Builder) WhereDate(column string, args ...any) *Builder {
	return b.whereDatePart(ast.And, ast.PartDate, column, args)
}

// OrWhereDate compares the date part of a column, joined with or.
func (b *Builder) OrWhereDate(column string, args ...any) *Builder {
	return b.whereDatePart(ast.Or, ast.PartDate, column, args)
}

// WhereTime compares the time part of a column.
func (b *Builder) WhereTime(column string, args ...any) *Builder {
	return b.whereDatePart(ast.And, ast.PartTime, column, args)
}

// WhereDay compares the day of month of a column.
func (b *Builder) WhereDay(column string, args ...any) *Builder {
	return b.whereDatePart(ast.And, ast.PartDay, column, args)
}

// WhereMonth compares the month of a column.
func (b *Builder) WhereMonth(column string, args ...any) *Builder {
	return b.whereDatePart(ast.And, ast.PartMonth, column, args)
}

// WhereYear compares the year of a column.
func (b *Builder) WhereYear(column string, args ...any) *Builder {
	return b.whereDatePart(ast.And, ast.PartYear, column, args)
}

// WhereDayOfWeek compares the day of week of a column.
func (b *Builder) WhereDayOfWeek(column string, args ...any) *Builder {
	return b.whereDatePart(ast.And, ast.PartDayOfWeek, column, args)
}

func (b *Builder) whereRegexp(boolean ast.Boolean, column string, pattern any, not bool) *Builder {
	return b.addWhere(&ast.Regexp{Column: column, Pattern: pattern, Not: not}, boolean, ast.ValueBindings(pattern)...)
}

// WhereRegexp adds a regular expression match.
func (b *Builder) WhereRegexp(column string, pattern any) *Builder {
	return b.whereRegexp(ast.And, column, pattern, false)
}

// OrWhereRegexp adds a regular expression match joined with or.
func (b *Builder) OrWhereRegexp(column string, pattern any) *Builder {
	return b.whereRegexp(ast.Or, column, pattern, false)
}

// WhereNotRegexp adds a negated regular expression match.
func (b *Builder) WhereNotRegexp(column string, pattern any) *Builder {
	return b.whereRegexp(ast.And, column, pattern, true)
}

// FullTextOption configures a full-text condition.
type FullTextOption func(*ast.FullText)

// InBooleanMode selects MySQL boolean mode.
func InBooleanMode() FullTextOption {
	return func(f *ast.FullText) { f.Boolean = true }
}

// Language sets the PostgreSQL text search configuration.
func Language(language string) FullTextOption {
	return func(f *ast.FullText) { f.Language = language }
}

func (b *Builder) whereFullText(boolean ast.Boolean, columns []string, value any, opts []FullTextOption) *Builder {
	w := &ast.FullText{Columns: columns, Value: value}
	for _, opt := range opts {
		opt(w)
	}
	return b.addWhere(w, boolean, ast.ValueBindings(value)...)
}

// WhereFullText adds a full-text search. SQLite does not support it and fails at compile time.
func (b *Builder) WhereFullText(columns []string, value any, opts ...FullTextOption) *Builder {
	return b.whereFullText(ast.And, columns, value, opts)
}

// OrWhereFullText adds a full-text search joined with or.
func (b *Builder) OrWhereFullText(columns []string, value any, opts ...FullTextOption) *Builder {
	return b.whereFullText(ast.Or, columns, value, opts)
}

func (b *Builder) whereJSONContains(boolean ast.Boolean, column string, value any, not bool) *Builder {
	value = b.grammar.PrepareJSONContainsBinding(value)
	return b.addWhere(&ast.JSONContains{Column: column, Value: value, Not: not}, boolean, ast.ValueBindings(value)...)
}

// WhereJSONContains adds a JSON containment test.
func (b *Builder) WhereJSONContains(column string, value any) *Builder {
	return b.whereJSONContains(ast.And, column, value, false)
}

// OrWhereJSONContains adds a JSON containment test joined with or.
func (b *Builder) OrWhereJSONContains(column string, value any) *Builder {
	return b.whereJSONContains(ast.Or, column, value, false)
}

// WhereJSONDoesntContain adds a negated JSON containment test.
func (b *Builder) WhereJSONDoesntContain(column string, value any) *Builder {
	return b.whereJSONContains(ast.And, column, value, true)
}

// OrWhereJSONDoesntContain adds a negated JSON containment test joined with or.
func (b *Builder) OrWhereJSONDoesntContain(column string, value any) *Builder {
	return b.whereJSONContains(ast.Or, column, value, true)
}

func (b *Builder) whereJSONLength(boolean ast.Boolean, column string, args []any) *Builder {
	op, value, err := operatorAndValue(args)
	if err != nil {
		return b.AddError(fmt.Errorf("where json length %s: %w", column, err))
	}
	return b.addWhere(&ast.JSONLength{Column: column, Operator: op, Value: value}, boolean, ast.ValueBindings(value)...)
}

// WhereJSONLength compares the length of a JSON array.
func (b *Builder) WhereJSONLength(column string, args ...any) *Builder {
	return b.whereJSONLength(ast.And, column, args)
}

// OrWhereJSONLength compares the length of a JSON array, joined with or.
func (b *Builder) OrWhereJSONLength(column string, args ...any) *Builder {
	return b.whereJSONLength(ast.Or, column, args)
}

// ApplyScope runs fn with every where it adds tagged as id, so RemoveScope can undo it.
func (b *Builder) ApplyScope(id string, fn func(*Builder)) *Builder {
	prev := b.scope
	b.scope = id
	fn(b)
	b.scope = prev
	return b
}

// RemoveScope removes the wheres tagged as id together with exactly the bindings they added.
// When only the group built by WrapWheres is left, it is unwrapped again.
func (b *Builder) RemoveScope(id string) *Builder {
	all := b.query.Bindings.Of(ast.ClauseWhere)
	kept := make([]ast.Where, 0, len(b.query.Wheres))
	bindings := []any{}
	offset := 0
	for _, w := range b.query.Wheres {
		m := ast.MetaOf(w)
		end := offset + m.Count
		if m.Scope != id {
			kept = append(kept, w)
			bindings = append(bindings, all[offset:end]...)
		}
		offset = end
	}
	if len(kept) == 1 && len(kept) < len(b.query.Wheres) {
		if n, ok := kept[0].(*ast.Nested); ok && n.Wrapped && n.Meta.Scope == "" {
			kept = n.Query.Wheres
			bindings = append([]any{}, n.Query.Bindings.Of(ast.ClauseWhere)...)
		}
	}
	b.query.Wheres = kept
	b.query.Bindings.Set(ast.ClauseWhere, bindings)
	return b
}

// HasScope reports whether any where is tagged as id.
func (b *Builder) HasScope(id string) bool {
	for _, w := range b.query.Wheres {
		if ast.MetaOf(w).Scope == id {
			return true
		}
	}
	return false
}

// WrapWheres groups the existing wheres into one nested condition when any of them is
// joined with or, so conditions added afterwards apply to the whole group.
func (b *Builder) WrapWheres() *Builder {
	hasOr := false
	for i, w := range b.query.Wheres {
		if i > 0 && ast.MetaOf(w).Boolean == ast.Or {
			hasOr = true
			break
		}
	}
	if !hasOr {
		return b
	}
	child := &ast.Query{Table: b.query.Table, Wheres: b.query.Wheres}
	bindings := b.query.Bindings.Of(ast.ClauseWhere)
	child.Bindings.Set(ast.ClauseWhere, bindings)
	b.query.Wheres = nil
	b.query.Bindings.Set(ast.ClauseWhere, nil)
	prev := b.scope
	b.scope = ""
	b.addWhere(&ast.Nested{Query: child, Wrapped: true}, ast.And, bindings...)
	b.scope = prev
	return b
}

// Package ast defines the query AST accumulated by the builder and compiled by a grammar.
//
// Where conditions form a closed set of node kinds; a grammar dispatches on the concrete type.
// Bindings live in per-clause buckets whose order mirrors the order in which a grammar emits
// clauses, so flattening the buckets yields the placeholder order of the compiled statement.
package ast

// Boolean is the connective joining a where node to its predecessor.
type Boolean string

const (
	And Boolean = "and"
	Or  Boolean = "or"
)

// LockMode is the row locking clause of a select.
type LockMode int

const (
	LockNone LockMode = iota
	LockForUpdate
	LockShared
)

// Part is a date/time component extracted by DatePart conditions.
type Part string

const (
	PartDate      Part = "date"
	PartTime      Part = "time"
	PartDay       Part = "day"
	PartMonth     Part = "month"
	PartYear      Part = "year"
	PartDayOfWeek Part = "dayofweek"
)

// Meta carries the fields common to every where node.
type Meta struct {
	// Boolean joins this node to the previous one.
	Boolean Boolean
	// Scope tags nodes added while a global scope was being applied.
	Scope string
	// Count is the number of bindings the node contributed to its bucket.
	Count int
}

func (m *Meta) meta() *Meta { return m }

// Where is a condition node. The set of implementations is closed to this package.
type Where interface {
	meta() *Meta
}

// MetaOf returns the shared fields of a where node.
func MetaOf(w Where) *Meta { return w.meta() }

// Basic is `column operator value`.
type Basic struct {
	Meta
	Column   string
	Operator string
	Value    any
}

// ColumnCompare is `first operator second` where both sides are columns.
type ColumnCompare struct {
	Meta
	First    string
	Operator string
	Second   string
}

// RawClause is literal SQL.
type RawClause struct {
	Meta
	Expr Raw
}

// Null is `column is [not] null`.
type Null struct {
	Meta
	Column string
	Not    bool
}

// Between is `column [not] between min and max`.
type Between struct {
	Meta
	Column   string
	Min, Max any
	Not      bool
}

// In is `column [not] in (values...)`.
type In struct {
	Meta
	Column string
	Values []any
	Not    bool
}

// InSub is `column [not] in (subquery)`.
type InSub struct {
	Meta
	Column string
	Query  *Query
	Not    bool
}

// Sub is `column operator (subquery)`.
type Sub struct {
	Meta
	Column   string
	Operator string
	Query    *Query
}

// Nested is a parenthesized group built from the wheres of a child query.
type Nested struct {
	Meta
	Query *Query
	Not   bool
	// Wrapped marks the group WrapWheres builds around existing wheres.
	Wrapped bool
}

// Exists is `[not] exists (subquery)`.
type Exists struct {
	Meta
	Query *Query
	Not   bool
}

// DatePart compares an extracted date/time component.
type DatePart struct {
	Meta
	Part     Part
	Column   string
	Operator string
	Value    any
}

// Regexp is a regular expression match.
type Regexp struct {
	Meta
	Column  string
	Pattern any
	Not     bool
}

// FullText is a full-text search over one or more columns.
type FullText struct {
	Meta
	Columns  []string
	Value    any
	Boolean  bool   // MySQL boolean mode
	Language string // PostgreSQL text search configuration
}

// JSONContains is a JSON containment test.
type JSONContains struct {
	Meta
	Column string
	Value  any
	Not    bool
}

// JSONLength compares the length of a JSON array.
type JSONLength struct {
	Meta
	Column   string
	Operator string
	Value    any
}

// Column is a select or group-by item: either a column name or a raw expression.
type Column struct {
	Name string
	Expr *Raw
}

// Order is an order-by item.
type Order struct {
	Column    string
	Direction string
	Expr      *Raw
}

// Join is a join clause; its conditions reuse the where node kinds.
type Join struct {
	Type   string
	Table  string
	Expr   *Raw // subquery source, `(select ...) as alias`
	Wheres []Where
}

// Aggregate replaces the select list with `function(columns) as aggregate`.
type Aggregate struct {
	Function string
	Columns  []string
}

// CTE is a common table expression.
type CTE struct {
	Name      string
	Columns   []string
	Query     *Query
	Recursive bool
}

// Union is a query combined with the base select.
type Union struct {
	Query *Query
	All   bool
}

// Query is the root of the AST.
type Query struct {
	Table     string
	Distinct  bool
	Columns   []Column
	Aggregate *Aggregate
	Wheres    []Where
	Joins     []*Join
	Groups    []Column
	Havings   []Where
	Orders    []Order
	Limit     *int
	Offset    *int
	CTEs      []CTE
	Unions    []Union
	Lock      LockMode
	Comment   string
	Bindings  Bindings
}

// Clone returns a copy whose slices can be mutated independently. Nodes are shared.
func (q *Query) Clone() *Query {
	c := *q
	c.Columns = append([]Column(nil), q.Columns...)
	c.Wheres = append([]Where(nil), q.Wheres...)
	c.Joins = append([]*Join(nil), q.Joins...)
	c.Groups = append([]Column(nil), q.Groups...)
	c.Havings = append([]Where(nil), q.Havings...)
	c.Orders = append([]Order(nil), q.Orders...)
	c.CTEs = append([]CTE(nil), q.CTEs...)
	c.Unions = append([]Union(nil), q.Unions...)
	if q.Aggregate != nil {
		agg := *q.Aggregate
		c.Aggregate = &agg
	}
	if q.Limit != nil {
		v := *q.Limit
		c.Limit = &v
	}
	if q.Offset != nil {
		v := *q.Offset
		c.Offset = &v
	}
	c.Bindings = q.Bindings.Clone()
	return &c
}

// Clause identifies a binding bucket. Declaration order is compilation order.
type Clause int

const (
	ClauseExpressions Clause = iota
	ClauseSelect
	ClauseJoin
	ClauseWhere
	ClauseGroup
	ClauseHaving
	ClauseOrder
	ClauseUnion
	clauseCount
)

// Bindings holds positional bindings per clause.
type Bindings [clauseCount][]any

// Add appends values to a bucket.
func (b *Bindings) Add(c Clause, values ...any) {
	b[c] = append(b[c], values...)
}

// Set replaces a bucket.
func (b *Bindings) Set(c Clause, values []any) {
	b[c] = values
}

// Of returns the bucket for c.
func (b *Bindings) Of(c Clause) []any { return b[c] }

// Clone copies every bucket.
func (b Bindings) Clone() Bindings {
	var c Bindings
	for i := range b {
		if b[i] != nil {
			c[i] = append([]any(nil), b[i]...)
		}
	}
	return c
}

// Flatten concatenates the buckets in compilation order, skipping the listed clauses.
func (b Bindings) Flatten(skip ...Clause) []any {
	out := []any{}
	for i := range b {
		skipped := false
		for _, s := range skip {
			if Clause(i) == s {
				skipped = true
				break
			}
		}
		if !skipped {
			out = append(out, b[i]...)
		}
	}
	return out
}

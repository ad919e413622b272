// Package query implements the filter/aggregation pipeline compiler and
// executor of spec.md §4.7.
package query

// OrderSpec is one (field, direction) pair from a query's `sort` list.
// Multiple entries establish a composite ordering, most-significant first.
type OrderSpec struct {
	Field string
	Asc   bool
}

// Projection is an include/exclude map. Per spec.md §4.7, a projection is
// either all-include or all-exclude, with the sole exception that `_id:
// false` may accompany an inclusion projection to drop the identifier.
type Projection struct {
	Include map[string]bool
	Exclude map[string]bool
	DropID  bool
}

// Query is a single find operation: a predicate tree plus the result
// shaping clauses spec.md §4.7 recognizes (sort, skip, limit, projection).
type Query struct {
	Filter     *Predicate
	Sort       []OrderSpec
	Skip       int
	Limit      int
	Projection *Projection
}

// Row is one result: a resident document ID paired with its (possibly
// projected) JSON payload, consumed by the k-way merger and cursor layer.
type Row struct {
	DocID   string
	Payload []byte
}

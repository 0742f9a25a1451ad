// Package query turns request parameters into logical, dialect-independent
// queries. A logical query carries projection, predicate tree, at most one
// join, ordering and a pagination window; every referenced column has been
// checked against the schema snapshot and every value coerced to the
// column's semantic type, so nothing user-controlled ever reaches SQL text.
package query

import "fmt"

// Op is a predicate operator. The bracket grammar in request parameters
// (col[op]=value) accepts exactly these; OpNotNull is builder-internal,
// produced by isnull=false.
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpContains Op = "contains"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpIsNull   Op = "isnull"
	OpNotNull  Op = "notnull"
)

// filterOps are the operators accepted from request parameters.
var filterOps = map[Op]bool{
	OpEq: true, OpNeq: true, OpContains: true,
	OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpIsNull: true,
}

// Condition compares one column against bound values. OnJoin selects which
// side of the query's join the column lives on. Values holds a single
// element for scalar operators, any number for OpIn, and none for the null
// checks.
type Condition struct {
	OnJoin bool
	Column string
	Op     Op
	Values []any
}

// Predicate is the two-level tree the grammar can express: All conditions
// are ANDed, Any conditions are ORed, and the two blocks are ANDed with
// each other (search is an Any block alongside the filters).
type Predicate struct {
	All []Condition
	Any []Condition
}

func (p Predicate) Empty() bool {
	return len(p.All) == 0 && len(p.Any) == 0
}

// Join is an inner join against the query's base table. On pairs a column
// of the joined table with a column of the base table.
type Join struct {
	Table string
	On    [][2]string
}

type Order struct {
	Column string
	Desc   bool
}

// Select is a logical read: the base table (always group-qualified), the
// projected columns (nil means every column), an optional join, the
// predicate, ordering and window. Limit 0 means unlimited.
type Select struct {
	Table    string
	Columns  []string
	Distinct bool
	Join     *Join
	Where    Predicate
	Order    []Order
	Limit    int
	Offset   int
}

// Insert is a logical single-row insert. Empty Columns means a row of
// defaults. The written row is always returned for echoing.
type Insert struct {
	Table   string
	Columns []string
	Values  []any
}

// Update is a logical update of the rows matched by Where.
type Update struct {
	Table   string
	Columns []string
	Values  []any
	Where   Predicate
}

// Delete removes the rows matched by Where.
type Delete struct {
	Table string
	Where Predicate
}

// BuildErrorKind tags the two ways a request can fail against the schema.
type BuildErrorKind string

const (
	ErrUnknownColumn BuildErrorKind = "unknown_column"
	ErrTypeMismatch  BuildErrorKind = "type_mismatch"
)

// BuildError reports a request parameter the schema cannot satisfy.
type BuildError struct {
	Kind    BuildErrorKind
	Column  string
	Message string
}

func (e *BuildError) Error() string {
	return e.Message
}

func unknownColumn(table, column string) *BuildError {
	return &BuildError{
		Kind:    ErrUnknownColumn,
		Column:  column,
		Message: fmt.Sprintf("column %q does not exist in %s", column, table),
	}
}

func typeMismatch(column string, format string, args ...any) *BuildError {
	return &BuildError{
		Kind:    ErrTypeMismatch,
		Column:  column,
		Message: fmt.Sprintf("column %q: %s", column, fmt.Sprintf(format, args...)),
	}
}

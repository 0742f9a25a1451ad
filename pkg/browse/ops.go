// Package browse is the HTTP surface of the server: it resolves API paths
// against the schema snapshot, builds and runs the matching query, and
// shapes the response envelope.
package browse

import "github.com/tabuladb/tabula/pkg/schema"

// Op names one API operation. It doubles as the operation label on request
// metrics, so the values are stable.
type Op string

const (
	OpListTables    Op = "list_tables"
	OpListRecords   Op = "list_records"
	OpDescribeTable Op = "describe_table"
	OpListDistinct  Op = "list_distinct"
	OpGetRecord     Op = "get_record"
	OpListRelated   Op = "list_related"
	OpInsertRecord  Op = "insert_record"
	OpUpdateRecord  Op = "update_record"
	OpDeleteRecord  Op = "delete_record"
)

// opNone labels requests that fail before a route is matched.
const opNone Op = "unresolved"

// Resolution is a matched route: the operation plus everything the path
// contributed to it. Table and Relation point into the snapshot the path
// was resolved against.
type Resolution struct {
	Op       Op
	Table    *schema.Table
	Relation *schema.Relation
	Column   string // distinct-values target
	ID       []any  // coerced primary-key values
	RawID    string // the id path segment as sent
}

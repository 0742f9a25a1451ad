// Package dialect renders logical queries into engine-specific SQL. All
// values travel as bound parameters; the only strings interpolated into
// SQL text are schema-validated identifiers, quoted.
package dialect

import (
	"fmt"

	"github.com/tabuladb/tabula/pkg/query"
	"github.com/tabuladb/tabula/pkg/schema"
)

// Dialect renders logical queries for one engine. Implementations are
// stateless and shared; pick one at source setup, not per query.
type Dialect interface {
	Name() schema.Driver
	RenderSelect(q *query.Select) (string, []any, error)
	RenderCount(q *query.Select) (string, []any, error)
	RenderInsert(ins *query.Insert) (string, []any, error)
	RenderUpdate(upd *query.Update) (string, []any, error)
	RenderDelete(del *query.Delete) (string, []any, error)
}

var (
	postgres = &dialect{driver: schema.DriverPostgres, containsOp: "ILIKE"}
	sqlite   = &dialect{driver: schema.DriverSQLite, containsOp: "LIKE"}
)

// Postgres renders $n placeholders and case-insensitive contains via ILIKE.
func Postgres() Dialect { return postgres }

// SQLite renders ? placeholders; LIKE is already case-insensitive for ASCII.
func SQLite() Dialect { return sqlite }

// ForDriver resolves the dialect for a driver.
func ForDriver(d schema.Driver) (Dialect, error) {
	switch d {
	case schema.DriverPostgres:
		return postgres, nil
	case schema.DriverSQLite:
		return sqlite, nil
	default:
		return nil, fmt.Errorf("no dialect for driver %q", d)
	}
}

package browse

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tabuladb/tabula/pkg/query"
	"github.com/tabuladb/tabula/pkg/schema"
)

// Path literals that shadow record identifiers directly under a table. A
// primary-key value spelled like one of these is not reachable by route.
var reservedSegments = map[string]bool{
	"describe": true,
	"distinct": true,
}

// Resolve matches an API path against a schema snapshot and names the
// operation it requests. It is pure: all routing state lives in the model,
// so swapping in a reloaded snapshot changes the routes without touching
// the server.
//
// The grammar, relative to the /api prefix:
//
//	GET    /tables
//	GET    /table/{table}                     list records
//	POST   /table/{table}                     insert one record
//	GET    /table/{table}/describe
//	GET    /table/{table}/distinct/{column}
//	GET    /table/{table}/{id}                fetch one record
//	PATCH  /table/{table}/{id}
//	DELETE /table/{table}/{id}
//	GET    /table/{table}/{id}/{relation}     list related records
//
// {table} accepts bare or group-qualified names; {id} is the primary-key
// value, comma-separated for composite keys.
func Resolve(m *schema.Model, method, path string) (*Resolution, error) {
	segs := splitPath(strings.TrimPrefix(path, "/api"))

	if len(segs) == 1 && segs[0] == "tables" && method == http.MethodGet {
		return &Resolution{Op: OpListTables}, nil
	}
	if len(segs) < 2 || segs[0] != "table" {
		return nil, noRoute(method, path)
	}

	tbl, ok := m.Table(segs[1])
	if !ok {
		return nil, unknownTable(segs[1])
	}

	switch {
	case len(segs) == 2:
		switch method {
		case http.MethodGet:
			return &Resolution{Op: OpListRecords, Table: tbl}, nil
		case http.MethodPost:
			return &Resolution{Op: OpInsertRecord, Table: tbl}, nil
		}

	case len(segs) == 3 && segs[2] == "describe":
		if method == http.MethodGet {
			return &Resolution{Op: OpDescribeTable, Table: tbl}, nil
		}

	case len(segs) == 3:
		id, err := resolveID(tbl, segs[2])
		if err != nil {
			return nil, err
		}
		res := &Resolution{Table: tbl, ID: id, RawID: segs[2]}
		switch method {
		case http.MethodGet:
			res.Op = OpGetRecord
			return res, nil
		case http.MethodPatch:
			res.Op = OpUpdateRecord
			return res, nil
		case http.MethodDelete:
			res.Op = OpDeleteRecord
			return res, nil
		}

	case len(segs) == 4 && segs[2] == "distinct":
		// The column is validated by the builder, where unknown-column
		// errors belong.
		if method == http.MethodGet {
			return &Resolution{Op: OpListDistinct, Table: tbl, Column: segs[3]}, nil
		}

	case len(segs) == 4:
		if method != http.MethodGet {
			break
		}
		id, err := resolveID(tbl, segs[2])
		if err != nil {
			return nil, err
		}
		rel := tbl.RelationTo(segs[3])
		if rel == nil {
			return nil, unknownRelation(tbl.QualifiedName(), segs[3])
		}
		return &Resolution{
			Op:       OpListRelated,
			Table:    tbl,
			Relation: rel,
			ID:       id,
			RawID:    segs[2],
		}, nil
	}
	return nil, noRoute(method, path)
}

// resolveID coerces an id path segment into the table's primary-key values.
func resolveID(t *schema.Table, raw string) ([]any, error) {
	if reservedSegments[raw] {
		return nil, malformedIdentifier(fmt.Sprintf("%q is a reserved path segment", raw))
	}
	id, err := query.CoerceID(t, raw)
	if err != nil {
		return nil, malformedIdentifier(err.Error())
	}
	return id, nil
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

package exec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tabuladb/tabula/pkg/schema"
)

// RowDecodeError means a raw column value could not be converted to the
// type the schema snapshot declares. The whole operation fails; rows are
// never returned partially typed.
type RowDecodeError struct {
	Column string
	Err    error
}

func (e *RowDecodeError) Error() string {
	return fmt.Sprintf("exec: decode column %q: %v", e.Column, e.Err)
}

func (e *RowDecodeError) Unwrap() error { return e.Err }

// decodeRecord converts one scanned row into a Record of canonical values.
// Columns missing from the snapshot (expression results and the like) pass
// through as the driver produced them.
func decodeRecord(tbl *schema.Table, columns []string, values []any) (Record, error) {
	rec := Record{Columns: columns, Values: make([]any, len(values))}
	for i, name := range columns {
		var col *schema.Column
		if tbl != nil {
			col = tbl.Column(name)
		}
		v, err := canonical(col, values[i])
		if err != nil {
			return Record{}, &RowDecodeError{Column: name, Err: err}
		}
		rec.Values[i] = v
	}
	return rec, nil
}

// canonical converts a raw driver value to the JSON shape of its declared
// type: integer as int64, boolean as bool, numeric as a plain decimal
// string, timestamp as RFC 3339 UTC text, uuid as its canonical lowercase
// form, binary as base64, json passed through un-double-encoded.
func canonical(col *schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if col == nil {
		return passthrough(v), nil
	}
	switch col.Type {
	case schema.TypeInteger:
		return toInt64(v)
	case schema.TypeNumeric:
		return toDecimalString(v)
	case schema.TypeBoolean:
		return toBool(v)
	case schema.TypeTimestamp:
		return toTimestamp(v)
	case schema.TypeUUID:
		return toUUIDString(v)
	case schema.TypeJSON:
		return toRawJSON(v)
	case schema.TypeBinary:
		return toBase64(v)
	default: // text, enum
		return toText(v)
	}
}

func passthrough(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func toInt64(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case bool:
		// column declared with integer affinity but stored as 0/1
		if n {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fmt.Errorf("cannot read %T as integer", v)
}

func toDecimalString(v any) (any, error) {
	switch n := v.(type) {
	case pgtype.Numeric:
		if !n.Valid {
			return nil, nil
		}
		b, err := n.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case string:
		return n, nil
	case []byte:
		return string(n), nil
	}
	return nil, fmt.Errorf("cannot read %T as numeric", v)
}

func toBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	}
	return nil, fmt.Errorf("cannot read %T as boolean", v)
}

// sqliteTimeLayouts are the textual forms SQLite's own date functions
// produce, tried in order when a timestamp column holds text.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func toTimestamp(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case string:
		return parseTimestamp(t)
	case []byte:
		return parseTimestamp(string(t))
	case int64:
		return time.Unix(t, 0).UTC().Format(time.RFC3339Nano), nil
	}
	return nil, fmt.Errorf("cannot read %T as timestamp", v)
}

func parseTimestamp(s string) (any, error) {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

func toUUIDString(v any) (any, error) {
	switch u := v.(type) {
	case [16]byte:
		return uuid.UUID(u).String(), nil
	case []byte:
		if len(u) == 16 {
			id, err := uuid.FromBytes(u)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
		id, err := uuid.Parse(string(u))
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	case string:
		id, err := uuid.Parse(u)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	}
	return nil, fmt.Errorf("cannot read %T as uuid", v)
}

func toRawJSON(v any) (any, error) {
	switch j := v.(type) {
	case json.RawMessage:
		return json.RawMessage(append([]byte(nil), j...)), nil
	case []byte:
		if !json.Valid(j) {
			return nil, fmt.Errorf("invalid json document")
		}
		return json.RawMessage(append([]byte(nil), j...)), nil
	case string:
		if !json.Valid([]byte(j)) {
			return nil, fmt.Errorf("invalid json document")
		}
		return json.RawMessage(j), nil
	}
	// pgx decodes json columns into Go values; re-encode once
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func toBase64(v any) (any, error) {
	switch b := v.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(b), nil
	case string:
		return base64.StdEncoding.EncodeToString([]byte(b)), nil
	}
	return nil, fmt.Errorf("cannot read %T as binary", v)
}

func toText(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return nil, fmt.Errorf("cannot read %T as text", v)
}

package query

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tabuladb/tabula/pkg/schema"
)

const dateLayout = "2006-01-02"

// Coerce parses a request-parameter value into a bindable Go value of the
// column's semantic type. JSON and binary columns are not filterable.
func Coerce(col *schema.Column, raw string) (any, error) {
	switch col.Type {
	case schema.TypeInteger:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, typeMismatch(col.Name, "%q is not an integer", raw)
		}
		return v, nil
	case schema.TypeNumeric:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, typeMismatch(col.Name, "%q is not a number", raw)
		}
		return v, nil
	case schema.TypeBoolean:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, typeMismatch(col.Name, "%q is not a boolean", raw)
		}
		return v, nil
	case schema.TypeTimestamp:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse(dateLayout, raw); err == nil {
			return t.UTC(), nil
		}
		return nil, typeMismatch(col.Name, "%q is not an RFC 3339 timestamp or %s date", raw, dateLayout)
	case schema.TypeUUID:
		u, err := uuid.Parse(raw)
		if err != nil {
			return nil, typeMismatch(col.Name, "%q is not a UUID", raw)
		}
		return u.String(), nil
	case schema.TypeText, schema.TypeEnum:
		return raw, nil
	default:
		return nil, typeMismatch(col.Name, "type %s cannot be filtered", col.Type)
	}
}

// CoerceID parses a record identifier from a path segment into the table's
// primary-key values. Composite keys are comma-separated in key order.
func CoerceID(t *schema.Table, raw string) ([]any, error) {
	pks := t.PrimaryKeyColumns()
	if len(pks) == 0 {
		return nil, fmt.Errorf("%s has no primary key", t.QualifiedName())
	}
	parts := strings.Split(raw, ",")
	if len(parts) != len(pks) {
		return nil, fmt.Errorf("id %q: want %d key part(s), got %d", raw, len(pks), len(parts))
	}
	vals := make([]any, len(parts))
	for i, part := range parts {
		v, err := Coerce(pks[i], part)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// coerceJSON converts one JSON body value into a bindable Go value of the
// column's semantic type. JSON null binds as SQL NULL; whether that is
// acceptable is the database's call.
func coerceJSON(col *schema.Column, raw json.RawMessage) (any, error) {
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	switch col.Type {
	case schema.TypeInteger:
		n, err := decodeNumber(raw)
		if err != nil {
			return nil, typeMismatch(col.Name, "expected an integer")
		}
		v, err := n.Int64()
		if err != nil {
			return nil, typeMismatch(col.Name, "expected an integer")
		}
		return v, nil
	case schema.TypeNumeric:
		n, err := decodeNumber(raw)
		if err != nil {
			return nil, typeMismatch(col.Name, "expected a number")
		}
		v, err := n.Float64()
		if err != nil {
			return nil, typeMismatch(col.Name, "expected a number")
		}
		return v, nil
	case schema.TypeBoolean:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, typeMismatch(col.Name, "expected a boolean")
		}
		return v, nil
	case schema.TypeTimestamp:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, typeMismatch(col.Name, "expected a timestamp string")
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t.UTC(), nil
		}
		return nil, typeMismatch(col.Name, "%q is not an RFC 3339 timestamp or %s date", s, dateLayout)
	case schema.TypeUUID:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, typeMismatch(col.Name, "expected a UUID string")
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, typeMismatch(col.Name, "%q is not a UUID", s)
		}
		return u.String(), nil
	case schema.TypeText, schema.TypeEnum:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, typeMismatch(col.Name, "expected a string")
		}
		return s, nil
	case schema.TypeJSON:
		if !json.Valid(raw) {
			return nil, typeMismatch(col.Name, "invalid JSON value")
		}
		return string(raw), nil
	case schema.TypeBinary:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, typeMismatch(col.Name, "expected a base64 string")
		}
		v, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, typeMismatch(col.Name, "invalid base64: %v", err)
		}
		return v, nil
	default:
		return nil, typeMismatch(col.Name, "type %s cannot be written", col.Type)
	}
}

func decodeNumber(raw json.RawMessage) (json.Number, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	n, ok := v.(json.Number)
	if !ok {
		return "", fmt.Errorf("not a number")
	}
	return n, nil
}

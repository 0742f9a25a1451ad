package exec

import (
	"bytes"
	"encoding/json"
)

// Record is one result row. Column order follows the select's projection,
// and MarshalJSON preserves it, so clients see columns in a stable,
// schema-declared order rather than Go map order.
type Record struct {
	Columns []string
	Values  []any
}

// Get returns the value of a column by name.
func (r Record) Get(name string) (any, bool) {
	for i, col := range r.Columns {
		if col == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

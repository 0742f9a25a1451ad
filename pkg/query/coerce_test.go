package query

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabuladb/tabula/pkg/schema"
)

func typedColumn(name string, typ schema.ColumnType) *schema.Column {
	return &schema.Column{Name: name, Type: typ}
}

func TestCoerce(t *testing.T) {
	t.Run("integer", func(t *testing.T) {
		v, err := Coerce(typedColumn("age", schema.TypeInteger), "42")
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)

		_, err = Coerce(typedColumn("age", schema.TypeInteger), "abc")
		var be *BuildError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, ErrTypeMismatch, be.Kind)
		assert.Equal(t, "age", be.Column)
	})

	t.Run("numeric", func(t *testing.T) {
		v, err := Coerce(typedColumn("price", schema.TypeNumeric), "1.50")
		require.NoError(t, err)
		assert.Equal(t, 1.5, v)
	})

	t.Run("boolean", func(t *testing.T) {
		v, err := Coerce(typedColumn("active", schema.TypeBoolean), "true")
		require.NoError(t, err)
		assert.Equal(t, true, v)

		_, err = Coerce(typedColumn("active", schema.TypeBoolean), "yes")
		require.Error(t, err)
	})

	t.Run("timestamp", func(t *testing.T) {
		v, err := Coerce(typedColumn("created", schema.TypeTimestamp), "2024-03-01T10:30:00+02:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC), v)

		v, err = Coerce(typedColumn("created", schema.TypeTimestamp), "2024-03-01")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), v)

		_, err = Coerce(typedColumn("created", schema.TypeTimestamp), "yesterday")
		require.Error(t, err)
	})

	t.Run("uuid", func(t *testing.T) {
		v, err := Coerce(typedColumn("ref", schema.TypeUUID), "6F1E6F20-9B0A-4BFD-AC96-C71A17575F5C")
		require.NoError(t, err)
		assert.Equal(t, "6f1e6f20-9b0a-4bfd-ac96-c71a17575f5c", v)

		_, err = Coerce(typedColumn("ref", schema.TypeUUID), "not-a-uuid")
		require.Error(t, err)
	})

	t.Run("unfilterable", func(t *testing.T) {
		_, err := Coerce(typedColumn("payload", schema.TypeJSON), "{}")
		require.Error(t, err)
		_, err = Coerce(typedColumn("blob", schema.TypeBinary), "AAEC")
		require.Error(t, err)
	})
}

func TestCoerceID(t *testing.T) {
	users := schema.Table{
		Group: "public", Name: "users", Kind: schema.KindTable,
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, IsPrimaryKey: true},
			{Name: "name", Type: schema.TypeText},
		},
		PrimaryKey: []string{"id"},
	}
	id, err := CoerceID(&users, "42")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42)}, id)

	_, err = CoerceID(&users, "forty-two")
	require.Error(t, err)
	_, err = CoerceID(&users, "1,2")
	require.Error(t, err)

	linker := schema.Table{
		Group: "public", Name: "user_tags", Kind: schema.KindTable,
		Columns: []schema.Column{
			{Name: "user_id", Type: schema.TypeInteger, IsPrimaryKey: true},
			{Name: "tag_id", Type: schema.TypeInteger, IsPrimaryKey: true},
		},
		PrimaryKey: []string{"user_id", "tag_id"},
	}
	id, err = CoerceID(&linker, "42,7")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42), int64(7)}, id)

	noKey := schema.Table{Group: "public", Name: "log", Kind: schema.KindTable}
	_, err = CoerceID(&noKey, "1")
	require.Error(t, err)
}

func TestCoerceJSON(t *testing.T) {
	tests := []struct {
		name string
		col  *schema.Column
		raw  string
		want any
	}{
		{"integer", typedColumn("age", schema.TypeInteger), `42`, int64(42)},
		{"numeric", typedColumn("price", schema.TypeNumeric), `3.14`, 3.14},
		{"boolean", typedColumn("active", schema.TypeBoolean), `true`, true},
		{"text", typedColumn("name", schema.TypeText), `"Ann"`, "Ann"},
		{"null", typedColumn("email", schema.TypeText), `null`, nil},
		{"timestamp", typedColumn("created", schema.TypeTimestamp), `"2024-03-01T10:30:00Z"`,
			time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"uuid", typedColumn("ref", schema.TypeUUID), `"6f1e6f20-9b0a-4bfd-ac96-c71a17575f5c"`,
			"6f1e6f20-9b0a-4bfd-ac96-c71a17575f5c"},
		{"json", typedColumn("settings", schema.TypeJSON), `{"theme":"dark"}`, `{"theme":"dark"}`},
		{"binary", typedColumn("avatar", schema.TypeBinary), `"AAEC"`, []byte{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := coerceJSON(tt.col, json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}

	mismatches := []struct {
		col *schema.Column
		raw string
	}{
		{typedColumn("age", schema.TypeInteger), `"forty"`},
		{typedColumn("age", schema.TypeInteger), `3.5`},
		{typedColumn("active", schema.TypeBoolean), `"yes"`},
		{typedColumn("name", schema.TypeText), `42`},
		{typedColumn("created", schema.TypeTimestamp), `"tomorrow"`},
		{typedColumn("ref", schema.TypeUUID), `"nope"`},
		{typedColumn("avatar", schema.TypeBinary), `"!!!"`},
	}
	for _, tt := range mismatches {
		_, err := coerceJSON(tt.col, json.RawMessage(tt.raw))
		var be *BuildError
		require.ErrorAs(t, err, &be, "%s %s", tt.col.Name, tt.raw)
		assert.Equal(t, ErrTypeMismatch, be.Kind)
	}
}

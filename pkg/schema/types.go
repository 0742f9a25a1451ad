package schema

import "strings"

// Driver identifies the database engine a source speaks. It selects the
// introspection strategy here and the SQL renderer in pkg/dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// ColumnType is the semantic type of a column, independent of the engine's
// own type names. It drives filter-value coercion and row decoding; the raw
// engine type is kept alongside in Column.DBType.
type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeText      ColumnType = "text"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeNumeric   ColumnType = "numeric"
	TypeJSON      ColumnType = "json"
	TypeUUID      ColumnType = "uuid"
	TypeEnum      ColumnType = "enum"
	TypeBinary    ColumnType = "binary"
)

// pgTypes maps information_schema data_type values to semantic types.
// USER-DEFINED (enums, domains) is handled separately in TypeFromPostgres.
var pgTypes = map[string]ColumnType{
	"smallint":                    TypeInteger,
	"integer":                     TypeInteger,
	"bigint":                      TypeInteger,
	"smallserial":                 TypeInteger,
	"serial":                      TypeInteger,
	"bigserial":                   TypeInteger,
	"text":                        TypeText,
	"character varying":           TypeText,
	"character":                   TypeText,
	"citext":                      TypeText,
	"name":                        TypeText,
	"boolean":                     TypeBoolean,
	"timestamp without time zone": TypeTimestamp,
	"timestamp with time zone":    TypeTimestamp,
	"date":                        TypeTimestamp,
	"time without time zone":      TypeTimestamp,
	"time with time zone":         TypeTimestamp,
	"numeric":                     TypeNumeric,
	"decimal":                     TypeNumeric,
	"real":                        TypeNumeric,
	"double precision":            TypeNumeric,
	"money":                       TypeNumeric,
	"json":                        TypeJSON,
	"jsonb":                       TypeJSON,
	"uuid":                        TypeUUID,
	"bytea":                       TypeBinary,
}

// TypeFromPostgres maps an information_schema data_type (plus the underlying
// udt name for USER-DEFINED columns) to a semantic type. Unmapped types
// degrade to text so rows still render.
func TypeFromPostgres(dataType, udtName string) ColumnType {
	if t, ok := pgTypes[strings.ToLower(dataType)]; ok {
		return t
	}
	if strings.EqualFold(dataType, "USER-DEFINED") && udtName != "" {
		return TypeEnum
	}
	return TypeText
}

// TypeFromSQLite maps a declared SQLite column type to a semantic type using
// affinity-style substring matching (SQLite itself types columns this way).
func TypeFromSQLite(declared string) ColumnType {
	d := strings.ToUpper(strings.TrimSpace(declared))
	switch {
	case d == "":
		return TypeBinary // no declared type: blob affinity
	case strings.Contains(d, "INT"):
		return TypeInteger
	case strings.Contains(d, "BOOL"):
		return TypeBoolean
	case strings.Contains(d, "UUID"), strings.Contains(d, "GUID"):
		return TypeUUID
	case strings.Contains(d, "JSON"):
		return TypeJSON
	case strings.Contains(d, "DATETIME"), strings.Contains(d, "TIMESTAMP"), strings.Contains(d, "DATE"):
		return TypeTimestamp
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return TypeText
	case strings.Contains(d, "BLOB"):
		return TypeBinary
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"),
		strings.Contains(d, "NUMERIC"), strings.Contains(d, "DECIMAL"):
		return TypeNumeric
	default:
		return TypeText
	}
}

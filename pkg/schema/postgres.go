package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// pgQuerier is the slice of a pgx connection or pool the introspection
// queries need. Both *pgxpool.Pool and *pgx.Conn satisfy it.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// introspectPostgres loads every table and view outside the system schemas.
func introspectPostgres(ctx context.Context, conn pgQuerier) ([]Table, error) {
	groups, err := pgSchemas(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}

	var tables []Table
	for _, group := range groups {
		if pgSystemSchema(group) {
			continue
		}
		groupTables, err := pgTables(ctx, conn, group)
		if err != nil {
			return nil, fmt.Errorf("load schema %s: %w", group, err)
		}
		tables = append(tables, groupTables...)
	}
	return tables, nil
}

func pgSchemas(ctx context.Context, conn pgQuerier) ([]string, error) {
	rows, err := conn.Query(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var schema string
		if err := rows.Scan(&schema); err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

func pgSystemSchema(schema string) bool {
	switch schema {
	case "information_schema", "pg_catalog", "pg_toast", "pg_temp_1", "pg_toast_temp_1":
		return true
	default:
		return false
	}
}

func pgTables(ctx context.Context, conn pgQuerier, group string) ([]Table, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_name, 'table'::text AS kind
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		UNION ALL
		SELECT table_name, 'view'::text AS kind
		FROM information_schema.views
		WHERE table_schema = $1
		ORDER BY table_name`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		var kind string
		if err := rows.Scan(&t.Name, &kind); err != nil {
			return nil, err
		}
		t.Group = group
		t.Kind = TableKind(kind)
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		t := &tables[i]
		if err := pgColumns(ctx, conn, t); err != nil {
			return nil, fmt.Errorf("query columns %s: %w", t.QualifiedName(), err)
		}
		if t.Kind == KindTable {
			if err := pgForeignKeys(ctx, conn, t); err != nil {
				return nil, fmt.Errorf("query foreign keys %s: %w", t.QualifiedName(), err)
			}
		}
		if err := pgComment(ctx, conn, t); err != nil {
			return nil, fmt.Errorf("query comment %s: %w", t.QualifiedName(), err)
		}
	}
	return tables, nil
}

func pgColumns(ctx context.Context, conn pgQuerier, t *Table) error {
	rows, err := conn.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.udt_name,
			c.is_nullable = 'YES',
			c.column_default IS NOT NULL,
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, t.Group, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var col Column
		var dataType, udtName string
		if err := rows.Scan(&col.Name, &dataType, &udtName, &col.Nullable, &col.HasDefault, &col.IsPrimaryKey); err != nil {
			return err
		}
		col.Type = TypeFromPostgres(dataType, udtName)
		col.DBType = dataType
		if col.Type == TypeEnum {
			col.DBType = udtName
		}
		t.Columns = append(t.Columns, col)
		if col.IsPrimaryKey {
			t.PrimaryKey = append(t.PrimaryKey, col.Name)
		}
	}
	return rows.Err()
}

// pgForeignKeys reads constraints from pg_catalog so composite keys come
// back positionally paired, which information_schema cannot guarantee.
// Same-schema references are stored bare; cross-schema ones qualified.
func pgForeignKeys(ctx context.Context, conn pgQuerier, t *Table) error {
	rows, err := conn.Query(ctx, `
		SELECT
			con.conname,
			src.attname,
			refns.nspname,
			refcl.relname,
			ref.attname
		FROM pg_constraint con
		JOIN pg_class cl ON cl.oid = con.conrelid
		JOIN pg_namespace ns ON ns.oid = cl.relnamespace
		JOIN pg_class refcl ON refcl.oid = con.confrelid
		JOIN pg_namespace refns ON refns.oid = refcl.relnamespace
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS pair(attnum, refattnum, ord)
		JOIN pg_attribute src ON src.attrelid = con.conrelid AND src.attnum = pair.attnum
		JOIN pg_attribute ref ON ref.attrelid = con.confrelid AND ref.attnum = pair.refattnum
		WHERE con.contype = 'f' AND ns.nspname = $1 AND cl.relname = $2
		ORDER BY con.conname, pair.ord`, t.Group, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	var current string
	for rows.Next() {
		var conname, column, refGroup, refTable, refColumn string
		if err := rows.Scan(&conname, &column, &refGroup, &refTable, &refColumn); err != nil {
			return err
		}
		if refGroup != t.Group {
			refTable = refGroup + "." + refTable
		}
		if conname != current || len(t.ForeignKeys) == 0 {
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{RefTable: refTable})
			current = conname
		}
		fk := &t.ForeignKeys[len(t.ForeignKeys)-1]
		fk.Columns = append(fk.Columns, column)
		fk.RefColumns = append(fk.RefColumns, refColumn)
	}
	return rows.Err()
}

func pgComment(ctx context.Context, conn pgQuerier, t *Table) error {
	var comment *string
	err := conn.QueryRow(ctx, `
		SELECT obj_description(c.oid, 'pg_class')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`, t.Group, t.Name).Scan(&comment)
	if err != nil {
		// A vanished table between queries is not fatal to the snapshot.
		if err == pgx.ErrNoRows {
			return nil
		}
		return err
	}
	if comment != nil {
		t.Comment = *comment
	}
	return nil
}

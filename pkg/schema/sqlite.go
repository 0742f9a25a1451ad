package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// introspectSQLite loads every table and view except SQLite's internal
// ones. Everything lands in the single "main" group.
func introspectSQLite(ctx context.Context, db *sql.DB) ([]Table, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query sqlite_master: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		var kind string
		if err := rows.Scan(&t.Name, &kind); err != nil {
			return nil, err
		}
		t.Group = "main"
		t.Kind = KindTable
		if kind == "view" {
			t.Kind = KindView
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		t := &tables[i]
		if err := sqliteColumns(ctx, db, t); err != nil {
			return nil, fmt.Errorf("table_info %s: %w", t.Name, err)
		}
		if t.Kind == KindTable {
			if err := sqliteForeignKeys(ctx, db, t); err != nil {
				return nil, fmt.Errorf("foreign_key_list %s: %w", t.Name, err)
			}
		}
	}

	resolveImpliedRefs(tables)
	return tables, nil
}

func sqliteColumns(ctx context.Context, db *sql.DB, t *Table) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", sqliteIdent(t.Name)))
	if err != nil {
		return err
	}
	defer rows.Close()

	type pkCol struct {
		name string
		pos  int
	}
	var pks []pkCol
	for rows.Next() {
		var cid, notNull, pk int
		var name, declared string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &declared, &notNull, &dflt, &pk); err != nil {
			return err
		}
		t.Columns = append(t.Columns, Column{
			Name:   name,
			Type:   TypeFromSQLite(declared),
			DBType: declared,
			// Primary-key columns are non-null even when undeclared.
			Nullable:     notNull == 0 && pk == 0,
			HasDefault:   dflt.Valid,
			IsPrimaryKey: pk > 0,
		})
		if pk > 0 {
			pks = append(pks, pkCol{name: name, pos: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// The pk flag carries the 1-based position within a composite key.
	sort.Slice(pks, func(i, j int) bool { return pks[i].pos < pks[j].pos })
	for _, pk := range pks {
		t.PrimaryKey = append(t.PrimaryKey, pk.name)
	}
	return nil
}

func sqliteForeignKeys(ctx context.Context, db *sql.DB, t *Table) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", sqliteIdent(t.Name)))
	if err != nil {
		return err
	}
	defer rows.Close()

	type fkRow struct {
		id, seq  int
		refTable string
		from     string
		to       sql.NullString
	}
	var fks []fkRow
	for rows.Next() {
		var r fkRow
		var onUpdate, onDelete, match string
		if err := rows.Scan(&r.id, &r.seq, &r.refTable, &r.from, &r.to, &onUpdate, &onDelete, &match); err != nil {
			return err
		}
		fks = append(fks, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// The pragma reports constraints in reverse declaration order; regroup
	// by id so composite keys come out positionally paired.
	sort.Slice(fks, func(i, j int) bool {
		if fks[i].id != fks[j].id {
			return fks[i].id < fks[j].id
		}
		return fks[i].seq < fks[j].seq
	})

	current := -1
	for _, r := range fks {
		if r.id != current {
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{RefTable: r.refTable})
			current = r.id
		}
		fk := &t.ForeignKeys[len(t.ForeignKeys)-1]
		fk.Columns = append(fk.Columns, r.from)
		if r.to.Valid {
			fk.RefColumns = append(fk.RefColumns, r.to.String)
		}
	}
	return nil
}

// resolveImpliedRefs fills in referenced columns for foreign keys declared
// without them (REFERENCES target, no column list), which point at the
// target's primary key.
func resolveImpliedRefs(tables []Table) {
	byName := make(map[string]*Table, len(tables))
	for i := range tables {
		byName[tables[i].Name] = &tables[i]
	}
	for i := range tables {
		for j := range tables[i].ForeignKeys {
			fk := &tables[i].ForeignKeys[j]
			if len(fk.RefColumns) > 0 {
				continue
			}
			target, ok := byName[fk.RefTable]
			if !ok || len(target.PrimaryKey) != len(fk.Columns) {
				continue
			}
			fk.RefColumns = append(fk.RefColumns, target.PrimaryKey...)
		}
	}
}

func sqliteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

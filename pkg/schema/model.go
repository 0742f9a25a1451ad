// Package schema holds the introspected shape of a database: tables,
// columns with semantic types, primary and foreign keys, and the relations
// inferred from them. A loaded Model is immutable and shared read-only by
// every request; reloading swaps in a whole new Model (see Store).
package schema

import (
	"fmt"
	"sort"
)

type TableKind string

const (
	KindTable TableKind = "table"
	KindView  TableKind = "view"
)

// Table describes one table or view. Group is the engine's namespace: the
// Postgres schema name, or "main" for SQLite.
type Table struct {
	Group       string       `json:"group"`
	Name        string       `json:"name"`
	Kind        TableKind    `json:"kind"`
	Comment     string       `json:"comment,omitempty"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	Relations   []Relation   `json:"relations,omitempty"`
}

type Column struct {
	Name         string     `json:"name"`
	Type         ColumnType `json:"type"`
	DBType       string     `json:"db_type"`
	Nullable     bool       `json:"nullable"`
	HasDefault   bool       `json:"has_default"`
	IsPrimaryKey bool       `json:"primary_key"`
}

// ForeignKey is one constraint; Columns and RefColumns are positionally
// paired, so composite keys are a single entry.
type ForeignKey struct {
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
}

// QualifiedName returns group.name, the unambiguous lookup key.
func (t *Table) QualifiedName() string {
	return fmt.Sprintf("%s.%s", t.Group, t.Name)
}

// Column returns the named column, or nil when absent.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// PrimaryKeyColumns resolves the primary-key column set in declared order.
func (t *Table) PrimaryKeyColumns() []*Column {
	cols := make([]*Column, 0, len(t.PrimaryKey))
	for _, name := range t.PrimaryKey {
		if c := t.Column(name); c != nil {
			cols = append(cols, c)
		}
	}
	return cols
}

// TextColumns lists the names of text-typed columns, the targets of the
// full-text search parameter.
func (t *Table) TextColumns() []string {
	var names []string
	for i := range t.Columns {
		if t.Columns[i].Type == TypeText {
			names = append(names, t.Columns[i].Name)
		}
	}
	return names
}

// RelationTo returns the highest-priority relation from t to the named
// target. The name may be a relation name ("tags (via user_tags)"), a bare
// table name, or a group-qualified one. Relations are kept sorted, so the
// first match is deterministic: the most direct edge to the target wins.
func (t *Table) RelationTo(target string) *Relation {
	for i := range t.Relations {
		r := &t.Relations[i]
		if r.Name == target || r.Table == target || relationLabel(t.Group, r.Table) == target {
			return r
		}
	}
	return nil
}

// Group is one namespace's slice of the table directory.
type Group struct {
	Name   string     `json:"group"`
	Tables []TableRef `json:"tables"`
}

// TableRef is a directory entry: just enough to build a route.
type TableRef struct {
	Name string    `json:"name"`
	Kind TableKind `json:"kind"`
}

// Model is one immutable snapshot of a database's schema. Lookup maps are
// built once in NewModel; nothing mutates a Model afterwards.
type Model struct {
	tables []Table
	byName map[string]*Table // qualified name always; bare name when resolvable
}

// preferredGroups decide which table wins a bare-name lookup when the same
// name exists in several namespaces.
var preferredGroups = map[string]bool{"public": true, "main": true}

// NewModel freezes a set of introspected tables into a Model: tables are
// sorted, relations inferred from the foreign keys, and lookup keys built.
func NewModel(tables []Table) *Model {
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].Group != tables[j].Group {
			return tables[i].Group < tables[j].Group
		}
		return tables[i].Name < tables[j].Name
	})

	inferRelations(tables)

	m := &Model{
		tables: tables,
		byName: make(map[string]*Table, 2*len(tables)),
	}
	for i := range tables {
		t := &m.tables[i]
		m.byName[t.QualifiedName()] = t

		existing, ok := m.byName[t.Name]
		switch {
		case !ok:
			m.byName[t.Name] = t
		case preferredGroups[t.Group] && !preferredGroups[existing.Group]:
			m.byName[t.Name] = t
		}
	}
	return m
}

// Table looks a table up by bare or group-qualified name.
func (m *Model) Table(name string) (*Table, bool) {
	t, ok := m.byName[name]
	return t, ok
}

// Tables returns the snapshot's tables sorted by (group, name). Callers must
// not mutate the returned slice.
func (m *Model) Tables() []Table {
	return m.tables
}

// Len reports the number of tables and views in the snapshot.
func (m *Model) Len() int {
	return len(m.tables)
}

// Groups assembles the table directory grouped by namespace, for the
// tables-listing endpoint.
func (m *Model) Groups() []Group {
	var groups []Group
	for i := range m.tables {
		t := &m.tables[i]
		if len(groups) == 0 || groups[len(groups)-1].Name != t.Group {
			groups = append(groups, Group{Name: t.Group})
		}
		g := &groups[len(groups)-1]
		g.Tables = append(g.Tables, TableRef{Name: t.Name, Kind: t.Kind})
	}
	return groups
}

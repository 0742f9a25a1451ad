package schema

import (
	"fmt"
	"sort"
	"strings"
)

type RelationKind string

const (
	// RelBelongsTo: this table carries a foreign key into the target.
	RelBelongsTo RelationKind = "belongs-to"
	// RelHasOne: the target's primary key is a foreign key back here (an
	// owned 1:1 record).
	RelHasOne RelationKind = "has-one"
	// RelHasMany: the target carries a foreign key into this table.
	RelHasMany RelationKind = "has-many"
	// RelManyToMany: the target is reachable through a linker table whose
	// primary key is exactly two foreign keys.
	RelManyToMany RelationKind = "many-to-many"
)

// Relation is a directed, named edge from its owning table to Table. Table
// and Via.Table are always group-qualified; Name is the label routes match
// against, relative to the owning table's group. Columns/RefColumns are
// positionally paired FK columns; which side each lives on depends on Kind
// (see the builder in pkg/query). Via is set only for many-to-many.
type Relation struct {
	Name       string       `json:"name"`
	Kind       RelationKind `json:"kind"`
	Table      string       `json:"table"`
	Columns    []string     `json:"columns"`
	RefColumns []string     `json:"ref_columns"`
	Via        *Via         `json:"via,omitempty"`
}

// Via describes the linker table of a many-to-many relation. SourceColumns
// reference the owning table's SourceRefColumns; TargetColumns reference the
// target table's TargetRefColumns.
type Via struct {
	Table            string   `json:"table"`
	SourceColumns    []string `json:"source_columns"`
	SourceRefColumns []string `json:"source_ref_columns"`
	TargetColumns    []string `json:"target_columns"`
	TargetRefColumns []string `json:"target_ref_columns"`
}

// kindRank orders relations for route matching: direct edges (fewer joins)
// win over indirect ones when several relations reach the same table.
var kindRank = map[RelationKind]int{
	RelBelongsTo:  0,
	RelHasOne:     1,
	RelHasMany:    2,
	RelManyToMany: 3,
}

// refResolver maps a foreign key's RefTable string to a table. References
// are written relative to the referencing table's group, so lookup tries
// the same group first, then the literal (possibly qualified) spelling.
type refResolver struct {
	byQualified map[string]*Table
	byBare      map[string]*Table
}

func newRefResolver(tables []Table) *refResolver {
	r := &refResolver{
		byQualified: make(map[string]*Table, len(tables)),
		byBare:      make(map[string]*Table, len(tables)),
	}
	for i := range tables {
		t := &tables[i]
		r.byQualified[t.QualifiedName()] = t
		prev, ok := r.byBare[t.Name]
		if !ok || (!preferredGroups[prev.Group] && preferredGroups[t.Group]) {
			r.byBare[t.Name] = t
		}
	}
	return r
}

func (r *refResolver) resolve(group, ref string) (*Table, bool) {
	if t, ok := r.byQualified[group+"."+ref]; ok {
		return t, true
	}
	if t, ok := r.byQualified[ref]; ok {
		return t, true
	}
	t, ok := r.byBare[ref]
	return t, ok
}

// inferRelations derives each table's relations from the foreign keys of
// the whole set. A table whose primary key is the union of exactly two
// foreign keys acts as a linker and surfaces as many-to-many edges between
// its endpoints instead of as two has-many edges.
func inferRelations(tables []Table) {
	refs := newRefResolver(tables)

	linkers := make(map[string]bool)
	for i := range tables {
		if isLinker(refs, &tables[i]) {
			linkers[tables[i].QualifiedName()] = true
		}
	}

	for i := range tables {
		t := &tables[i]

		// Outgoing foreign keys: belongs-to.
		for _, fk := range t.ForeignKeys {
			target, ok := refs.resolve(t.Group, fk.RefTable)
			if !ok {
				continue
			}
			t.Relations = append(t.Relations, Relation{
				Kind:       RelBelongsTo,
				Table:      target.QualifiedName(),
				Columns:    fk.Columns,
				RefColumns: fk.RefColumns,
			})
		}

		// Incoming foreign keys: has-one / has-many, unless the referencing
		// table is a linker. A self-referential key yields both directions
		// on the same table.
		for j := range tables {
			other := &tables[j]
			if linkers[other.QualifiedName()] {
				continue
			}
			for _, fk := range other.ForeignKeys {
				target, ok := refs.resolve(other.Group, fk.RefTable)
				if !ok || target != t {
					continue
				}
				kind := RelHasMany
				if sameColumnSet(fk.Columns, other.PrimaryKey) {
					kind = RelHasOne
				}
				t.Relations = append(t.Relations, Relation{
					Kind:       kind,
					Table:      other.QualifiedName(),
					Columns:    fk.Columns,
					RefColumns: fk.RefColumns,
				})
			}
		}
	}

	// Linker tables contribute many-to-many edges between their endpoints.
	for i := range tables {
		l := &tables[i]
		if !linkers[l.QualifiedName()] {
			continue
		}
		a, b := l.ForeignKeys[0], l.ForeignKeys[1]
		addManyToMany(refs, l, a, b)
		addManyToMany(refs, l, b, a)
	}

	for i := range tables {
		finishRelations(&tables[i])
	}
}

// isLinker reports whether t joins exactly two other tables: two foreign
// keys to distinct targets whose columns together make up the primary key.
// Both keys must reference their target's primary key, so a record id is
// enough to traverse the linker; keys into other unique columns keep their
// plain has-many edges instead.
func isLinker(refs *refResolver, t *Table) bool {
	if len(t.ForeignKeys) != 2 || len(t.PrimaryKey) == 0 {
		return false
	}
	a, b := t.ForeignKeys[0], t.ForeignKeys[1]
	if a.RefTable == b.RefTable {
		return false
	}
	for _, fk := range []ForeignKey{a, b} {
		target, ok := refs.resolve(t.Group, fk.RefTable)
		if !ok || !sameColumnSet(fk.RefColumns, target.PrimaryKey) {
			return false
		}
	}
	union := append(append([]string{}, a.Columns...), b.Columns...)
	return sameColumnSet(union, t.PrimaryKey)
}

func addManyToMany(refs *refResolver, l *Table, from, to ForeignKey) {
	src, ok := refs.resolve(l.Group, from.RefTable)
	if !ok {
		return
	}
	dst, ok := refs.resolve(l.Group, to.RefTable)
	if !ok {
		return
	}
	src.Relations = append(src.Relations, Relation{
		Kind:       RelManyToMany,
		Table:      dst.QualifiedName(),
		Columns:    to.Columns,
		RefColumns: to.RefColumns,
		Via: &Via{
			Table:            l.QualifiedName(),
			SourceColumns:    from.Columns,
			SourceRefColumns: from.RefColumns,
			TargetColumns:    to.Columns,
			TargetRefColumns: to.RefColumns,
		},
	})
}

// finishRelations sorts a table's relations for deterministic route
// matching and assigns names, disambiguating repeated targets by the way
// the target is reached ("target (via x)").
func finishRelations(t *Table) {
	rels := t.Relations
	sort.SliceStable(rels, func(i, j int) bool {
		if rels[i].Table != rels[j].Table {
			return rels[i].Table < rels[j].Table
		}
		if kindRank[rels[i].Kind] != kindRank[rels[j].Kind] {
			return kindRank[rels[i].Kind] < kindRank[rels[j].Kind]
		}
		return viaLabel(t.Group, &rels[i]) < viaLabel(t.Group, &rels[j])
	})

	counts := make(map[string]int)
	for i := range rels {
		counts[rels[i].Table]++
	}
	for i := range rels {
		r := &rels[i]
		label := relationLabel(t.Group, r.Table)
		if counts[r.Table] > 1 {
			r.Name = fmt.Sprintf("%s (via %s)", label, viaLabel(t.Group, r))
		} else {
			r.Name = label
		}
	}

	// Both directions of a self-referential key share target and column;
	// fold the kind in to keep names unique.
	nameCounts := make(map[string]int)
	for i := range rels {
		nameCounts[rels[i].Name]++
	}
	for i := range rels {
		r := &rels[i]
		if nameCounts[r.Name] > 1 {
			label := relationLabel(t.Group, r.Table)
			r.Name = fmt.Sprintf("%s (%s via %s)", label, r.Kind, viaLabel(t.Group, r))
		}
	}
}

// relationLabel renders a qualified table name relative to a group:
// same-group targets keep their bare name.
func relationLabel(group, qualified string) string {
	if rest, ok := strings.CutPrefix(qualified, group+"."); ok {
		return rest
	}
	return qualified
}

func viaLabel(group string, r *Relation) string {
	if r.Via != nil {
		return relationLabel(group, r.Via.Table)
	}
	if len(r.Columns) > 0 {
		return r.Columns[0]
	}
	return ""
}

// sameColumnSet compares two column lists as sets (order-insensitive,
// multiplicity-sensitive).
func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string{}, a...)
	bs := append([]string{}, b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tabuladb/tabula/pkg/schema"
)

// ErrEmptyBody is returned when an update body names no columns.
var ErrEmptyBody = errors.New("request body sets no columns")

// Limits bound the pagination window. Requests above MaxPageSize are
// clamped, never rejected.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Builder constructs logical queries against one schema snapshot. Make one
// per request so the whole pipeline observes a single snapshot.
type Builder struct {
	model  *schema.Model
	limits Limits
}

func NewBuilder(model *schema.Model, limits Limits) *Builder {
	if limits.DefaultPageSize <= 0 {
		limits.DefaultPageSize = 40
	}
	if limits.MaxPageSize <= 0 {
		limits.MaxPageSize = 500
	}
	return &Builder{model: model, limits: limits}
}

// List builds the paged listing of a table.
func (b *Builder) List(t *schema.Table, p Params) (*Select, error) {
	q := &Select{Table: t.QualifiedName()}
	if err := b.project(q, t, p.Columns); err != nil {
		return nil, err
	}
	if err := b.filter(q, t, p.Filters); err != nil {
		return nil, err
	}
	b.search(q, t, p.Search)
	if err := b.order(q, t, p.Sort); err != nil {
		return nil, err
	}
	b.window(q, p)
	return q, nil
}

// Get builds the single-record fetch for an already coerced primary-key id.
func (b *Builder) Get(t *schema.Table, id []any) *Select {
	q := &Select{Table: t.QualifiedName(), Limit: 1}
	bindValues(&q.Where, false, t.PrimaryKey, id)
	return q
}

// Related builds the listing of records related to one record of t. The
// query's base table is the relation's target; depending on cardinality the
// record id binds either directly to target columns or through one join.
func (b *Builder) Related(t *schema.Table, rel *schema.Relation, id []any, p Params) (*Select, error) {
	target, ok := b.model.Table(rel.Table)
	if !ok {
		return nil, fmt.Errorf("relation target %s missing from snapshot", rel.Table)
	}
	q := &Select{Table: target.QualifiedName()}

	switch rel.Kind {
	case schema.RelHasMany, schema.RelHasOne:
		if vals, ok := reorderByKey(rel.RefColumns, t.PrimaryKey, id); ok {
			// The target's foreign key references t's primary key: the id
			// binds directly against the key columns.
			bindValues(&q.Where, false, rel.Columns, vals)
		} else {
			// The key references some other unique column set; go through t.
			q.Join = &Join{Table: t.QualifiedName(), On: joinPairs(rel.RefColumns, rel.Columns)}
			bindValues(&q.Where, true, t.PrimaryKey, id)
		}
	case schema.RelBelongsTo:
		q.Join = &Join{Table: t.QualifiedName(), On: joinPairs(rel.Columns, rel.RefColumns)}
		bindValues(&q.Where, true, t.PrimaryKey, id)
	case schema.RelManyToMany:
		via := rel.Via
		vals, ok := reorderByKey(via.SourceRefColumns, t.PrimaryKey, id)
		if !ok {
			return nil, fmt.Errorf("linker %s does not reference the primary key of %s", via.Table, t.QualifiedName())
		}
		q.Join = &Join{Table: via.Table, On: joinPairs(via.TargetColumns, via.TargetRefColumns)}
		bindValues(&q.Where, true, via.SourceColumns, vals)
	default:
		return nil, fmt.Errorf("relation kind %q not supported", rel.Kind)
	}

	if err := b.project(q, target, p.Columns); err != nil {
		return nil, err
	}
	if err := b.filter(q, target, p.Filters); err != nil {
		return nil, err
	}
	b.search(q, target, p.Search)
	if err := b.order(q, target, p.Sort); err != nil {
		return nil, err
	}
	b.window(q, p)
	return q, nil
}

// Distinct builds the distinct-values listing of one column, ordered by
// that column.
func (b *Builder) Distinct(t *schema.Table, column string, p Params) (*Select, error) {
	col := t.Column(column)
	if col == nil {
		return nil, unknownColumn(t.QualifiedName(), column)
	}
	if col.Type == schema.TypeJSON || col.Type == schema.TypeBinary {
		return nil, typeMismatch(column, "type %s does not support distinct listing", col.Type)
	}
	q := &Select{
		Table:    t.QualifiedName(),
		Columns:  []string{col.Name},
		Distinct: true,
	}
	if err := b.filter(q, t, p.Filters); err != nil {
		return nil, err
	}
	b.search(q, t, p.Search)
	q.Order = []Order{{Column: col.Name}}
	b.window(q, p)
	return q, nil
}

// Insert builds a single-row insert from a decoded JSON body. An empty body
// inserts a row of defaults. Columns keep schema declaration order so the
// rendered SQL is deterministic.
func (b *Builder) Insert(t *schema.Table, body map[string]json.RawMessage) (*Insert, error) {
	if err := checkBodyColumns(t, body); err != nil {
		return nil, err
	}
	ins := &Insert{Table: t.QualifiedName()}
	for i := range t.Columns {
		col := &t.Columns[i]
		raw, ok := body[col.Name]
		if !ok {
			continue
		}
		v, err := coerceJSON(col, raw)
		if err != nil {
			return nil, err
		}
		ins.Columns = append(ins.Columns, col.Name)
		ins.Values = append(ins.Values, v)
	}
	return ins, nil
}

// Update builds a partial update of one record from a decoded JSON body.
func (b *Builder) Update(t *schema.Table, id []any, body map[string]json.RawMessage) (*Update, error) {
	if err := checkBodyColumns(t, body); err != nil {
		return nil, err
	}
	upd := &Update{Table: t.QualifiedName()}
	for i := range t.Columns {
		col := &t.Columns[i]
		raw, ok := body[col.Name]
		if !ok {
			continue
		}
		v, err := coerceJSON(col, raw)
		if err != nil {
			return nil, err
		}
		upd.Columns = append(upd.Columns, col.Name)
		upd.Values = append(upd.Values, v)
	}
	if len(upd.Columns) == 0 {
		return nil, ErrEmptyBody
	}
	bindValues(&upd.Where, false, t.PrimaryKey, id)
	return upd, nil
}

// Delete builds the removal of one record.
func (b *Builder) Delete(t *schema.Table, id []any) *Delete {
	del := &Delete{Table: t.QualifiedName()}
	bindValues(&del.Where, false, t.PrimaryKey, id)
	return del
}

// Window resolves the effective page and page size after defaulting and
// clamping; response envelopes report these, not the requested values.
func (b *Builder) Window(p Params) (page, size int) {
	size = p.PageSize
	if size <= 0 {
		size = b.limits.DefaultPageSize
	}
	if size > b.limits.MaxPageSize {
		size = b.limits.MaxPageSize
	}
	page = p.Page
	if page < 1 {
		page = 1
	}
	return page, size
}

func (b *Builder) window(q *Select, p Params) {
	page, size := b.Window(p)
	q.Limit = size
	q.Offset = (page - 1) * size
}

func (b *Builder) project(q *Select, t *schema.Table, columns []string) error {
	for _, name := range columns {
		col := t.Column(name)
		if col == nil {
			return unknownColumn(t.QualifiedName(), name)
		}
		q.Columns = append(q.Columns, col.Name)
	}
	return nil
}

func (b *Builder) filter(q *Select, t *schema.Table, filters []Filter) error {
	for _, f := range filters {
		cond, err := b.condition(t, f)
		if err != nil {
			return err
		}
		q.Where.All = append(q.Where.All, cond)
	}
	return nil
}

func (b *Builder) condition(t *schema.Table, f Filter) (Condition, error) {
	col := t.Column(f.Column)
	if col == nil {
		return Condition{}, unknownColumn(t.QualifiedName(), f.Column)
	}
	switch f.Op {
	case OpIsNull:
		want, err := strconv.ParseBool(f.Raw)
		if err != nil {
			return Condition{}, typeMismatch(f.Column, "isnull takes true or false, got %q", f.Raw)
		}
		op := OpIsNull
		if !want {
			op = OpNotNull
		}
		return Condition{Column: col.Name, Op: op}, nil
	case OpContains:
		if col.Type != schema.TypeText && col.Type != schema.TypeEnum {
			return Condition{}, typeMismatch(f.Column, "contains requires a text column, not %s", col.Type)
		}
		return Condition{Column: col.Name, Op: OpContains, Values: []any{f.Raw}}, nil
	case OpIn:
		parts := strings.Split(f.Raw, ",")
		vals := make([]any, 0, len(parts))
		for _, part := range parts {
			v, err := Coerce(col, part)
			if err != nil {
				return Condition{}, err
			}
			vals = append(vals, v)
		}
		return Condition{Column: col.Name, Op: OpIn, Values: vals}, nil
	default:
		v, err := Coerce(col, f.Raw)
		if err != nil {
			return Condition{}, err
		}
		return Condition{Column: col.Name, Op: f.Op, Values: []any{v}}, nil
	}
}

// search expands the search term into contains matches ORed over every
// text column. A table without text columns ignores the term.
func (b *Builder) search(q *Select, t *schema.Table, term string) {
	if term == "" {
		return
	}
	for _, name := range t.TextColumns() {
		q.Where.Any = append(q.Where.Any, Condition{Column: name, Op: OpContains, Values: []any{term}})
	}
}

func (b *Builder) order(q *Select, t *schema.Table, keys []SortKey) error {
	for _, k := range keys {
		col := t.Column(k.Column)
		if col == nil {
			return unknownColumn(t.QualifiedName(), k.Column)
		}
		q.Order = append(q.Order, Order{Column: col.Name, Desc: k.Desc})
	}
	if len(q.Order) == 0 {
		// Stable default so pages do not shuffle between requests.
		for _, pk := range t.PrimaryKey {
			q.Order = append(q.Order, Order{Column: pk})
		}
	}
	return nil
}

func checkBodyColumns(t *schema.Table, body map[string]json.RawMessage) error {
	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if t.Column(name) == nil {
			return unknownColumn(t.QualifiedName(), name)
		}
	}
	return nil
}

func bindValues(p *Predicate, onJoin bool, columns []string, values []any) {
	for i, col := range columns {
		p.All = append(p.All, Condition{OnJoin: onJoin, Column: col, Op: OpEq, Values: []any{values[i]}})
	}
}

// joinPairs zips join-side columns with base-side columns.
func joinPairs(joinSide, baseSide []string) [][2]string {
	pairs := make([][2]string, len(joinSide))
	for i := range joinSide {
		pairs[i] = [2]string{joinSide[i], baseSide[i]}
	}
	return pairs
}

// reorderByKey maps id values given in primary-key order onto the order of
// refCols; ok is false when refCols is not exactly the primary key.
func reorderByKey(refCols, pk []string, id []any) ([]any, bool) {
	if len(refCols) != len(pk) || len(id) != len(pk) {
		return nil, false
	}
	idx := make(map[string]int, len(pk))
	for i, c := range pk {
		idx[c] = i
	}
	vals := make([]any, len(refCols))
	for i, c := range refCols {
		j, ok := idx[c]
		if !ok {
			return nil, false
		}
		vals[i] = id[j]
	}
	return vals, true
}

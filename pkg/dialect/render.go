package dialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tabuladb/tabula/pkg/query"
	"github.com/tabuladb/tabula/pkg/schema"
)

// Aliases used for the base table and the single join table. Mutations
// render unaliased, bare column references.
const (
	baseAlias = "t"
	joinAlias = "j"
)

type dialect struct {
	driver     schema.Driver
	containsOp string
}

func (d *dialect) Name() schema.Driver { return d.driver }

func (d *dialect) RenderSelect(q *query.Select) (string, []any, error) {
	r := d.renderer(true)
	r.sb.WriteString("SELECT ")
	if q.Distinct {
		r.sb.WriteString("DISTINCT ")
	}
	r.projection(q.Columns)
	r.sb.WriteString(" FROM ")
	r.sb.WriteString(quoteQualified(q.Table))
	r.sb.WriteString(" AS ")
	r.sb.WriteString(baseAlias)
	r.join(q.Join)
	if err := r.where(q.Where); err != nil {
		return "", nil, err
	}
	r.orderBy(q.Order)
	r.window(q.Limit, q.Offset)
	return r.sb.String(), r.args, nil
}

// RenderCount renders the companion total query: same source, join and
// predicate, no ordering or window. A distinct single-column select
// counts its distinct values.
func (d *dialect) RenderCount(q *query.Select) (string, []any, error) {
	r := d.renderer(true)
	r.sb.WriteString("SELECT COUNT(")
	if q.Distinct && len(q.Columns) == 1 {
		r.sb.WriteString("DISTINCT ")
		r.sb.WriteString(baseAlias)
		r.sb.WriteByte('.')
		r.sb.WriteString(quote(q.Columns[0]))
	} else {
		r.sb.WriteByte('*')
	}
	r.sb.WriteString(") FROM ")
	r.sb.WriteString(quoteQualified(q.Table))
	r.sb.WriteString(" AS ")
	r.sb.WriteString(baseAlias)
	r.join(q.Join)
	if err := r.where(q.Where); err != nil {
		return "", nil, err
	}
	return r.sb.String(), r.args, nil
}

func (d *dialect) RenderInsert(ins *query.Insert) (string, []any, error) {
	r := d.renderer(false)
	r.sb.WriteString("INSERT INTO ")
	r.sb.WriteString(quoteQualified(ins.Table))
	if len(ins.Columns) == 0 {
		r.sb.WriteString(" DEFAULT VALUES RETURNING *")
		return r.sb.String(), r.args, nil
	}
	r.sb.WriteString(" (")
	for i, col := range ins.Columns {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		r.sb.WriteString(quote(col))
	}
	r.sb.WriteString(") VALUES (")
	for i, v := range ins.Values {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		r.sb.WriteString(r.bind(v))
	}
	r.sb.WriteString(") RETURNING *")
	return r.sb.String(), r.args, nil
}

func (d *dialect) RenderUpdate(upd *query.Update) (string, []any, error) {
	if len(upd.Columns) == 0 {
		return "", nil, fmt.Errorf("update of %s has no columns", upd.Table)
	}
	r := d.renderer(false)
	r.sb.WriteString("UPDATE ")
	r.sb.WriteString(quoteQualified(upd.Table))
	r.sb.WriteString(" SET ")
	for i, col := range upd.Columns {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		r.sb.WriteString(quote(col))
		r.sb.WriteString(" = ")
		r.sb.WriteString(r.bind(upd.Values[i]))
	}
	if err := r.where(upd.Where); err != nil {
		return "", nil, err
	}
	r.sb.WriteString(" RETURNING *")
	return r.sb.String(), r.args, nil
}

// RenderDelete returns the removed rows so callers can distinguish a
// deleted record from one that never existed.
func (d *dialect) RenderDelete(del *query.Delete) (string, []any, error) {
	r := d.renderer(false)
	r.sb.WriteString("DELETE FROM ")
	r.sb.WriteString(quoteQualified(del.Table))
	if err := r.where(del.Where); err != nil {
		return "", nil, err
	}
	r.sb.WriteString(" RETURNING *")
	return r.sb.String(), r.args, nil
}

func (d *dialect) renderer(aliased bool) *renderer {
	return &renderer{dialect: d, aliased: aliased}
}

type renderer struct {
	*dialect
	sb      strings.Builder
	args    []any
	aliased bool
}

// bind appends v to the argument list and returns its placeholder.
func (r *renderer) bind(v any) string {
	r.args = append(r.args, v)
	if r.driver == schema.DriverPostgres {
		return "$" + strconv.Itoa(len(r.args))
	}
	return "?"
}

func (r *renderer) projection(cols []string) {
	if len(cols) == 0 {
		r.sb.WriteString(baseAlias)
		r.sb.WriteString(".*")
		return
	}
	for i, col := range cols {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		r.sb.WriteString(baseAlias)
		r.sb.WriteByte('.')
		r.sb.WriteString(quote(col))
	}
}

func (r *renderer) join(j *query.Join) {
	if j == nil {
		return
	}
	r.sb.WriteString(" JOIN ")
	r.sb.WriteString(quoteQualified(j.Table))
	r.sb.WriteString(" AS ")
	r.sb.WriteString(joinAlias)
	r.sb.WriteString(" ON ")
	for i, pair := range j.On {
		if i > 0 {
			r.sb.WriteString(" AND ")
		}
		r.sb.WriteString(joinAlias)
		r.sb.WriteByte('.')
		r.sb.WriteString(quote(pair[0]))
		r.sb.WriteString(" = ")
		r.sb.WriteString(baseAlias)
		r.sb.WriteByte('.')
		r.sb.WriteString(quote(pair[1]))
	}
}

func (r *renderer) where(p query.Predicate) error {
	if p.Empty() {
		return nil
	}
	r.sb.WriteString(" WHERE ")
	for i, c := range p.All {
		if i > 0 {
			r.sb.WriteString(" AND ")
		}
		if err := r.condition(c); err != nil {
			return err
		}
	}
	if len(p.Any) > 0 {
		if len(p.All) > 0 {
			r.sb.WriteString(" AND ")
		}
		r.sb.WriteByte('(')
		for i, c := range p.Any {
			if i > 0 {
				r.sb.WriteString(" OR ")
			}
			if err := r.condition(c); err != nil {
				return err
			}
		}
		r.sb.WriteByte(')')
	}
	return nil
}

func (r *renderer) condition(c query.Condition) error {
	col := r.columnRef(c)
	switch c.Op {
	case query.OpEq:
		r.sb.WriteString(col + " = " + r.bind(c.Values[0]))
	case query.OpNeq:
		r.sb.WriteString(col + " <> " + r.bind(c.Values[0]))
	case query.OpGt:
		r.sb.WriteString(col + " > " + r.bind(c.Values[0]))
	case query.OpGte:
		r.sb.WriteString(col + " >= " + r.bind(c.Values[0]))
	case query.OpLt:
		r.sb.WriteString(col + " < " + r.bind(c.Values[0]))
	case query.OpLte:
		r.sb.WriteString(col + " <= " + r.bind(c.Values[0]))
	case query.OpContains:
		pattern := "%" + escapeLike(fmt.Sprint(c.Values[0])) + "%"
		r.sb.WriteString(col + " " + r.containsOp + " " + r.bind(pattern) + ` ESCAPE '\'`)
	case query.OpIn:
		r.sb.WriteString(col + " IN (")
		for i, v := range c.Values {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			r.sb.WriteString(r.bind(v))
		}
		r.sb.WriteByte(')')
	case query.OpIsNull:
		r.sb.WriteString(col + " IS NULL")
	case query.OpNotNull:
		r.sb.WriteString(col + " IS NOT NULL")
	default:
		return fmt.Errorf("operator %q has no rendering", c.Op)
	}
	return nil
}

func (r *renderer) columnRef(c query.Condition) string {
	if !r.aliased {
		return quote(c.Column)
	}
	alias := baseAlias
	if c.OnJoin {
		alias = joinAlias
	}
	return alias + "." + quote(c.Column)
}

func (r *renderer) orderBy(order []query.Order) {
	if len(order) == 0 {
		return
	}
	r.sb.WriteString(" ORDER BY ")
	for i, o := range order {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		r.sb.WriteString(baseAlias)
		r.sb.WriteByte('.')
		r.sb.WriteString(quote(o.Column))
		if o.Desc {
			r.sb.WriteString(" DESC")
		}
	}
}

func (r *renderer) window(limit, offset int) {
	if limit > 0 {
		r.sb.WriteString(" LIMIT ")
		r.sb.WriteString(strconv.Itoa(limit))
	} else if offset > 0 && r.driver == schema.DriverSQLite {
		// SQLite refuses OFFSET without LIMIT.
		r.sb.WriteString(" LIMIT -1")
	}
	if offset > 0 {
		r.sb.WriteString(" OFFSET ")
		r.sb.WriteString(strconv.Itoa(offset))
	}
}

// quote double-quotes a single identifier. Both engines accept the
// standard doubled-quote escape.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// quoteQualified quotes a possibly group-qualified table name.
func quoteQualified(name string) string {
	group, rest, ok := strings.Cut(name, ".")
	if !ok {
		return quote(name)
	}
	return quote(group) + "." + quote(rest)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes pattern metacharacters in a contains operand so
// user input matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

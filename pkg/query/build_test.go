package query

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tabuladb/tabula/pkg/schema"
)

func testModel() *schema.Model {
	return schema.NewModel([]schema.Table{
		{
			Group: "public", Name: "users", Kind: schema.KindTable,
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, IsPrimaryKey: true},
				{Name: "name", Type: schema.TypeText},
				{Name: "email", Type: schema.TypeText, Nullable: true},
				{Name: "age", Type: schema.TypeInteger, Nullable: true},
				{Name: "settings", Type: schema.TypeJSON, Nullable: true},
				{Name: "department_id", Type: schema.TypeInteger, Nullable: true},
			},
			PrimaryKey: []string{"id"},
			ForeignKeys: []schema.ForeignKey{
				{Columns: []string{"department_id"}, RefTable: "departments", RefColumns: []string{"id"}},
			},
		},
		{
			Group: "public", Name: "departments", Kind: schema.KindTable,
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, IsPrimaryKey: true},
				{Name: "name", Type: schema.TypeText},
			},
			PrimaryKey: []string{"id"},
		},
		{
			Group: "public", Name: "profiles", Kind: schema.KindTable,
			Columns: []schema.Column{
				{Name: "user_id", Type: schema.TypeInteger, IsPrimaryKey: true},
				{Name: "bio", Type: schema.TypeText, Nullable: true},
			},
			PrimaryKey: []string{"user_id"},
			ForeignKeys: []schema.ForeignKey{
				{Columns: []string{"user_id"}, RefTable: "users", RefColumns: []string{"id"}},
			},
		},
		{
			Group: "public", Name: "tags", Kind: schema.KindTable,
			Columns: []schema.Column{
				{Name: "id", Type: schema.TypeInteger, IsPrimaryKey: true},
				{Name: "label", Type: schema.TypeText},
			},
			PrimaryKey: []string{"id"},
		},
		{
			Group: "public", Name: "user_tags", Kind: schema.KindTable,
			Columns: []schema.Column{
				{Name: "user_id", Type: schema.TypeInteger, IsPrimaryKey: true},
				{Name: "tag_id", Type: schema.TypeInteger, IsPrimaryKey: true},
			},
			PrimaryKey: []string{"user_id", "tag_id"},
			ForeignKeys: []schema.ForeignKey{
				{Columns: []string{"user_id"}, RefTable: "users", RefColumns: []string{"id"}},
				{Columns: []string{"tag_id"}, RefTable: "tags", RefColumns: []string{"id"}},
			},
		},
	})
}

func testBuilder(m *schema.Model) *Builder {
	return NewBuilder(m, Limits{DefaultPageSize: 40, MaxPageSize: 500})
}

func TestBuildList(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	p, err := ParseParams(url.Values{
		"name[contains]": {"an"},
		"age[gt]":        {"30"},
		"sort":           {"-id"},
		"page":           {"1"},
		"page_size":      {"2"},
	})
	require.NoError(t, err)

	q, err := b.List(users, p)
	require.NoError(t, err)

	assert.Equal(t, "public.users", q.Table)
	assert.Nil(t, q.Join)
	assert.Equal(t, 2, q.Limit)
	assert.Zero(t, q.Offset)
	assert.Equal(t, []Order{{Column: "id", Desc: true}}, q.Order)

	require.Len(t, q.Where.All, 2)
	assert.Equal(t, Condition{Column: "age", Op: OpGt, Values: []any{int64(30)}}, q.Where.All[0])
	assert.Equal(t, Condition{Column: "name", Op: OpContains, Values: []any{"an"}}, q.Where.All[1])

	// Every referenced column resolves in the schema snapshot.
	for _, c := range q.Where.All {
		assert.NotNil(t, users.Column(c.Column), c.Column)
	}
	for _, o := range q.Order {
		assert.NotNil(t, users.Column(o.Column), o.Column)
	}
}

func TestBuildListDefaults(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	q, err := b.List(users, Params{Page: 1})
	require.NoError(t, err)

	assert.Equal(t, 40, q.Limit)
	assert.Zero(t, q.Offset)
	// Without an explicit sort the primary key keeps pages stable.
	assert.Equal(t, []Order{{Column: "id"}}, q.Order)
	assert.True(t, q.Where.Empty())
}

func TestBuildListClampsPageSize(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	q, err := b.List(users, Params{Page: 3, PageSize: 10000})
	require.NoError(t, err)
	assert.Equal(t, 500, q.Limit)
	assert.Equal(t, 1000, q.Offset)

	page, size := b.Window(Params{Page: 3, PageSize: 10000})
	assert.Equal(t, 3, page)
	assert.Equal(t, 500, size)
}

func TestBuildListErrors(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	var be *BuildError

	_, err := b.List(users, Params{Page: 1, Filters: []Filter{{Column: "ghost", Op: OpEq, Raw: "1"}}})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrUnknownColumn, be.Kind)
	assert.Equal(t, "ghost", be.Column)

	_, err = b.List(users, Params{Page: 1, Filters: []Filter{{Column: "age", Op: OpGt, Raw: "abc"}}})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrTypeMismatch, be.Kind)
	assert.Equal(t, "age", be.Column)

	_, err = b.List(users, Params{Page: 1, Sort: []SortKey{{Column: "ghost"}}})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrUnknownColumn, be.Kind)

	_, err = b.List(users, Params{Page: 1, Columns: []string{"ghost"}})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrUnknownColumn, be.Kind)

	// Filters on JSON columns have no defined comparison.
	_, err = b.List(users, Params{Page: 1, Filters: []Filter{{Column: "settings", Op: OpEq, Raw: "{}"}}})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrTypeMismatch, be.Kind)
}

func TestBuildListSearch(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	q, err := b.List(users, Params{Page: 1, Search: "ann"})
	require.NoError(t, err)

	// One contains-match per text column, ORed.
	require.Len(t, q.Where.Any, 2)
	assert.Equal(t, Condition{Column: "name", Op: OpContains, Values: []any{"ann"}}, q.Where.Any[0])
	assert.Equal(t, Condition{Column: "email", Op: OpContains, Values: []any{"ann"}}, q.Where.Any[1])
	assert.Empty(t, q.Where.All)

	// No text columns, no search predicate.
	linker, _ := m.Table("user_tags")
	q, err = b.List(linker, Params{Page: 1, Search: "ann"})
	require.NoError(t, err)
	assert.True(t, q.Where.Empty())
}

func TestBuildListOperators(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	q, err := b.List(users, Params{Page: 1, Filters: []Filter{{Column: "id", Op: OpIn, Raw: "1,2,3"}}})
	require.NoError(t, err)
	require.Len(t, q.Where.All, 1)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, q.Where.All[0].Values)

	q, err = b.List(users, Params{Page: 1, Filters: []Filter{{Column: "email", Op: OpIsNull, Raw: "true"}}})
	require.NoError(t, err)
	assert.Equal(t, OpIsNull, q.Where.All[0].Op)
	assert.Empty(t, q.Where.All[0].Values)

	q, err = b.List(users, Params{Page: 1, Filters: []Filter{{Column: "email", Op: OpIsNull, Raw: "false"}}})
	require.NoError(t, err)
	assert.Equal(t, OpNotNull, q.Where.All[0].Op)

	_, err = b.List(users, Params{Page: 1, Filters: []Filter{{Column: "email", Op: OpIsNull, Raw: "maybe"}}})
	require.Error(t, err)

	_, err = b.List(users, Params{Page: 1, Filters: []Filter{{Column: "age", Op: OpContains, Raw: "3"}}})
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrTypeMismatch, be.Kind)
}

func TestBuildGet(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	q := b.Get(users, []any{int64(42)})
	assert.Equal(t, "public.users", q.Table)
	assert.Equal(t, 1, q.Limit)
	require.Len(t, q.Where.All, 1)
	assert.Equal(t, Condition{Column: "id", Op: OpEq, Values: []any{int64(42)}}, q.Where.All[0])
}

func TestBuildRelated(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")
	departments, _ := m.Table("departments")

	t.Run("has-many binds the foreign key directly", func(t *testing.T) {
		rel := departments.RelationTo("users")
		require.NotNil(t, rel)

		q, err := b.Related(departments, rel, []any{int64(7)}, Params{Page: 1})
		require.NoError(t, err)
		assert.Equal(t, "public.users", q.Table)
		assert.Nil(t, q.Join)
		require.Len(t, q.Where.All, 1)
		assert.Equal(t, Condition{Column: "department_id", Op: OpEq, Values: []any{int64(7)}}, q.Where.All[0])
	})

	t.Run("belongs-to joins the source table", func(t *testing.T) {
		rel := users.RelationTo("departments")
		require.NotNil(t, rel)

		q, err := b.Related(users, rel, []any{int64(42)}, Params{Page: 1})
		require.NoError(t, err)
		assert.Equal(t, "public.departments", q.Table)
		require.NotNil(t, q.Join)
		assert.Equal(t, "public.users", q.Join.Table)
		assert.Equal(t, [][2]string{{"department_id", "id"}}, q.Join.On)
		require.Len(t, q.Where.All, 1)
		assert.Equal(t, Condition{OnJoin: true, Column: "id", Op: OpEq, Values: []any{int64(42)}}, q.Where.All[0])
	})

	t.Run("has-one binds directly", func(t *testing.T) {
		rel := users.RelationTo("profiles")
		require.NotNil(t, rel)
		require.Equal(t, schema.RelHasOne, rel.Kind)

		q, err := b.Related(users, rel, []any{int64(42)}, Params{Page: 1})
		require.NoError(t, err)
		assert.Equal(t, "public.profiles", q.Table)
		assert.Nil(t, q.Join)
		assert.Equal(t, Condition{Column: "user_id", Op: OpEq, Values: []any{int64(42)}}, q.Where.All[0])
	})

	t.Run("many-to-many joins the linker", func(t *testing.T) {
		rel := users.RelationTo("tags")
		require.NotNil(t, rel)
		require.Equal(t, schema.RelManyToMany, rel.Kind)

		q, err := b.Related(users, rel, []any{int64(42)}, Params{Page: 1})
		require.NoError(t, err)
		assert.Equal(t, "public.tags", q.Table)
		require.NotNil(t, q.Join)
		assert.Equal(t, "public.user_tags", q.Join.Table)
		assert.Equal(t, [][2]string{{"tag_id", "id"}}, q.Join.On)
		assert.Equal(t, Condition{OnJoin: true, Column: "user_id", Op: OpEq, Values: []any{int64(42)}}, q.Where.All[0])
	})

	t.Run("target filters apply", func(t *testing.T) {
		rel := departments.RelationTo("users")
		q, err := b.Related(departments, rel, []any{int64(7)}, Params{
			Page:    1,
			Filters: []Filter{{Column: "age", Op: OpGt, Raw: "30"}},
		})
		require.NoError(t, err)
		require.Len(t, q.Where.All, 2)

		_, err = b.Related(departments, rel, []any{int64(7)}, Params{
			Page:    1,
			Filters: []Filter{{Column: "ghost", Op: OpEq, Raw: "1"}},
		})
		var be *BuildError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, ErrUnknownColumn, be.Kind)
	})
}

func TestBuildDistinct(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	q, err := b.Distinct(users, "name", Params{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, q.Columns)
	assert.True(t, q.Distinct)
	assert.Equal(t, []Order{{Column: "name"}}, q.Order)
	assert.Equal(t, 40, q.Limit)

	var be *BuildError
	_, err = b.Distinct(users, "ghost", Params{Page: 1})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrUnknownColumn, be.Kind)

	_, err = b.Distinct(users, "settings", Params{Page: 1})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrTypeMismatch, be.Kind)
}

func TestBuildInsert(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	body := map[string]json.RawMessage{
		"name": json.RawMessage(`"Ann"`),
		"age":  json.RawMessage(`30`),
	}
	ins, err := b.Insert(users, body)
	require.NoError(t, err)
	// Schema declaration order, not map order.
	assert.Equal(t, []string{"name", "age"}, ins.Columns)
	assert.Equal(t, []any{"Ann", int64(30)}, ins.Values)
	assert.Equal(t, "public.users", ins.Table)

	empty, err := b.Insert(users, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Columns)

	var be *BuildError
	_, err = b.Insert(users, map[string]json.RawMessage{"ghost": json.RawMessage(`1`)})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrUnknownColumn, be.Kind)

	_, err = b.Insert(users, map[string]json.RawMessage{"age": json.RawMessage(`"old"`)})
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrTypeMismatch, be.Kind)
}

func TestBuildUpdate(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	users, _ := m.Table("users")

	upd, err := b.Update(users, []any{int64(42)}, map[string]json.RawMessage{
		"email": json.RawMessage(`null`),
		"name":  json.RawMessage(`"Bea"`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "email"}, upd.Columns)
	assert.Equal(t, []any{"Bea", nil}, upd.Values)
	require.Len(t, upd.Where.All, 1)
	assert.Equal(t, Condition{Column: "id", Op: OpEq, Values: []any{int64(42)}}, upd.Where.All[0])

	_, err = b.Update(users, []any{int64(42)}, map[string]json.RawMessage{})
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestBuildDelete(t *testing.T) {
	m := testModel()
	b := testBuilder(m)
	linker, _ := m.Table("user_tags")

	del := b.Delete(linker, []any{int64(42), int64(7)})
	assert.Equal(t, "public.user_tags", del.Table)
	require.Len(t, del.Where.All, 2)
	assert.Equal(t, Condition{Column: "user_id", Op: OpEq, Values: []any{int64(42)}}, del.Where.All[0])
	assert.Equal(t, Condition{Column: "tag_id", Op: OpEq, Values: []any{int64(7)}}, del.Where.All[1])
}

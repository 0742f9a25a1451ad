package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabuladb/tabula/internal/testutil/pgtest"
)

// TestStorePostgres introspects a live database when TABULA_TEST_DATABASE
// is set and is skipped otherwise.
func TestStorePostgres(t *testing.T) {
	ctx := context.Background()
	dsn := pgtest.DSN(t)
	conn := pgtest.Connect(ctx, t)

	stmts := []string{
		`DROP SCHEMA IF EXISTS tabula_pgtest CASCADE`,
		`CREATE SCHEMA tabula_pgtest`,
		`CREATE TABLE tabula_pgtest.departments (
			id serial PRIMARY KEY,
			name text NOT NULL
		)`,
		`CREATE TABLE tabula_pgtest.users (
			id serial PRIMARY KEY,
			name text NOT NULL,
			age integer,
			department_id integer REFERENCES tabula_pgtest.departments(id),
			created_at timestamptz DEFAULT now()
		)`,
		`COMMENT ON TABLE tabula_pgtest.users IS 'people with a badge'`,
		`CREATE VIEW tabula_pgtest.active_departments AS
			SELECT id, name FROM tabula_pgtest.departments`,
	}
	for _, stmt := range stmts {
		_, err := conn.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	t.Cleanup(func() {
		_, err := conn.Exec(context.Background(), `DROP SCHEMA IF EXISTS tabula_pgtest CASCADE`)
		require.NoError(t, err)
	})

	store, err := New(DriverPostgres, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Init(ctx))

	m := store.Snapshot()
	require.NotNil(t, m)

	users, _ := m.Table("tabula_pgtest.users")
	require.NotNil(t, users)
	assert.Equal(t, []string{"id"}, users.PrimaryKey)
	assert.Equal(t, "people with a badge", users.Comment)

	id := users.Column("id")
	require.NotNil(t, id)
	assert.Equal(t, TypeInteger, id.Type)
	assert.True(t, id.HasDefault, "serial columns carry a default")

	age := users.Column("age")
	require.NotNil(t, age)
	assert.True(t, age.Nullable)

	created := users.Column("created_at")
	require.NotNil(t, created)
	assert.Equal(t, TypeTimestamp, created.Type)

	rel := users.RelationTo("departments")
	require.NotNil(t, rel)
	assert.Equal(t, RelBelongsTo, rel.Kind)
	assert.Equal(t, "tabula_pgtest.departments", rel.Table)

	departments, _ := m.Table("tabula_pgtest.departments")
	require.NotNil(t, departments)
	rel = departments.RelationTo("users")
	require.NotNil(t, rel)
	assert.Equal(t, RelHasMany, rel.Kind)

	view, _ := m.Table("tabula_pgtest.active_departments")
	require.NotNil(t, view)
	assert.Equal(t, KindView, view.Kind)
	assert.Empty(t, view.PrimaryKey)
}

package schema

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntrospectSQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE departments (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		);
		CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			age INTEGER,
			active BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP,
			department_id INTEGER REFERENCES departments(id)
		);
		CREATE TABLE tags (
			id INTEGER PRIMARY KEY,
			label TEXT NOT NULL
		);
		CREATE TABLE user_tags (
			user_id INTEGER NOT NULL REFERENCES users(id),
			tag_id INTEGER NOT NULL REFERENCES tags,
			PRIMARY KEY (user_id, tag_id)
		);
		CREATE VIEW adults AS SELECT id, name FROM users WHERE age >= 18;`)
	require.NoError(t, err)

	tables, err := introspectSQLite(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, tables, 5)

	m := NewModel(tables)

	users, ok := m.Table("users")
	require.True(t, ok)
	assert.Equal(t, "main", users.Group)
	assert.Equal(t, KindTable, users.Kind)
	assert.Equal(t, []string{"id"}, users.PrimaryKey)

	id := users.Column("id")
	require.NotNil(t, id)
	assert.Equal(t, TypeInteger, id.Type)
	assert.True(t, id.IsPrimaryKey)
	assert.False(t, id.Nullable)

	active := users.Column("active")
	require.NotNil(t, active)
	assert.Equal(t, TypeBoolean, active.Type)
	assert.True(t, active.HasDefault)
	assert.False(t, active.Nullable)

	created := users.Column("created_at")
	require.NotNil(t, created)
	assert.Equal(t, TypeTimestamp, created.Type)
	assert.True(t, created.Nullable)

	require.Len(t, users.ForeignKeys, 1)
	assert.Equal(t, ForeignKey{
		Columns:    []string{"department_id"},
		RefTable:   "departments",
		RefColumns: []string{"id"},
	}, users.ForeignKeys[0])

	linker, ok := m.Table("user_tags")
	require.True(t, ok)
	assert.Equal(t, []string{"user_id", "tag_id"}, linker.PrimaryKey)
	require.Len(t, linker.ForeignKeys, 2)
	// REFERENCES tags without a column list resolves to the tags primary key.
	for _, fk := range linker.ForeignKeys {
		if fk.RefTable == "tags" {
			assert.Equal(t, []string{"id"}, fk.RefColumns)
		}
	}

	rel := users.RelationTo("tags")
	require.NotNil(t, rel)
	assert.Equal(t, RelManyToMany, rel.Kind)

	adults, ok := m.Table("adults")
	require.True(t, ok)
	assert.Equal(t, KindView, adults.Kind)
	assert.Empty(t, adults.PrimaryKey)
	assert.NotNil(t, adults.Column("name"))
}

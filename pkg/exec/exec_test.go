package exec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tabuladb/tabula/pkg/query"
	"github.com/tabuladb/tabula/pkg/schema"
)

// openTestSource seeds a shared in-memory database and opens a Source on
// it. The seed handle stays open for the test's lifetime to pin the
// shared cache.
func openTestSource(t *testing.T) *Source {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	seed, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { seed.Close() })

	ddl := []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			age INTEGER,
			score REAL,
			active BOOLEAN NOT NULL DEFAULT 1,
			created_at TIMESTAMP
		)`,
		`INSERT INTO users (id, name, email, age, score, active, created_at) VALUES
			(1, 'ana meyer', 'ana@example.com', 34, 4.5, 1, '2024-03-01 10:30:00'),
			(2, 'bob', NULL, 51, NULL, 0, NULL),
			(3, 'susan chan', 'susan@example.com', 28, 3.25, 1, '2024-03-02 08:00:00')`,
	}
	for _, stmt := range ddl {
		_, err := seed.Exec(stmt)
		require.NoError(t, err)
	}

	src, err := Open(context.Background(), "test", dsn, Options{MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(src.Close)
	return src
}

func usersTable() *schema.Table {
	return &schema.Table{
		Group: "main",
		Name:  "users",
		Kind:  schema.KindTable,
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger, IsPrimaryKey: true},
			{Name: "name", Type: schema.TypeText},
			{Name: "email", Type: schema.TypeText, Nullable: true},
			{Name: "age", Type: schema.TypeInteger, Nullable: true},
			{Name: "score", Type: schema.TypeNumeric, Nullable: true},
			{Name: "active", Type: schema.TypeBoolean, HasDefault: true},
			{Name: "created_at", Type: schema.TypeTimestamp, Nullable: true},
		},
		PrimaryKey: []string{"id"},
	}
}

func TestExecutorQuery(t *testing.T) {
	src := openTestSource(t)
	ex := NewExecutor(src, zap.NewNop(), time.Second)
	tbl := usersTable()

	sel := &query.Select{
		Table: "main.users",
		Where: query.Predicate{
			All: []query.Condition{{Column: "name", Op: query.OpContains, Values: []any{"an"}}},
		},
		Order: []query.Order{{Column: "id"}},
		Limit: 40,
	}
	recs, err := ex.Query(context.Background(), tbl, sel)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, []string{"id", "name", "email", "age", "score", "active", "created_at"}, recs[0].Columns)

	id, _ := recs[0].Get("id")
	assert.Equal(t, int64(1), id)
	name, _ := recs[0].Get("name")
	assert.Equal(t, "ana meyer", name)
	active, _ := recs[0].Get("active")
	assert.Equal(t, true, active)
	score, _ := recs[0].Get("score")
	assert.Equal(t, "4.5", score)
	created, _ := recs[0].Get("created_at")
	assert.Equal(t, "2024-03-01T10:30:00Z", created)

	id, _ = recs[1].Get("id")
	assert.Equal(t, int64(3), id)

	t.Run("null columns", func(t *testing.T) {
		sel := &query.Select{
			Table: "main.users",
			Where: query.Predicate{
				All: []query.Condition{{Column: "id", Op: query.OpEq, Values: []any{int64(2)}}},
			},
			Limit: 1,
		}
		recs, err := ex.Query(context.Background(), tbl, sel)
		require.NoError(t, err)
		require.Len(t, recs, 1)

		email, ok := recs[0].Get("email")
		assert.True(t, ok)
		assert.Nil(t, email)
		score, _ := recs[0].Get("score")
		assert.Nil(t, score)
		active, _ := recs[0].Get("active")
		assert.Equal(t, false, active)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ex.Query(ctx, tbl, sel)
		var execErr *Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, KindCancelled, execErr.Kind)
		assert.False(t, execErr.Retryable)
	})
}

func TestExecutorQueryWithTotal(t *testing.T) {
	src := openTestSource(t)
	ex := NewExecutor(src, zap.NewNop(), time.Second)
	tbl := usersTable()

	sel := &query.Select{
		Table: "main.users",
		Order: []query.Order{{Column: "id"}},
		Limit: 2,
	}
	recs, total, err := ex.QueryWithTotal(context.Background(), tbl, sel)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, int64(3), total)

	t.Run("page past the end", func(t *testing.T) {
		sel := &query.Select{
			Table:  "main.users",
			Order:  []query.Order{{Column: "id"}},
			Limit:  2,
			Offset: 10,
		}
		recs, total, err := ex.QueryWithTotal(context.Background(), tbl, sel)
		require.NoError(t, err)
		assert.Empty(t, recs)
		assert.Equal(t, int64(3), total)
	})
}

func TestExecutorInsert(t *testing.T) {
	src := openTestSource(t)
	ex := NewExecutor(src, zap.NewNop(), time.Second)
	tbl := usersTable()

	ins := &query.Insert{
		Table:   "main.users",
		Columns: []string{"name", "age"},
		Values:  []any{"carla", int64(40)},
	}
	rec, err := ex.Insert(context.Background(), tbl, ins)
	require.NoError(t, err)

	id, _ := rec.Get("id")
	assert.Equal(t, int64(4), id)
	name, _ := rec.Get("name")
	assert.Equal(t, "carla", name)
	active, _ := rec.Get("active")
	assert.Equal(t, true, active, "default applied and returned")

	t.Run("constraint violation", func(t *testing.T) {
		dup := &query.Insert{
			Table:   "main.users",
			Columns: []string{"id", "name"},
			Values:  []any{int64(1), "dup"},
		}
		_, err := ex.Insert(context.Background(), tbl, dup)
		var execErr *Error
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, KindConstraint, execErr.Kind)
		assert.False(t, execErr.Retryable)
	})
}

func TestExecutorUpdate(t *testing.T) {
	src := openTestSource(t)
	ex := NewExecutor(src, zap.NewNop(), time.Second)
	tbl := usersTable()

	upd := &query.Update{
		Table:   "main.users",
		Columns: []string{"email"},
		Values:  []any{"bob@example.com"},
		Where: query.Predicate{
			All: []query.Condition{{Column: "id", Op: query.OpEq, Values: []any{int64(2)}}},
		},
	}
	rec, found, err := ex.Update(context.Background(), tbl, upd)
	require.NoError(t, err)
	require.True(t, found)
	email, _ := rec.Get("email")
	assert.Equal(t, "bob@example.com", email)

	t.Run("missing record", func(t *testing.T) {
		upd := &query.Update{
			Table:   "main.users",
			Columns: []string{"email"},
			Values:  []any{"x@example.com"},
			Where: query.Predicate{
				All: []query.Condition{{Column: "id", Op: query.OpEq, Values: []any{int64(999)}}},
			},
		}
		_, found, err := ex.Update(context.Background(), tbl, upd)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestExecutorDelete(t *testing.T) {
	src := openTestSource(t)
	ex := NewExecutor(src, zap.NewNop(), time.Second)
	tbl := usersTable()

	del := &query.Delete{
		Table: "main.users",
		Where: query.Predicate{
			All: []query.Condition{{Column: "id", Op: query.OpEq, Values: []any{int64(2)}}},
		},
	}
	rec, found, err := ex.Delete(context.Background(), tbl, del)
	require.NoError(t, err)
	require.True(t, found)
	name, _ := rec.Get("name")
	assert.Equal(t, "bob", name)

	_, found, err = ex.Delete(context.Background(), tbl, del)
	require.NoError(t, err)
	assert.False(t, found, "second delete finds nothing")
}

func TestManager(t *testing.T) {
	srcDSN := func(name string) string {
		return fmt.Sprintf("file:mgr_%s?mode=memory&cache=shared", name)
	}
	seedA, err := sql.Open("sqlite3", srcDSN("a"))
	require.NoError(t, err)
	defer seedA.Close()
	seedB, err := sql.Open("sqlite3", srcDSN("b"))
	require.NoError(t, err)
	defer seedB.Close()
	require.NoError(t, seedA.Ping())
	require.NoError(t, seedB.Ping())

	m := NewManager()
	defer m.Close()

	_, err = m.Add(context.Background(), "a", srcDSN("a"), Options{})
	require.NoError(t, err)
	_, err = m.Add(context.Background(), "a", srcDSN("a"), Options{})
	assert.ErrorIs(t, err, ErrSourceExists)

	active, err := m.Active()
	require.NoError(t, err)
	assert.Equal(t, "a", active.Name(), "first source becomes active")

	_, err = m.Add(context.Background(), "b", srcDSN("b"), Options{}, true)
	require.NoError(t, err)
	active, err = m.Active()
	require.NoError(t, err)
	assert.Equal(t, "b", active.Name())

	assert.Equal(t, []string{"a", "b"}, m.List())

	_, err = m.Get("ghost")
	assert.ErrorIs(t, err, ErrSourceNotFound)

	require.NoError(t, m.Remove("b"))
	active, err = m.Active()
	require.NoError(t, err)
	assert.Equal(t, "a", active.Name(), "active falls back after removal")

	assert.Equal(t, schema.DriverSQLite, active.Driver())
	assert.Equal(t, schema.DriverSQLite, active.Dialect().Name())
}

// Package sqlitetest seeds throwaway SQLite databases for tests that want
// real rows behind the whole pipeline.
package sqlitetest

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

// DSN returns a shared-cache in-memory connection string unique to the
// calling test, so concurrent tests never see each other's tables.
func DSN(t testing.TB) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
}

// Open connects to dsn and holds the connection until the test ends. A
// shared-cache in-memory database is dropped when its last connection
// closes, so every test keeps this handle as an anchor.
func Open(t testing.TB, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	t.Cleanup(func() { db.Close() })
	return db
}

// Seed opens dsn and applies the directory fixture: departments hold users,
// profiles extend users one-to-one, and tags attach through the user_tags
// linker. That covers every relation shape the router can resolve.
func Seed(t testing.TB, dsn string) *sql.DB {
	t.Helper()
	db := Open(t, dsn)
	for _, stmt := range fixture {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return db
}

var fixture = []string{
	`CREATE TABLE departments (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		age INTEGER,
		active BOOLEAN NOT NULL DEFAULT 1,
		department_id INTEGER REFERENCES departments(id),
		created_at TIMESTAMP
	)`,
	`CREATE TABLE profiles (
		user_id INTEGER PRIMARY KEY REFERENCES users(id),
		bio TEXT
	)`,
	`CREATE TABLE tags (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE user_tags (
		user_id INTEGER NOT NULL REFERENCES users(id),
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		PRIMARY KEY (user_id, tag_id)
	)`,
	`INSERT INTO departments (id, name) VALUES
		(7, 'engineering'),
		(8, 'support')`,
	`INSERT INTO users (id, name, email, age, active, department_id, created_at) VALUES
		(41, 'ana meyer', 'ana@example.com', 34, 1, 7, '2024-03-01 10:30:00'),
		(42, 'dan chan', 'dan@example.com', 29, 1, 7, '2024-03-02 08:00:00'),
		(43, 'susan reed', NULL, NULL, 0, 8, NULL),
		(44, 'omar haddad', 'omar@example.com', 51, 1, 8, '2024-03-03 16:45:00')`,
	`INSERT INTO profiles (user_id, bio) VALUES
		(42, 'keeps the pagers quiet')`,
	`INSERT INTO tags (id, name) VALUES
		(1, 'oncall'),
		(2, 'beta')`,
	`INSERT INTO user_tags (user_id, tag_id) VALUES
		(41, 1),
		(42, 1),
		(42, 2)`,
}

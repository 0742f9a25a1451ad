// Package pgtest connects integration tests to a disposable Postgres
// database. Tests that use it are skipped unless TABULA_TEST_DATABASE
// points at one.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// DSN returns the integration database connection string, skipping the
// calling test when none is configured.
func DSN(t testing.TB) string {
	dsn := os.Getenv("TABULA_TEST_DATABASE")
	if dsn == "" {
		t.Skip("TABULA_TEST_DATABASE not set")
	}
	return dsn
}

// Connect opens a connection to the integration database and closes it
// when the test finishes.
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	config, err := pgx.ParseConfig(DSN(t))
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}

	conn, err := pgx.ConnectConfig(ctx, config)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, conn.Close(ctx))
	})

	return conn
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tabula.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
serve:
  listenAddr: ":9090"
  baseURL: "/admin"
  metricsAddr: ":9100"
  queryTimeout: 45s
  db:
    url: "postgres://localhost:5432/app"
    maxConns: 10
    acquireTimeout: 2s
  pagination:
    defaultPageSize: 25
    maxPageSize: 100
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Serve.ListenAddr)
	assert.Equal(t, "/admin", cfg.Serve.BaseURL)
	assert.Equal(t, ":9100", cfg.Serve.MetricsAddr)
	assert.Equal(t, 45*time.Second, cfg.Serve.QueryTimeout)
	assert.Equal(t, "postgres://localhost:5432/app", cfg.Serve.DB.URL)
	assert.Equal(t, int32(10), cfg.Serve.DB.MaxConns)
	assert.Equal(t, 2*time.Second, cfg.Serve.DB.AcquireTimeout)
	assert.Equal(t, 25, cfg.Serve.Pagination.DefaultPageSize)
	assert.Equal(t, 100, cfg.Serve.Pagination.MaxPageSize)
}

func TestLoadDefaults(t *testing.T) {
	// A file setting only the database keeps every other default.
	path := writeConfig(t, `
serve:
  db:
    url: "app.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "app.db", cfg.Serve.DB.URL)
	assert.Equal(t, ":8080", cfg.Serve.ListenAddr)
	assert.Empty(t, cfg.Serve.BaseURL)
	assert.Empty(t, cfg.Serve.MetricsAddr)
	assert.Equal(t, 30*time.Second, cfg.Serve.QueryTimeout)
	assert.Equal(t, 5*time.Second, cfg.Serve.DB.AcquireTimeout)
	assert.Equal(t, 40, cfg.Serve.Pagination.DefaultPageSize)
	assert.Equal(t, 500, cfg.Serve.Pagination.MaxPageSize)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
serve:
  db:
    url: "file-wins.db"
`)

	t.Setenv("TABULA_SERVE_DB_URL", "env-wins.db")
	t.Setenv("TABULA_SERVE_QUERYTIMEOUT", "10s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-wins.db", cfg.Serve.DB.URL)
	assert.Equal(t, 10*time.Second, cfg.Serve.QueryTimeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

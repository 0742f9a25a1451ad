// Package exec runs logical queries against a connected database source
// and materializes rows into canonically typed records.
package exec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tabuladb/tabula/pkg/dialect"
	"github.com/tabuladb/tabula/pkg/schema"
)

// Options tune the connection pool behind a source.
type Options struct {
	MaxConns int32
}

// Source is one connected database: the engine's pool tagged with the
// dialect that renders SQL for it. Exactly one of pg or lite is set.
type Source struct {
	name    string
	driver  schema.Driver
	dialect dialect.Dialect
	pg      *pgxpool.Pool
	lite    *sql.DB
}

// Open connects to connString, picking the engine from its shape, and
// verifies the connection with a ping before returning.
func Open(ctx context.Context, name, connString string, opts Options) (*Source, error) {
	driver := schema.DetectDriver(connString)
	d, err := dialect.ForDriver(driver)
	if err != nil {
		return nil, err
	}
	src := &Source{name: name, driver: driver, dialect: d}

	switch driver {
	case schema.DriverPostgres:
		cfg, err := pgxpool.ParseConfig(connString)
		if err != nil {
			return nil, fmt.Errorf("exec: parse source %q: %w", name, err)
		}
		if opts.MaxConns > 0 {
			cfg.MaxConns = opts.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("exec: connect source %q: %w", name, err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("exec: ping source %q: %w", name, err)
		}
		src.pg = pool
	default:
		db, err := sql.Open("sqlite3", connString)
		if err != nil {
			return nil, fmt.Errorf("exec: open source %q: %w", name, err)
		}
		if opts.MaxConns > 0 {
			db.SetMaxOpenConns(int(opts.MaxConns))
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec: ping source %q: %w", name, err)
		}
		src.lite = db
	}
	return src, nil
}

func (s *Source) Name() string             { return s.name }
func (s *Source) Driver() schema.Driver    { return s.driver }
func (s *Source) Dialect() dialect.Dialect { return s.dialect }

// Ping verifies the source can still reach its database.
func (s *Source) Ping(ctx context.Context) error {
	if s.pg != nil {
		return s.pg.Ping(ctx)
	}
	return s.lite.PingContext(ctx)
}

func (s *Source) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
	if s.lite != nil {
		s.lite.Close()
	}
}

var (
	ErrSourceNotFound = errors.New("exec: source not found")
	ErrSourceExists   = errors.New("exec: source already exists")
)

// Manager holds named sources and tracks which one is active. The first
// source added becomes active unless a later Add claims it explicitly.
type Manager struct {
	mu      sync.RWMutex
	sources map[string]*Source
	active  string
}

func NewManager() *Manager {
	return &Manager{sources: make(map[string]*Source)}
}

// Add opens and registers a source. With setActive=true the new source
// becomes the default for Active().
func (m *Manager) Add(ctx context.Context, name, connString string, opts Options, setActive ...bool) (*Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sources[name]; ok {
		return nil, ErrSourceExists
	}
	src, err := Open(ctx, name, connString, opts)
	if err != nil {
		return nil, err
	}
	m.sources[name] = src

	if len(setActive) > 0 && setActive[0] {
		m.active = name
	} else if m.active == "" {
		m.active = name
	}
	return src, nil
}

// Get returns a source by name.
func (m *Manager) Get(name string) (*Source, error) {
	m.mu.RLock()
	src, ok := m.sources[name]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSourceNotFound
	}
	return src, nil
}

// Active returns the current default source.
func (m *Manager) Active() (*Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == "" {
		return nil, ErrSourceNotFound
	}
	return m.sources[m.active], nil
}

// SetActive changes the default source.
func (m *Manager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sources[name]; !ok {
		return ErrSourceNotFound
	}
	m.active = name
	return nil
}

// Remove closes and forgets a source. If it was active, an arbitrary
// remaining source takes over.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[name]
	if !ok {
		return ErrSourceNotFound
	}
	src.Close()
	delete(m.sources, name)

	if m.active == name {
		m.active = ""
		for k := range m.sources {
			m.active = k
			break
		}
	}
	return nil
}

// Close closes every source.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, src := range m.sources {
		src.Close()
	}
	m.sources = make(map[string]*Source)
	m.active = ""
}

// List returns the registered source names, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	// Following PostgREST's notification convention: NOTIFY on this channel
	// with this payload triggers a reload.
	reloadChannel = "tabula"
	reloadPayload = "reload schema"
)

// Store introspects a database and keeps the resulting Model current.
// Snapshots are immutable; a reload builds a whole new Model and swaps a
// pointer, so requests already holding a snapshot are never disturbed.
//
// For Postgres the Store holds a dedicated listening connection and reloads
// on NOTIFY tabula, 'reload schema'. SQLite has no notification mechanism;
// callers reload explicitly.
type Store struct {
	driver Driver
	pool   *pgxpool.Pool // postgres introspection
	db     *sql.DB       // sqlite introspection
	model  atomic.Pointer[Model]
	watch  chan *Model
	cancel context.CancelFunc
	logger *zap.Logger

	mu     sync.Mutex
	listen *pgx.Conn // postgres LISTEN connection, swapped on reconnect
	closed bool
}

// New opens the store's own introspection connections. Call Init to load
// the first snapshot, and Close to release everything.
func New(driver Driver, connString string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		driver: driver,
		watch:  make(chan *Model, 1),
		logger: logger,
	}

	ctx := context.Background()
	switch driver {
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, connString)
		if err != nil {
			return nil, fmt.Errorf("create pool: %w", err)
		}
		conn, err := pool.Acquire(ctx)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("pool.Acquire: %w", err)
		}
		s.pool = pool
		s.listen = conn.Hijack()
	case DriverSQLite:
		db, err := sql.Open("sqlite3", connString)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.db = db
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	return s, nil
}

// Init loads the initial snapshot and, for Postgres, starts listening for
// reload notifications.
func (s *Store) Init(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.Reload(ctx); err != nil {
		cancel()
		return fmt.Errorf("initial load: %w", err)
	}

	if s.driver == DriverPostgres {
		if _, err := s.listen.Exec(ctx, "LISTEN "+reloadChannel); err != nil {
			cancel()
			return fmt.Errorf("listen: %w", err)
		}
		go s.handleUpdates(ctx)
	}
	return nil
}

// Reload introspects the database and swaps in the resulting snapshot.
func (s *Store) Reload(ctx context.Context) error {
	var (
		tables []Table
		err    error
	)
	switch s.driver {
	case DriverPostgres:
		tables, err = introspectPostgres(ctx, s.pool)
	case DriverSQLite:
		tables, err = introspectSQLite(ctx, s.db)
	}
	if err != nil {
		return err
	}

	model := NewModel(tables)
	s.model.Store(model)
	s.logger.Info("schema loaded",
		zap.String("driver", string(s.driver)),
		zap.Int("tables", model.Len()))
	s.publish(model)
	return nil
}

// Snapshot returns the current model, or nil before Init has completed.
func (s *Store) Snapshot() *Model {
	return s.model.Load()
}

// Watch delivers each new snapshot. Only the latest unconsumed snapshot is
// kept; the channel is closed by Close.
func (s *Store) Watch() <-chan *Model {
	return s.watch
}

// Close stops the listener and releases all connections. Close must not
// race an in-flight Reload.
func (s *Store) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	s.closed = true
	if s.listen != nil {
		s.listen.Close(context.Background())
	}
	s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	close(s.watch)
}

// publish hands the snapshot to watchers without blocking, replacing an
// unconsumed older one.
func (s *Store) publish(m *Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.watch <- m:
		return
	default:
	}
	select {
	case <-s.watch:
	default:
	}
	select {
	case s.watch <- m:
	default:
	}
}

func (s *Store) handleUpdates(ctx context.Context) {
	for {
		s.mu.Lock()
		conn := s.listen
		s.mu.Unlock()

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("notification wait failed, reconnecting", zap.Error(err))
			if err := s.reconnect(ctx); err != nil {
				if ctx.Err() == nil {
					s.logger.Error("listener reconnect failed, schema updates stopped", zap.Error(err))
				}
				return
			}
			continue
		}

		if notification.Payload == reloadPayload {
			if err := s.Reload(ctx); err != nil {
				s.logger.Error("schema reload failed", zap.Error(err))
			}
		}
	}
}

// reconnect replaces a broken LISTEN connection with a fresh one from the
// pool, retrying with exponential backoff.
func (s *Store) reconnect(ctx context.Context) error {
	op := func() error {
		conn, err := s.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		listen := conn.Hijack()
		if _, err := listen.Exec(ctx, "LISTEN "+reloadChannel); err != nil {
			listen.Close(ctx)
			return err
		}

		s.mu.Lock()
		old := s.listen
		s.listen = listen
		s.mu.Unlock()
		old.Close(context.Background())
		return nil
	}

	b := backoff.NewExponentialBackOff()
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// DetectDriver guesses the engine from a connection string: URL or keyword
// DSNs are Postgres, anything else is treated as a SQLite path.
func DetectDriver(connString string) Driver {
	switch {
	case strings.HasPrefix(connString, "postgres://"),
		strings.HasPrefix(connString, "postgresql://"),
		strings.Contains(connString, "host="):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

package exec

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tabuladb/tabula/pkg/query"
	"github.com/tabuladb/tabula/pkg/schema"
)

const defaultAcquireTimeout = 5 * time.Second

// Executor renders logical queries through the source's dialect and runs
// them on pooled connections. It holds no per-request state and is safe
// for concurrent use.
type Executor struct {
	src            *Source
	logger         *zap.Logger
	acquireTimeout time.Duration
}

// NewExecutor wraps a source. acquireTimeout bounds how long a request
// may wait for a free connection; zero applies the default.
func NewExecutor(src *Source, logger *zap.Logger, acquireTimeout time.Duration) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	return &Executor{src: src, logger: logger, acquireTimeout: acquireTimeout}
}

func (e *Executor) Source() *Source { return e.src }

// Query runs a select and returns its typed rows.
func (e *Executor) Query(ctx context.Context, tbl *schema.Table, sel *query.Select) ([]Record, error) {
	sqlText, args, err := e.src.dialect.RenderSelect(sel)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("select", zap.String("sql", sqlText))

	var recs []Record
	err = e.withConn(ctx, func(c conn) error {
		var err error
		recs, err = c.records(ctx, tbl, sqlText, args)
		return err
	})
	return recs, err
}

// QueryWithTotal runs a select plus its companion count on one
// connection, so both observe the same pool member. The count reuses the
// select's predicate with ordering and window stripped.
func (e *Executor) QueryWithTotal(ctx context.Context, tbl *schema.Table, sel *query.Select) ([]Record, int64, error) {
	dataSQL, dataArgs, err := e.src.dialect.RenderSelect(sel)
	if err != nil {
		return nil, 0, err
	}
	countSQL, countArgs, err := e.src.dialect.RenderCount(sel)
	if err != nil {
		return nil, 0, err
	}
	e.logger.Debug("select", zap.String("sql", dataSQL), zap.String("count", countSQL))

	var (
		recs  []Record
		total int64
	)
	err = e.withConn(ctx, func(c conn) error {
		var err error
		if recs, err = c.records(ctx, tbl, dataSQL, dataArgs); err != nil {
			return err
		}
		total, err = c.total(ctx, countSQL, countArgs)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// Insert writes one row and returns it as stored, defaults applied.
func (e *Executor) Insert(ctx context.Context, tbl *schema.Table, ins *query.Insert) (Record, error) {
	sqlText, args, err := e.src.dialect.RenderInsert(ins)
	if err != nil {
		return Record{}, err
	}
	e.logger.Debug("insert", zap.String("sql", sqlText))

	recs, err := e.returning(ctx, tbl, sqlText, args)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, &Error{Kind: KindQuery, Err: errors.New("insert returned no row")}
	}
	return recs[0], nil
}

// Update applies a change and returns the stored row. found is false when
// the predicate matched nothing.
func (e *Executor) Update(ctx context.Context, tbl *schema.Table, upd *query.Update) (Record, bool, error) {
	sqlText, args, err := e.src.dialect.RenderUpdate(upd)
	if err != nil {
		return Record{}, false, err
	}
	e.logger.Debug("update", zap.String("sql", sqlText))

	recs, err := e.returning(ctx, tbl, sqlText, args)
	if err != nil {
		return Record{}, false, err
	}
	if len(recs) == 0 {
		return Record{}, false, nil
	}
	return recs[0], true, nil
}

// Delete removes matching rows and returns the first removed one, so a
// caller can tell a deletion from a miss.
func (e *Executor) Delete(ctx context.Context, tbl *schema.Table, del *query.Delete) (Record, bool, error) {
	sqlText, args, err := e.src.dialect.RenderDelete(del)
	if err != nil {
		return Record{}, false, err
	}
	e.logger.Debug("delete", zap.String("sql", sqlText))

	recs, err := e.returning(ctx, tbl, sqlText, args)
	if err != nil {
		return Record{}, false, err
	}
	if len(recs) == 0 {
		return Record{}, false, nil
	}
	return recs[0], true, nil
}

func (e *Executor) returning(ctx context.Context, tbl *schema.Table, sqlText string, args []any) ([]Record, error) {
	var recs []Record
	err := e.withConn(ctx, func(c conn) error {
		var err error
		recs, err = c.records(ctx, tbl, sqlText, args)
		return err
	})
	return recs, err
}

// withConn scopes one pooled connection around fn. The connection goes
// back to the pool on every exit path.
func (e *Executor) withConn(ctx context.Context, fn func(c conn) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, e.acquireTimeout)
	defer cancel()

	if e.src.pg != nil {
		pc, err := e.src.pg.Acquire(acquireCtx)
		if err != nil {
			return acquireError(ctx, err)
		}
		defer pc.Release()
		return fn(conn{pg: pc})
	}

	sc, err := e.src.lite.Conn(acquireCtx)
	if err != nil {
		return acquireError(ctx, err)
	}
	defer sc.Close()
	return fn(conn{lite: sc})
}

// acquireError distinguishes pool-wait exhaustion from the caller giving
// up: only the former is retryable.
func acquireError(ctx context.Context, err error) error {
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindPoolTimeout, Retryable: true, Err: err}
	}
	return classify(err)
}

// conn is one acquired connection of either engine.
type conn struct {
	pg   *pgxpool.Conn
	lite *sql.Conn
}

func (c conn) records(ctx context.Context, tbl *schema.Table, sqlText string, args []any) ([]Record, error) {
	if c.pg != nil {
		return c.pgRecords(ctx, tbl, sqlText, args)
	}
	return c.liteRecords(ctx, tbl, sqlText, args)
}

func (c conn) pgRecords(ctx context.Context, tbl *schema.Table, sqlText string, args []any) ([]Record, error) {
	rows, err := c.pg.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
	}

	var recs []Record
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err)
		}
		rec, err := decodeRecord(tbl, columns, values)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return recs, nil
}

func (c conn) liteRecords(ctx context.Context, tbl *schema.Table, sqlText string, args []any) ([]Record, error) {
	rows, err := c.lite.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}

	var recs []Record
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err)
		}
		rec, err := decodeRecord(tbl, columns, values)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return recs, nil
}

func (c conn) total(ctx context.Context, sqlText string, args []any) (int64, error) {
	var n int64
	if c.pg != nil {
		if err := c.pg.QueryRow(ctx, sqlText, args...).Scan(&n); err != nil {
			return 0, classify(err)
		}
		return n, nil
	}
	if err := c.lite.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

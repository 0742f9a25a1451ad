package exec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrorKind classifies an execution failure. The set is closed; callers
// map kinds to response statuses and retry decisions.
type ErrorKind string

const (
	KindCancelled      ErrorKind = "cancelled"
	KindTimeout        ErrorKind = "timeout"
	KindPoolTimeout    ErrorKind = "pool_timeout"
	KindConnectionLost ErrorKind = "connection_lost"
	KindConstraint     ErrorKind = "constraint"
	KindQuery          ErrorKind = "query"
)

// Error wraps a database failure with its kind and whether retrying the
// whole request could plausibly succeed. Nothing here retries; that
// policy belongs to the caller.
type Error struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exec: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err is an execution error worth retrying.
func Retryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}

// classify maps a raw driver error onto the Error taxonomy. Already
// classified errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	var decodeErr *RowDecodeError
	if errors.As(err, &decodeErr) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Retryable: true, Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // statement timeout fired server-side
			return &Error{Kind: KindTimeout, Retryable: true, Err: err}
		case strings.HasPrefix(pgErr.Code, "08"):
			return &Error{Kind: KindConnectionLost, Retryable: true, Err: err}
		case strings.HasPrefix(pgErr.Code, "53"):
			return &Error{Kind: KindPoolTimeout, Retryable: true, Err: err}
		case strings.HasPrefix(pgErr.Code, "23"):
			return &Error{Kind: KindConstraint, Err: err}
		}
		return &Error{Kind: KindQuery, Err: err}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &Error{Kind: KindPoolTimeout, Retryable: true, Err: err}
		case sqlite3.ErrConstraint:
			return &Error{Kind: KindConstraint, Err: err}
		}
		return &Error{Kind: KindQuery, Err: err}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &netErr):
		return &Error{Kind: KindConnectionLost, Retryable: true, Err: err}
	}

	return &Error{Kind: KindQuery, Err: err}
}

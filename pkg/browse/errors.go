package browse

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tabuladb/tabula/pkg/exec"
	"github.com/tabuladb/tabula/pkg/query"
)

// Pipeline stages, reported in error envelopes so a client can tell a bad
// URL from a bad filter from a failed query.
const (
	StageResolve  = "resolve"
	StageBuild    = "build"
	StageExecute  = "execute"
	StageAssemble = "assemble"
)

type RouteErrorKind string

const (
	ErrUnknownTable        RouteErrorKind = "unknown_table"
	ErrUnknownRelation     RouteErrorKind = "unknown_relation"
	ErrMalformedIdentifier RouteErrorKind = "malformed_identifier"
)

// RouteError reports a path that does not resolve against the snapshot.
type RouteError struct {
	Kind    RouteErrorKind
	Message string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func unknownTable(name string) *RouteError {
	return &RouteError{Kind: ErrUnknownTable, Message: fmt.Sprintf("unknown table %q", name)}
}

func noRoute(method, path string) *RouteError {
	return &RouteError{Kind: ErrUnknownTable, Message: fmt.Sprintf("no route for %s %s", method, path)}
}

func unknownRelation(table, target string) *RouteError {
	return &RouteError{
		Kind:    ErrUnknownRelation,
		Message: fmt.Sprintf("%s has no relation to %q", table, target),
	}
}

func malformedIdentifier(message string) *RouteError {
	return &RouteError{Kind: ErrMalformedIdentifier, Message: message}
}

// NotFoundError is a well-formed single-record route whose record does not
// exist.
type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: no record with id %q", e.Table, e.ID)
}

// bodyError wraps a request body that could not be decoded as a flat JSON
// object.
type bodyError struct{ err error }

func (e *bodyError) Error() string { return "invalid request body: " + e.err.Error() }
func (e *bodyError) Unwrap() error { return e.err }

// statusFor maps a pipeline error onto the wire: HTTP status, the stage
// that failed, and a machine-readable kind. Retryable execution failures
// become 503 so clients and proxies know trying again may help.
func statusFor(err error) (status int, stage, kind, message string) {
	var (
		rerr *RouteError
		berr *query.BuildError
		body *bodyError
		nerr *NotFoundError
		derr *exec.RowDecodeError
		xerr *exec.Error
	)

	switch {
	case errors.As(err, &rerr):
		status = http.StatusNotFound
		if rerr.Kind == ErrMalformedIdentifier {
			status = http.StatusBadRequest
		}
		return status, StageResolve, string(rerr.Kind), rerr.Message

	case errors.Is(err, query.ErrEmptyBody):
		return http.StatusBadRequest, StageBuild, "empty_body", err.Error()

	case errors.As(err, &berr):
		return http.StatusBadRequest, StageBuild, string(berr.Kind), berr.Message

	case errors.As(err, &body):
		return http.StatusBadRequest, StageBuild, "invalid_body", body.Error()

	case errors.As(err, &nerr):
		return http.StatusNotFound, StageExecute, "not_found", nerr.Error()

	case errors.As(err, &derr):
		return http.StatusInternalServerError, StageExecute, "row_decode", derr.Error()

	case errors.As(err, &xerr):
		status = http.StatusInternalServerError
		if xerr.Retryable {
			status = http.StatusServiceUnavailable
		}
		return status, StageExecute, string(xerr.Kind), xerr.Error()

	default:
		return http.StatusInternalServerError, StageExecute, "internal", err.Error()
	}
}

package browse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tabuladb/tabula/pkg/exec"
	"github.com/tabuladb/tabula/pkg/httputil"
	"github.com/tabuladb/tabula/pkg/httputil/middleware"
	"github.com/tabuladb/tabula/pkg/metrics"
	"github.com/tabuladb/tabula/pkg/query"
	"github.com/tabuladb/tabula/pkg/schema"
)

const (
	defaultQueryTimeout = 30 * time.Second
	healthPingTimeout   = 2 * time.Second
)

// Config carries the server's request-handling knobs. Zero values pick up
// the builder's pagination defaults and a 30s query timeout. BaseURL
// prefixes the /api routes ("/admin" serves /admin/api/...).
type Config struct {
	BaseURL         string
	DefaultPageSize int
	MaxPageSize     int
	QueryTimeout    time.Duration
}

// Server answers the browsing API from a schema snapshot and an executor.
// It holds no per-request state: every request resolves against whatever
// snapshot the store currently publishes.
type Server struct {
	store   *schema.Store
	ex      *exec.Executor
	limits  query.Limits
	base    string
	timeout time.Duration
	logger  *zap.Logger
	router  *httputil.Router
}

func NewServer(store *schema.Store, ex *exec.Executor, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}

	s := &Server{
		store:   store,
		ex:      ex,
		limits:  query.Limits{DefaultPageSize: cfg.DefaultPageSize, MaxPageSize: cfg.MaxPageSize},
		base:    normalizeBase(cfg.BaseURL),
		timeout: cfg.QueryTimeout,
		logger:  logger,
	}

	r := httputil.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.LoggerWithOptions(&middleware.LoggerOptions{Logger: logger}),
		middleware.CORSWithOptions(nil),
	)

	r.Handle("GET /healthz", http.HandlerFunc(s.handleHealthz))

	// One catch-all per method: the route grammar lives in Resolve, not in
	// mux patterns, so a schema reload re-routes without re-registration.
	// OPTIONS is listed so preflights reach the CORS middleware.
	for _, method := range []string{
		http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions,
	} {
		r.Handle(method+" "+s.base+"/api/", http.HandlerFunc(s.handleAPI))
	}

	s.router = r
	return s
}

// normalizeBase shapes a configured prefix into "/prefix" or "".
func normalizeBase(base string) string {
	base = strings.Trim(base, "/")
	if base == "" {
		return ""
	}
	return "/" + base
}

// Handler exposes the routing tree, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start(addr string) error {
	s.logger.Info("api server listening", zap.String("addr", addr))
	return s.router.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.router.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.store.Snapshot() == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "schema not loaded")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	if err := s.ex.Source().Ping(ctx); err != nil {
		httputil.Error(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	op, status := s.serve(w, r)
	metrics.Requests.WithLabelValues(string(op), strconv.Itoa(status)).Inc()
	metrics.RequestDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
}

// serve runs one request through the pipeline: resolve the route, build
// the query, execute it, assemble the envelope. The first failing stage
// short-circuits to an error envelope naming itself.
func (s *Server) serve(w http.ResponseWriter, r *http.Request) (Op, int) {
	model := s.store.Snapshot()
	if model == nil {
		httputil.StageError(w, http.StatusServiceUnavailable,
			StageResolve, "schema_unavailable", "schema snapshot not loaded")
		return opNone, http.StatusServiceUnavailable
	}

	res, err := Resolve(model, r.Method, strings.TrimPrefix(r.URL.Path, s.base))
	if err != nil {
		return opNone, s.fail(w, r, opNone, err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	status, err := s.dispatch(ctx, w, r, model, res)
	if err != nil {
		return res.Op, s.fail(w, r, res.Op, err)
	}
	return res.Op, status
}

func (s *Server) dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, model *schema.Model, res *Resolution) (int, error) {
	// One builder per request, so the whole pipeline reads one snapshot.
	b := query.NewBuilder(model, s.limits)

	switch res.Op {
	case OpListTables:
		httputil.JSON(w, http.StatusOK, model.Groups())
		return http.StatusOK, nil
	case OpDescribeTable:
		httputil.JSON(w, http.StatusOK, res.Table)
		return http.StatusOK, nil
	case OpListRecords:
		return s.listRecords(ctx, w, r, b, res)
	case OpListDistinct:
		return s.listDistinct(ctx, w, r, b, res)
	case OpGetRecord:
		return s.getRecord(ctx, w, b, res)
	case OpListRelated:
		return s.listRelated(ctx, w, r, b, model, res)
	case OpInsertRecord:
		return s.insertRecord(ctx, w, r, b, res)
	case OpUpdateRecord:
		return s.updateRecord(ctx, w, r, b, res)
	case OpDeleteRecord:
		return s.deleteRecord(ctx, w, b, res)
	default:
		return 0, fmt.Errorf("unhandled operation %q", res.Op)
	}
}

func (s *Server) listRecords(ctx context.Context, w http.ResponseWriter, r *http.Request, b *query.Builder, res *Resolution) (int, error) {
	p, err := query.ParseParams(r.URL.Query())
	if err != nil {
		return 0, err
	}
	sel, err := b.List(res.Table, p)
	if err != nil {
		return 0, err
	}
	records, total, err := s.ex.QueryWithTotal(ctx, res.Table, sel)
	if err != nil {
		return 0, err
	}
	page, size := b.Window(p)
	httputil.JSON(w, http.StatusOK, listEnvelope(records, page, size, total))
	return http.StatusOK, nil
}

func (s *Server) listDistinct(ctx context.Context, w http.ResponseWriter, r *http.Request, b *query.Builder, res *Resolution) (int, error) {
	p, err := query.ParseParams(r.URL.Query())
	if err != nil {
		return 0, err
	}
	sel, err := b.Distinct(res.Table, res.Column, p)
	if err != nil {
		return 0, err
	}
	records, total, err := s.ex.QueryWithTotal(ctx, res.Table, sel)
	if err != nil {
		return 0, err
	}
	page, size := b.Window(p)
	httputil.JSON(w, http.StatusOK, listEnvelope(records, page, size, total))
	return http.StatusOK, nil
}

func (s *Server) getRecord(ctx context.Context, w http.ResponseWriter, b *query.Builder, res *Resolution) (int, error) {
	sel := b.Get(res.Table, res.ID)
	records, err := s.ex.Query(ctx, res.Table, sel)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, &NotFoundError{Table: res.Table.QualifiedName(), ID: res.RawID}
	}
	httputil.JSON(w, http.StatusOK, recordEnvelope(records[0], res.Table.Relations))
	return http.StatusOK, nil
}

func (s *Server) listRelated(ctx context.Context, w http.ResponseWriter, r *http.Request, b *query.Builder, model *schema.Model, res *Resolution) (int, error) {
	p, err := query.ParseParams(r.URL.Query())
	if err != nil {
		return 0, err
	}
	sel, err := b.Related(res.Table, res.Relation, res.ID, p)
	if err != nil {
		return 0, err
	}
	// Rows are rows of the relation's target, so they decode against it.
	target, ok := model.Table(res.Relation.Table)
	if !ok {
		return 0, fmt.Errorf("relation target %s missing from snapshot", res.Relation.Table)
	}
	records, total, err := s.ex.QueryWithTotal(ctx, target, sel)
	if err != nil {
		return 0, err
	}
	page, size := b.Window(p)
	httputil.JSON(w, http.StatusOK, listEnvelope(records, page, size, total))
	return http.StatusOK, nil
}

func (s *Server) insertRecord(ctx context.Context, w http.ResponseWriter, r *http.Request, b *query.Builder, res *Resolution) (int, error) {
	body, err := decodeBody(r)
	if err != nil {
		return 0, err
	}
	ins, err := b.Insert(res.Table, body)
	if err != nil {
		return 0, err
	}
	rec, err := s.ex.Insert(ctx, res.Table, ins)
	if err != nil {
		return 0, err
	}
	httputil.JSON(w, http.StatusCreated, recordEnvelope(rec, nil))
	return http.StatusCreated, nil
}

func (s *Server) updateRecord(ctx context.Context, w http.ResponseWriter, r *http.Request, b *query.Builder, res *Resolution) (int, error) {
	body, err := decodeBody(r)
	if err != nil {
		return 0, err
	}
	upd, err := b.Update(res.Table, res.ID, body)
	if err != nil {
		return 0, err
	}
	rec, found, err := s.ex.Update(ctx, res.Table, upd)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &NotFoundError{Table: res.Table.QualifiedName(), ID: res.RawID}
	}
	httputil.JSON(w, http.StatusOK, recordEnvelope(rec, nil))
	return http.StatusOK, nil
}

func (s *Server) deleteRecord(ctx context.Context, w http.ResponseWriter, b *query.Builder, res *Resolution) (int, error) {
	del := b.Delete(res.Table, res.ID)
	rec, found, err := s.ex.Delete(ctx, res.Table, del)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &NotFoundError{Table: res.Table.QualifiedName(), ID: res.RawID}
	}
	httputil.JSON(w, http.StatusOK, recordEnvelope(rec, nil))
	return http.StatusOK, nil
}

// fail writes the error envelope for err and records it. Client errors log
// at debug; the access log already carries the status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op Op, err error) int {
	status, stage, kind, message := statusFor(err)

	var xerr *exec.Error
	if errors.As(err, &xerr) {
		metrics.QueryErrors.WithLabelValues(string(xerr.Kind)).Inc()
	}

	logger := middleware.Logger(r.Context())
	if logger == nil {
		logger = s.logger
	}
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.String("stage", stage),
		zap.String("kind", kind),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}

	httputil.StageError(w, status, stage, kind, message)
	return status
}

// decodeBody reads the request body as a flat JSON object. A missing body
// decodes as an empty object; what an empty object means is the builder's
// call (insert: a row of defaults, update: ErrEmptyBody).
func decodeBody(r *http.Request) (map[string]json.RawMessage, error) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, &bodyError{err: err}
	}
	return body, nil
}

// Package metrics holds the Prometheus collectors the API server feeds and
// the standalone scrape endpoint they are served from.
package metrics

import (
	"cmp"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_requests_total",
			Help: "Total number of API requests by operation and status code",
		},
		[]string{"operation", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabula_request_duration_seconds",
			Help:    "API request latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabula_query_errors_total",
			Help: "Total number of failed database operations by error kind",
		},
		[]string{"kind"},
	)

	SchemaTables = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tabula_schema_tables",
			Help: "Number of tables in the active schema snapshot by group",
		},
		[]string{"group"},
	)
)

type ServerOpts struct {
	Addr              string
	Path              string        // defaults to "/metrics"
	ShutdownTimeout   time.Duration // defaults to 5 seconds
	ReadHeaderTimeout time.Duration // defaults to 3 seconds
}

func defaultServerOpts() ServerOpts {
	return ServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartServer serves the scrape endpoint on its own listener, apart from the
// API server. It shuts down gracefully when ctx is canceled and releases the
// wait group once the listener has closed.
func StartServer(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, opts *ServerOpts) {
	if logger == nil {
		logger = zap.NewNop()
	}

	effective := defaultServerOpts()
	if opts != nil {
		effective.Addr = cmp.Or(opts.Addr, effective.Addr)
		effective.Path = cmp.Or(opts.Path, effective.Path)
		effective.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effective.ShutdownTimeout)
		effective.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effective.ReadHeaderTimeout)
	}

	mux := http.NewServeMux()
	mux.Handle(effective.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effective.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effective.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("metrics server listening", zap.String("addr", effective.Addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), effective.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("metrics server stopped")
		case <-shutdownCtx.Done():
			logger.Warn("metrics server shutdown timed out")
		}
	}()
}

package tabula

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tabuladb/tabula/pkg/browse"
	"github.com/tabuladb/tabula/pkg/exec"
	"github.com/tabuladb/tabula/pkg/metrics"
	"github.com/tabuladb/tabula/pkg/schema"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Starts the HTTP server that exposes the configured database as a browsing API`,
	Run:   runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("serve.db.url", "d", "", "database connection string (postgres://... or a SQLite path)")
	f.StringP("serve.listenAddr", "l", "", "API server listen address")
	f.String("serve.baseURL", "", "path prefix in front of /api")
	f.String("serve.metricsAddr", "", "Prometheus listen address (empty disables metrics)")
	f.Int("serve.pagination.defaultPageSize", 0, "records per page when page_size is absent")
	f.Int("serve.pagination.maxPageSize", 0, "upper bound for page_size")

	viper.BindPFlags(f)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	logger := newLogger(logLevel)
	defer logger.Sync()

	if cfg == nil {
		logger.Fatal("configuration not loaded")
	}

	// Flag overrides
	serveCfg := cfg.Serve
	if addr := viper.GetString("serve.listenAddr"); addr != "" {
		serveCfg.ListenAddr = addr
	}
	if url := viper.GetString("serve.db.url"); url != "" {
		serveCfg.DB.URL = url
	}
	if base := viper.GetString("serve.baseURL"); base != "" {
		serveCfg.BaseURL = base
	}
	if addr := viper.GetString("serve.metricsAddr"); addr != "" {
		serveCfg.MetricsAddr = addr
	}
	if n := viper.GetInt("serve.pagination.defaultPageSize"); n > 0 {
		serveCfg.Pagination.DefaultPageSize = n
	}
	if n := viper.GetInt("serve.pagination.maxPageSize"); n > 0 {
		serveCfg.Pagination.MaxPageSize = n
	}
	if serveCfg.DB.URL == "" {
		logger.Fatal("database connection string required (serve.db.url)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := exec.NewManager()
	defer manager.Close()
	src, err := manager.Add(ctx, "default", serveCfg.DB.URL, exec.Options{MaxConns: serveCfg.DB.MaxConns})
	if err != nil {
		logger.Fatal("open source", zap.Error(err))
	}

	store, err := schema.New(schema.DetectDriver(serveCfg.DB.URL), serveCfg.DB.URL, logger)
	if err != nil {
		logger.Fatal("create schema store", zap.Error(err))
	}
	defer store.Close()

	// The database may still be coming up alongside us; retry the initial
	// introspection with backoff before giving up.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	err = backoff.Retry(func() error {
		if err := store.Init(ctx); err != nil {
			logger.Warn("schema load failed, retrying", zap.Error(err))
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		logger.Fatal("initial schema load", zap.Error(err))
	}

	// Keep the table gauge current across snapshot reloads.
	updateSchemaGauge(store.Snapshot())
	go func() {
		for m := range store.Watch() {
			updateSchemaGauge(m)
		}
	}()

	var wg sync.WaitGroup
	if serveCfg.MetricsAddr != "" {
		metrics.StartServer(ctx, &wg, logger, &metrics.ServerOpts{Addr: serveCfg.MetricsAddr})
	}

	server := browse.NewServer(store, exec.NewExecutor(src, logger, serveCfg.DB.AcquireTimeout), browse.Config{
		BaseURL:         serveCfg.BaseURL,
		DefaultPageSize: serveCfg.Pagination.DefaultPageSize,
		MaxPageSize:     serveCfg.Pagination.MaxPageSize,
		QueryTimeout:    serveCfg.QueryTimeout,
	}, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(serveCfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	wg.Wait()
	logger.Info("stopped")
}

func updateSchemaGauge(m *schema.Model) {
	if m == nil {
		return
	}
	metrics.SchemaTables.Reset()
	for _, g := range m.Groups() {
		metrics.SchemaTables.WithLabelValues(g.Name).Set(float64(len(g.Tables)))
	}
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

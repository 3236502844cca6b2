// Package server wires handlers, middleware and routes, and runs the HTTP
// listener with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/coderunner/internal/config"
	"github.com/sakif/coderunner/internal/executor"
	"github.com/sakif/coderunner/internal/handler"
	"github.com/sakif/coderunner/internal/metrics"
	"github.com/sakif/coderunner/internal/middleware"
	sqliteRepo "github.com/sakif/coderunner/internal/repository/sqlite"
	"github.com/sakif/coderunner/internal/service"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the history database. It does not own the executor; the
// caller closes it after Start returns.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	exec    executor.Executor
	metrics *metrics.Metrics
	db      *sqliteRepo.DB // nil when history is disabled
	history *service.HistoryService
}

// New creates a Server. When storage.db_path is set, every execution is
// recorded and the history routes are mounted.
func New(cfg *config.Config, logger *slog.Logger, exec executor.Executor, m *metrics.Metrics) (*Server, error) {
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		exec:    exec,
		metrics: m,
	}

	if path := cfg.Storage.DBPath; path != "" {
		db, err := openDB(path)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.history = service.NewHistoryService(db, logger)
		s.exec = service.NewRecordingExecutor(exec, s.history)
	}

	s.setupRoutes()
	return s, nil
}

func openDB(path string) (*sqliteRepo.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	db, err := sqliteRepo.New(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// setupRoutes configures all middleware and route handlers.
//
// GET  /health                → liveness
// POST /execute               → run JSON-submitted code
// POST /execute/file          → run an uploaded file
// GET  /api/executions        → list history (when enabled)
// GET  /api/executions/{id}   → one execution (when enabled)
// GET  /metrics               → Prometheus exposition
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/health", handler.HandleHealth)

	executeHandler := handler.NewExecuteHandler(s.exec, s.logger)
	s.router.Post("/execute", executeHandler.HandleExecute)
	s.router.Post("/execute/file", executeHandler.HandleExecuteFile)

	if s.history != nil {
		historyHandler := handler.NewHistoryHandler(s.history, s.logger)
		s.router.Route("/api", func(r chi.Router) {
			r.Get("/executions", historyHandler.HandleList)
			r.Get("/executions/{id}", historyHandler.HandleGetByID)
		})
	}

	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "coderunner")
}

// Close releases the history database.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Start serves HTTP until SIGINT/SIGTERM, then drains in-flight requests.
// Executions can run for minutes, so there is no write timeout.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("database", s.config.Storage.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Package api serves the build's status surface: liveness, Prometheus
// metrics, and a JSON progress snapshot for long-running builds.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinformatics/rxmeta/internal/api/middleware"
	"github.com/clinformatics/rxmeta/internal/observability/metrics"
	"github.com/clinformatics/rxmeta/internal/pipeline"
)

// Server is the status HTTP server. It observes a running build through its
// Progress and never mutates pipeline state.
type Server struct {
	progress *pipeline.Progress
	logger   *zap.Logger
	http     *http.Server
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, progress *pipeline.Progress, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{progress: progress, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/progress", s.handleProgress)
	r.Handle("/metrics", metrics.Handler())

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("status server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.progress.Snapshot()); err != nil {
		s.logger.Error("encode progress snapshot", zap.Error(err))
	}
}

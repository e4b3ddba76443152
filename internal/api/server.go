// Package api serves the read side over HTTP: visit history, latest visit,
// per-pet history, engine status, health, and Prometheus metrics. It reads
// only through the history query and published snapshots, never from engine
// internals.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mascotas.dev/petwatch/internal/engine"
	"mascotas.dev/petwatch/internal/history"
	"mascotas.dev/petwatch/internal/track"
	"mascotas.dev/petwatch/pkg/metrics"
)

// Server is the read-side HTTP server.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	query      *history.Query
	scheduler  *engine.Scheduler
	metrics    *metrics.APIMetrics
	config     *ServerConfig
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Query serves the visit history endpoints.
	Query *history.Query
	// Scheduler provides the status snapshot; optional when the API runs
	// without an ingestion loop in the same process.
	Scheduler *engine.Scheduler
	// Metrics is the optional Prometheus collector.
	Metrics *metrics.APIMetrics

	// Entities is the registry used to merge per-entity history for the
	// cross-entity listing.
	Entities []track.Entity

	// HTTPPort is the listen port.
	HTTPPort int
}

// NewServer creates a new read-side Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Query == nil {
		return nil, errors.New("history query cannot be nil")
	}
	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	return &Server{
		logger:    cfg.Logger,
		query:     cfg.Query,
		scheduler: cfg.Scheduler,
		metrics:   cfg.Metrics,
		config:    cfg,
	}, nil
}

// Router builds the chi router with all read endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/visits", s.handleVisits)
		r.Get("/visits/latest", s.handleLatestVisit)
		r.Get("/pets/{id}/visits", s.handleEntityVisits)
		r.Get("/status", s.handleStatus)
	})

	return r
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

// instrument records request metrics when a collector is configured.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		path := r.URL.Path
		s.metrics.HTTPRequestsInFlight.WithLabelValues(r.Method, path).Inc()
		defer s.metrics.HTTPRequestsInFlight.WithLabelValues(r.Method, path).Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
	})
}

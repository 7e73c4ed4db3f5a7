// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/verifier/internal/config"
	"github.com/pendergraft/verifier/internal/middleware/ratelimit"
	"github.com/pendergraft/verifier/internal/observability/metrics"
	"github.com/pendergraft/verifier/internal/storage"
	verificationDomain "github.com/pendergraft/verifier/internal/verification/domain"
	verificationTransport "github.com/pendergraft/verifier/internal/verification/transport"
)

// Server is the HTTP server
type Server struct {
	cfg      *config.Config
	store    storage.Store
	logger   *slog.Logger
	router   *chi.Mux
	limiters []*ratelimit.RateLimiter

	// Services typed via transport interfaces
	verificationSvc verificationTransport.Service
}

// New creates a new server
func New(cfg *config.Config, store storage.Store, compiler verificationDomain.Compiler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
		router: chi.NewRouter(),
	}

	verifyImpl := verificationDomain.NewService(compiler, store, store, cfg.Verifier.PersistMatches, logger)
	s.verificationSvc = verificationDomain.LoggingMiddleware(logger)(verifyImpl)

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics HTTP handler for separate metrics server
func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler()
}

// Close stops background work started by the server's middleware.
func (s *Server) Close() {
	for _, rl := range s.limiters {
		rl.Stop()
	}
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	if metrics.Enabled() {
		s.router.Handle("/metrics", s.MetricsHandler())
	}

	verificationHandler := verificationTransport.NewHandler(s.verificationSvc)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requestTimeout())
			verificationHandler.RegisterReadRoutes(r)
		})

		// Compiling and searching are expensive, so they get their own limit
		r.Group(func(r chi.Router) {
			r.Use(s.verifyLimit())
			verificationHandler.RegisterWriteRoutes(r)
		})
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the store is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

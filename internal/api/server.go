// Package api exposes the HTTP surface: sync control, visibility-scoped
// reads over the projection views, and projection administration.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
	"github.com/revpipe/revpipe/internal/projection"
	"github.com/revpipe/revpipe/internal/query"
	syncsvc "github.com/revpipe/revpipe/internal/sync"
)

// Server is the API server.
type Server struct {
	handlers *Handlers
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
}

// NewServer creates the API server over the query service, sync service and
// projection engine.
func NewServer(q *query.Service, sync *syncsvc.Service, jobs domain.SyncJobRepository, engine *projection.Engine, health *HealthChecker, log zerolog.Logger) *Server {
	handlers := NewHandlers(q, sync, jobs, engine, health, log)
	return &Server{
		handlers: handlers,
		router:   SetupRoutes(handlers, log),
		log:      log.With().Str("component", "api").Logger(),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("api listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

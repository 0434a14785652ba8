// Package api serves the read-only operational HTTP endpoint: health, lane
// counters and a live stream of processed-element notices.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/graphproc/internal/auth"
	"github.com/mattjoyce/graphproc/internal/dispatch"
	"github.com/mattjoyce/graphproc/internal/events"
	"github.com/mattjoyce/graphproc/internal/lane"
)

// QueueDepther reports how many events wait on a stage.
type QueueDepther interface {
	Depth(ctx context.Context, stage string) (int, error)
}

// LaneStatser reports worker lane counters.
type LaneStatser interface {
	Stats() []lane.Stats
}

// DispatchStatser reports dispatcher counters.
type DispatchStatser interface {
	Stats() dispatch.Stats
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Stage is the queue stage reported by /healthz.
	Stage string
	// Token, when set, is required as a bearer token on every route but /healthz.
	Token string
}

// Server represents the ops HTTP server
type Server struct {
	config     Config
	queue      QueueDepther
	lanes      LaneStatser
	dispatcher DispatchStatser
	hub        *events.Hub
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance. hub may be nil, which disables /events.
func New(config Config, queue QueueDepther, lanes LaneStatser, dispatcher DispatchStatser, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		queue:      queue,
		lanes:      lanes,
		dispatcher: dispatcher,
		hub:        hub,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("ops server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("ops server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.config.Token, s.writeError))
		r.Get("/lanes", s.handleLanes)
		if s.hub != nil {
			r.Get("/events", s.handleEvents)
		}
	})
	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

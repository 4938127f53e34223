// Package gateway serves the movie assistant over HTTP.
//
// The gateway owns request validation, per-client rate limiting, the worker
// pool that bounds concurrent conversation turns, and the per-session lock
// that keeps turns on one session strictly ordered. Conversation state lives
// in a sessions.Store; the gateway commits a turn only after the loop
// finishes it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/cinebot/internal/agent"
	"github.com/haasonsaas/cinebot/internal/config"
	"github.com/haasonsaas/cinebot/internal/observability"
	"github.com/haasonsaas/cinebot/internal/ratelimit"
	"github.com/haasonsaas/cinebot/internal/sessions"
)

// Version is reported by the health endpoints.
var Version = "1.0.0"

// Deps are the collaborators a Server needs.
type Deps struct {
	Loop   *agent.Loop
	Store  sessions.Store
	Locker sessions.Locker

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP API.
type Server struct {
	config   *config.Config
	loop     *agent.Loop
	registry *agent.ToolRegistry
	store    sessions.Store
	locker   sessions.Locker
	pool     *WorkerPool
	limiters map[string]*ratelimit.Limiter

	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	gatherer prometheus.Gatherer

	now     func() time.Time
	handler http.Handler

	httpServer *http.Server
}

// NewServer wires the routes and middleware.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Loop == nil {
		return nil, errors.New("conversation loop is required")
	}
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Locker == nil {
		deps.Locker = sessions.NewLocalLocker(cfg.Session.LockTimeout)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:   cfg,
		loop:     deps.Loop,
		registry: deps.Loop.Registry(),
		store:    deps.Store,
		locker:   deps.Locker,
		pool:     NewWorkerPool(cfg.Server.Workers),
		limiters: make(map[string]*ratelimit.Limiter),
		logger:   deps.Logger.With("component", "gateway"),
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		gatherer: deps.Gatherer,
		now:      time.Now,
	}
	if cfg.RateLimits.IsEnabled() {
		for route, policy := range cfg.RateLimits.Routes {
			s.limiters[route] = ratelimit.NewLimiter(policy)
		}
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /{$}", config.RouteHealth, s.handleRoot)
	s.handle(mux, "GET /health", config.RouteHealth, s.handleHealth)
	s.handle(mux, "POST /chat", config.RouteChat, s.handleChat)

	s.handle(mux, "GET /sessions", config.RouteSessionsList, s.handleListSessions)
	s.handle(mux, "DELETE /sessions", config.RouteSessionsClear, s.handleClearSessions)
	s.handle(mux, "GET /sessions/{session_id}/messages", config.RouteSessionMessages, s.handleSessionMessages)
	s.handle(mux, "DELETE /sessions/{session_id}", config.RouteSessionDelete, s.handleDeleteSession)
	s.handle(mux, "POST /sessions/{session_id}/reset", config.RouteSessionReset, s.handleResetSession)

	s.handle(mux, "GET /movies/search/{query}", config.RouteSearch, s.handleSearch)
	for path, listType := range movieListPaths {
		s.handle(mux, "GET /movies/"+path, config.RouteMovieLists, s.handleMovieList(listType))
	}
	s.handle(mux, "GET /movies/discover", config.RouteDiscover, s.handleDiscover)
	s.handle(mux, "GET /movies/trending/{time_window}", config.RouteTrending, s.handleTrending)
	// details, watch-providers and recommendations share one pattern because
	// "/movies/{id}/details" would overlap "/movies/search/{query}".
	s.handle(mux, "GET /movies/{movie_id}/{view}", "", s.handleMovieView)

	s.handle(mux, "GET /config", config.RouteConfig, s.handleConfig)
	s.handle(mux, "GET /rate-limits", config.RouteRateLimits, s.handleRateLimits)
	s.handle(mux, "GET /capabilities", config.RouteCapabilities, s.handleCapabilities)

	if s.config.Observability.Metrics.IsEnabled() {
		path := s.config.Observability.Metrics.Path
		mux.Handle("GET "+path, s.instrument(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	var handler http.Handler = jsonFallback(mux)
	handler = s.withCORS(handler)
	handler = securityHeaders(handler)
	handler = s.withRequestID(handler)
	handler = s.recoverPanics(handler)
	return handler
}

// handle registers h under pattern behind instrumentation and, when route
// is non-empty, that route's rate limit.
func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc) {
	var handler http.Handler = h
	if route != "" {
		handler = s.rateLimit(route, handler)
	}
	mux.Handle(pattern, s.instrument(pattern, handler))
}

// Start listens on the configured address and serves until ctx is done or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(listener)
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests and waits for in-flight turns.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down http server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}

// PruneLimiters drops idle rate-limit buckets. It returns the number removed.
func (s *Server) PruneLimiters() int {
	removed := 0
	for _, limiter := range s.limiters {
		removed += limiter.Prune()
	}
	return removed
}

// refreshSessionGauge publishes the current session count.
func (s *Server) refreshSessionGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return
	}
	s.metrics.SetActiveSessions(stats.Sessions)
}

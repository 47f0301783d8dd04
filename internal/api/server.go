// Package api serves the HTTP status and control surface of the quote
// service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	handler "github.com/newthinker/quoted/internal/api/handler/api"
	"github.com/newthinker/quoted/internal/api/job"
	"github.com/newthinker/quoted/internal/api/middleware"
	"github.com/newthinker/quoted/internal/api/response"
	"github.com/newthinker/quoted/internal/app"
	"github.com/newthinker/quoted/internal/metrics"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
}

// Config holds server configuration
type Config struct {
	Host   string
	Port   int
	APIKey string
	// MetricsPath is where prometheus scrapes; empty disables it.
	MetricsPath  string
	FetchTimeout time.Duration
}

// Dependencies are the components the routes are served from.
type Dependencies struct {
	App     *app.App
	Metrics *metrics.Registry
	Jobs    *job.Store
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.App == nil {
		return nil, fmt.Errorf("app is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Jobs == nil {
		deps.Jobs = job.NewStore(100, time.Hour)
	}

	mux := http.NewServeMux()
	s := &Server{
		logger: logger,
		mux:    mux,
	}
	s.setupRoutes(cfg, deps)

	var h http.Handler = mux
	h = metrics.HTTPMiddleware(deps.Metrics)(h)
	h = metrics.LoggingMiddleware(logger)(h)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.fetchTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (c Config) fetchTimeout() time.Duration {
	if c.FetchTimeout > 0 {
		return c.FetchTimeout
	}
	return handler.DefaultFetchTimeout
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(cfg Config, deps Dependencies) {
	auth := middleware.APIKeyAuth(cfg.APIKey)
	protect := func(pattern string, fn http.HandlerFunc) {
		s.mux.Handle(pattern, auth(fn))
	}

	fetch := handler.NewFetchHandler(deps.App, deps.Jobs, cfg.fetchTimeout(), s.logger.Named("fetch"))
	hist := handler.NewHistoryHandler(deps.App, cfg.fetchTimeout())
	set := handler.NewSettingsHandler(deps.App)
	watch := handler.NewWatchlistHandler(deps.App)

	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	protect("GET /api/status", fetch.Status)
	protect("POST /api/fetch", fetch.Create)
	protect("DELETE /api/fetch", fetch.Cancel)
	protect("GET /api/fetch/{id}", fetch.Get)

	protect("GET /api/history/{symbol}", hist.Get)
	protect("POST /api/history/{symbol}/update", hist.Update)

	protect("GET /api/settings", set.List)
	protect("GET /api/settings/{provider}", set.Get)
	protect("PUT /api/settings/{provider}", set.Update)

	protect("GET /api/watchlist", watch.List)
	protect("POST /api/watchlist", watch.Add)
	protect("DELETE /api/watchlist/{symbol}", watch.Remove)

	if cfg.MetricsPath != "" && deps.Metrics != nil {
		s.mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

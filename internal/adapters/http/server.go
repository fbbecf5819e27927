// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/jobrunner/cuenca/internal/application"
	"github.com/jobrunner/cuenca/internal/config"
	"github.com/jobrunner/cuenca/internal/ports/input"
)

// Warmer triggers a cache warmup on request.
type Warmer interface {
	TriggerWarmup(ctx context.Context) (application.WarmupResult, error)
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server   *http.Server
	router   *mux.Router
	index    input.IndexService
	sessions input.SessionManager
	health   input.HealthChecker
	warmup   Warmer
	logger   *slog.Logger
	config   config.ServerConfig
}

// NewServer creates a new HTTP server. warmup may be nil.
func NewServer(
	cfg config.ServerConfig,
	index input.IndexService,
	sessions input.SessionManager,
	health input.HealthChecker,
	warmup Warmer,
	logger *slog.Logger,
) *Server {
	s := &Server{
		index:    index,
		sessions: sessions,
		health:   health,
		warmup:   warmup,
		logger:   logger,
		config:   cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(handlers.CompressHandler)

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/indices", s.handleListIndices).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/composite", s.handleComposite).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/series", s.handleSeries).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/series.csv", s.handleSeriesCSV).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/series.png", s.handleSeriesPNG).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/compare", s.handleCompare).Methods(http.MethodGet)
	api.HandleFunc("/indices/{index}/analysis", s.handleAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/study-area", s.handleStudyArea).Methods(http.MethodGet)

	// Warmup endpoint (only if warmup service is configured)
	if s.warmup != nil {
		api.HandleFunc("/warmup", s.handleWarmup).Methods(http.MethodPost)
	}

	// OpenAPI spec and Swagger UI
	api.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/api/docs", s.handleSwaggerUI).Methods(http.MethodGet)

	// Dashboard (if enabled)
	if s.config.FrontendEnabled {
		r.HandleFunc("/", s.handleFrontend).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Use adds middleware to the router. Route templates are known when it runs.
func (s *Server) Use(mw ...mux.MiddlewareFunc) {
	s.router.Use(mw...)
}

// Handle mounts an additional handler, e.g. the metrics endpoint.
func (s *Server) Handle(path string, h http.Handler) {
	s.router.Handle(path, h).Methods(http.MethodGet)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware writes one access log line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		level := slog.LevelInfo
		if m.Code >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration_ms", m.Duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware turns a panicking handler into a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "error", rec, "path", r.URL.Path)
				s.writeError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

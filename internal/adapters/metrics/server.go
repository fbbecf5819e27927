package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server exposes the metrics endpoint on a dedicated port.
type Server struct {
	server *http.Server
	path   string
	logger *slog.Logger
}

// NewServer creates a metrics server listening on port and serving path.
func NewServer(port int, path string, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, Handler())

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		path:   path,
		logger: logger,
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves metrics until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting metrics server", "address", s.server.Addr, "path", s.path)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

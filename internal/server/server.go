package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server wires the middleware chain and mounts the gateway pipeline.
type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
}

// New builds the chi router with the standard middleware order:
// request ID, logging, timeout, panic recovery, then the otel wrapper.
func New(port int, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(60 * time.Second))
	r.Use(middleware.Recoverer)

	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "baraka-gateway")
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

// MountPipeline attaches the gateway pipeline for every method under
// the versioned API prefix.
func (s *Server) MountPipeline(h http.Handler) {
	s.Router.Handle("/api/v1/*", h)
	s.Router.Handle("/api/v2/*", h)
}

// HTTPServer returns the configured http.Server for this gateway.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Start runs the server in the foreground.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return s.HTTPServer().ListenAndServe()
}

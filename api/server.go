// Package api exposes maestro over HTTP.
//
// Endpoints:
//
//	POST /api/chat                  one user turn through the pipeline
//	POST /api/connections/initiate  start an app connection handshake
//	POST /api/connections/callback  complete an app connection handshake
//	POST /api/tools/ingest          (admin) ingest an app's tools into the vector catalog
//	POST /api/tools/search          (admin) cosine search over an app's tools
//	GET  /api/sessions/{id}/messages  stored history of a session's current conversation
//	GET  /health                    liveness probe
//	GET  /ready                     readiness probe (store + cache)
//
// File structure follows the usual split: server.go (setup and lifecycle),
// middleware.go, response.go (JSON helpers), one file per endpoint group.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because a tool-tier turn can run minutes.
	WriteTimeout = 6 * time.Minute

	// IdleTimeout applies to keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// ServerConfig contains the handler dependencies.
type ServerConfig struct {
	Logger      *slog.Logger
	Chat        ChatService
	Connections ConnectionService
	Catalog     CatalogService
	Sessions    SessionService
	Health      HealthChecker
}

// Server is the HTTP server for maestro's REST API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, logger: logger}

	NewChatHandler(cfg.Chat, logger).RegisterRoutes(mux)
	NewConnectionHandler(cfg.Connections, logger).RegisterRoutes(mux)
	NewCatalogHandler(cfg.Catalog, logger).RegisterRoutes(mux)
	NewSessionHandler(cfg.Sessions, logger).RegisterRoutes(mux)
	NewHealthHandler(cfg.Health).RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("HTTP server ready", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

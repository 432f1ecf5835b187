// Package httpserver exposes the relay daemon's operational HTTP surface:
// a health check and a status snapshot.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-bashkir/tabguard/internal/config"
	"github.com/al-bashkir/tabguard/internal/relay"
)

// StatsProvider supplies the relay activity snapshot for /status.
type StatsProvider interface {
	Stats() relay.Stats
}

// Server is the HTTP server for health checks and relay status
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	mux        *http.ServeMux
	stats      StatsProvider
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, stats StatsProvider) *Server {
	s := &Server{
		cfg:   cfg,
		mux:   http.NewServeMux(),
		stats: stats,
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)

	// Wrap with middleware
	handler := loggingMiddleware(s.mux)
	handler = recoveryMiddleware(handler)
	handler = rateLimitMiddleware(handler)
	handler = securityHeadersMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Listen.HTTP,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server", "addr", s.cfg.Listen.HTTP)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

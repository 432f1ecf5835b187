// Package daemon orchestrates the relay broker and its HTTP status server.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/al-bashkir/tabguard/internal/config"
	"github.com/al-bashkir/tabguard/internal/httpserver"
	"github.com/al-bashkir/tabguard/internal/relay"
	"golang.org/x/time/rate"
)

// Daemon represents the relay daemon process.
type Daemon struct {
	cfg         *config.Config
	relayServer *relay.Server
	httpServer  *httpserver.Server
}

// New creates a daemon with all components initialized.
func New(cfg *config.Config) *Daemon {
	relayServer := relay.NewServer(
		cfg.Listen.Socket,
		rate.Limit(cfg.Relay.PublishRate),
		cfg.Relay.PublishBurst,
	)

	slog.Info("relay initialized",
		"socket", cfg.Listen.Socket,
		"publish_rate", cfg.Relay.PublishRate,
		"publish_burst", cfg.Relay.PublishBurst,
	)

	httpServer := httpserver.NewServer(cfg, relayServer)

	slog.Info("HTTP server initialized",
		"listen", cfg.Listen.HTTP,
	)

	return &Daemon{
		cfg:         cfg,
		relayServer: relayServer,
		httpServer:  httpServer,
	}
}

// Run starts all daemon components and blocks until a shutdown signal is
// received.
func (d *Daemon) Run() error {
	slog.Info("starting tabguard relay daemon")

	// Start the relay synchronously to catch startup errors
	ctx := context.Background()
	if err := d.relayServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	// Start HTTP server in a goroutine (it blocks on ListenAndServe)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil && err.Error() != "http: Server closed" {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	// Wait for shutdown signal or startup error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed to start", "error", err)
			if stopErr := d.relayServer.Stop(); stopErr != nil {
				slog.Error("error stopping relay after HTTP server startup failure", "error", stopErr)
			}
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	// Shutdown gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.relayServer.Stop(); err != nil {
		slog.Error("error stopping relay", "error", err)
	}

	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
	}

	slog.Info("daemon shutdown complete")
	return nil
}

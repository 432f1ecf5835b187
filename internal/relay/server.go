// Package relay implements the announcement broker for tabs that run as
// separate processes on one machine. Each tab holds a connection to the
// relay's Unix socket; every announcement frame a tab sends is fanned out
// to every other connected tab. The relay keeps no state about sessions and
// makes no delivery guarantees: it is one of two redundant transports, and
// receivers re-validate everything against their own local state.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/al-bashkir/tabguard/internal/logsanitize"
	"github.com/al-bashkir/tabguard/internal/transport"
)

// sendTimeout bounds how long a fan-out write may block on one slow client
// before that client is dropped.
const sendTimeout = 5 * time.Second

// Server is the relay broker listening on a Unix socket.
type Server struct {
	socketPath   string
	publishRate  rate.Limit
	publishBurst int

	mu       sync.Mutex
	listener net.Listener
	clients  map[*client]struct{}

	wg       sync.WaitGroup
	stopChan chan struct{}

	relayed atomic.Int64
}

// Stats is a snapshot of relay activity for the status endpoint.
type Stats struct {
	Clients       int   `json:"clients"`
	FramesRelayed int64 `json:"frames_relayed"`
}

// client is one connected tab.
type client struct {
	conn    net.Conn
	mu      sync.Mutex // guards enc
	enc     *json.Encoder
	limiter *rate.Limiter
}

// NewServer creates a relay broker. Non-positive rate or burst select the
// defaults (10 frames/s, burst 20) applied per connected client.
func NewServer(socketPath string, publishRate rate.Limit, publishBurst int) *Server {
	if publishRate <= 0 {
		publishRate = 10
	}
	if publishBurst <= 0 {
		publishBurst = 20
	}
	return &Server{
		socketPath:   socketPath,
		publishRate:  publishRate,
		publishBurst: publishBurst,
		clients:      make(map[*client]struct{}),
		stopChan:     make(chan struct{}),
	}
}

// Start begins listening on the Unix socket.
func (s *Server) Start(ctx context.Context) error {
	// Ensure the directory exists.
	// Use 0755 so any local process can traverse the directory.
	// Access control is enforced at the socket level.
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove old socket if it exists
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	// 0660: the relay should run in the same group as the tab processes.
	// World access is denied so untrusted local users cannot inject forged
	// login announcements.
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("relay started", "socket", s.socketPath)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return nil
}

// acceptLoop accepts incoming tab connections.
func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				// Server is stopping, this is expected
				return
			default:
				slog.Error("failed to accept connection", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection reads announcement frames from one tab until the
// connection closes and fans each valid frame out to every other tab.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	c := &client{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		limiter: rate.NewLimiter(s.publishRate, s.publishBurst),
	}
	s.addClient(c)
	defer s.removeClient(c)

	slog.Debug("tab connected", "clients", s.clientCount())

	dec := json.NewDecoder(conn)
	for {
		var a transport.Announcement
		if err := dec.Decode(&a); err != nil {
			// Normal disconnect or malformed stream; either way this
			// connection is done.
			slog.Debug("tab connection closed", "error", err)
			return
		}

		if a.UserID == "" || a.SessionID == "" {
			slog.Debug("dropping incomplete announcement frame")
			continue
		}

		if !c.limiter.Allow() {
			slog.Warn("publish rate limit exceeded, dropping frame",
				"user_id", logsanitize.Sanitize(a.UserID),
			)
			continue
		}

		s.broadcast(c, a)
	}
}

// broadcast fans one announcement out to every client except the sender.
func (s *Server) broadcast(from *client, a transport.Announcement) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		if err := c.send(a); err != nil {
			slog.Debug("dropping unresponsive tab", "error", err)
			s.removeClient(c)
			continue
		}
		delivered++
	}

	s.relayed.Add(int64(delivered))

	slog.Debug("announcement relayed",
		"user_id", logsanitize.Sanitize(a.UserID),
		"session_id", logsanitize.Sanitize(a.SessionID),
		"delivered", delivered,
	)
}

// send writes one frame to the client with a bounded deadline.
func (c *client) send(a transport.Announcement) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return err
	}
	return c.enc.Encode(a)
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

// removeClient unregisters the client and closes its connection. Safe to
// call more than once for the same client.
func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if present {
		_ = c.conn.Close()
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stats returns a snapshot of relay activity.
func (s *Server) Stats() Stats {
	return Stats{
		Clients:       s.clientCount(),
		FramesRelayed: s.relayed.Load(),
	}
}

// Stop stops the relay gracefully: no new connections, existing
// connections closed, socket file removed.
func (s *Server) Stop() error {
	slog.Info("stopping relay")

	close(s.stopChan)

	s.mu.Lock()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			slog.Warn("failed to close listener", "error", err)
		}
	}
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.removeClient(c)
	}

	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove socket file", "error", err)
	}

	slog.Info("relay stopped")
	return nil
}

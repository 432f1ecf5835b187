package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// RelayTransport carries announcements between tab processes on one machine
// through the relay daemon's Unix socket. Publishing uses a short-lived
// connection per call; subscribing holds a long-lived connection that the
// relay fans incoming frames out to.
//
// The relay excludes only the publishing connection from fan-out, so a tab
// that both publishes and subscribes receives its own announcements back.
// That echo is safe for the same reason channel echo is: the sender's local
// session id already matches the announced one.
type RelayTransport struct {
	socketPath string
	timeout    time.Duration
}

// NewRelayTransport creates a transport speaking to the relay socket at
// socketPath.
func NewRelayTransport(socketPath string) *RelayTransport {
	return &RelayTransport{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout sets the dial and write timeout.
func (t *RelayTransport) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

// Publish sends one announcement frame to the relay and closes the
// connection. The relay not running is an error for the caller to absorb;
// it must never fail a login flow.
func (t *RelayTransport) Publish(a Announcement) error {
	conn, err := net.DialTimeout("unix", t.socketPath, t.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(a); err != nil {
		return fmt.Errorf("failed to send announcement: %w", err)
	}

	return nil
}

// Subscribe opens a long-lived relay connection and invokes fn for every
// announcement frame the relay forwards. If the relay is unreachable the
// transport degrades to nothing: that is reduced redundancy, logged once,
// not an error. The returned unsubscribe closes the connection.
func (t *RelayTransport) Subscribe(fn func(Announcement)) (unsubscribe func()) {
	conn, err := net.DialTimeout("unix", t.socketPath, t.timeout)
	if err != nil {
		slog.Warn("relay unavailable, continuing without relay transport",
			"socket", t.socketPath,
			"error", err,
		)
		return func() {}
	}

	closed := make(chan struct{})
	var once sync.Once

	go func() {
		dec := json.NewDecoder(conn)
		for {
			var a Announcement
			if err := dec.Decode(&a); err != nil {
				select {
				case <-closed:
					// Unsubscribed; the read error is expected.
				default:
					slog.Debug("relay subscription ended", "error", err)
				}
				return
			}
			if a.UserID == "" || a.SessionID == "" {
				slog.Debug("dropping incomplete relay frame")
				continue
			}
			if a.Type == "" {
				a.Type = TypeNewLogin
			}
			fn(a)
		}
	}()

	return func() {
		once.Do(func() {
			close(closed)
			_ = conn.Close()
		})
	}
}

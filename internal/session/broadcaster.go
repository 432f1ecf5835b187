package session

import (
	"log/slog"
	"sync"

	"github.com/al-bashkir/tabguard/internal/logsanitize"
	"github.com/al-bashkir/tabguard/internal/transport"
)

// Broadcaster announces fresh logins to every other tab. Broadcasting is
// fire-and-forget on every configured transport: no acknowledgment is
// awaited and no failure propagates to the login flow that triggered it.
type Broadcaster struct {
	transports []transport.Transport
	warnOnce   sync.Once
}

// NewBroadcaster creates a broadcaster publishing on the given transports.
func NewBroadcaster(transports ...transport.Transport) *Broadcaster {
	return &Broadcaster{transports: transports}
}

// BroadcastNewLogin publishes a new-login announcement for the given user
// and session. An empty user id or session id makes the call a logged
// no-op; a missing id must never crash or fail the login flow.
func (b *Broadcaster) BroadcastNewLogin(userID, sessionID string) {
	if userID == "" || sessionID == "" {
		slog.Error("cannot broadcast login: missing user id or session id",
			"user_id", logsanitize.Sanitize(userID),
			"session_id", logsanitize.Sanitize(sessionID),
		)
		return
	}

	if len(b.transports) == 0 {
		// Reduced redundancy, not an error. Logged once.
		b.warnOnce.Do(func() {
			slog.Warn("no transports configured, login broadcasts disabled")
		})
		return
	}

	a := transport.NewLoginAnnouncement(userID, sessionID)

	slog.Debug("broadcasting new login",
		"user_id", logsanitize.Sanitize(userID),
		"session_id", logsanitize.Sanitize(sessionID),
		"transports", len(b.transports),
	)

	for _, tr := range b.transports {
		if err := tr.Publish(a); err != nil {
			slog.Error("login broadcast failed on transport", "error", err)
		}
	}
}

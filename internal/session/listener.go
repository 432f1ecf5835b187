package session

import (
	"log/slog"

	"github.com/al-bashkir/tabguard/internal/logsanitize"
	"github.com/al-bashkir/tabguard/internal/transport"
)

// Listener subscribes to login announcements on every configured transport
// and arbitrates each one against this tab's own session state. The
// arbitration predicate -- same user, different session -- is idempotent:
// evaluating a duplicate delivery of the same logical event is harmless,
// and de-duplication of the resulting logout is the caller's concern.
type Listener struct {
	identity   *Identity
	transports []transport.Transport
}

// NewListener creates a listener arbitrating for the given identity.
func NewListener(identity *Identity, transports ...transport.Transport) *Listener {
	return &Listener{identity: identity, transports: transports}
}

// ListenForNewLogin installs callback to be invoked whenever a genuine
// supersession is detected: an announcement for this tab's own user
// carrying a different session id, received while this tab is
// authenticated. Everything else is silently ignored. The returned stop
// function detaches all transport subscriptions; in-flight retransmission
// timers are not cancelled and fire as no-ops.
func (l *Listener) ListenForNewLogin(callback func()) (stop func()) {
	if len(l.transports) == 0 {
		slog.Warn("no transports configured, supersession will not be detected")
	}

	unsubs := make([]func(), 0, len(l.transports))
	for _, tr := range l.transports {
		unsubs = append(unsubs, tr.Subscribe(func(a transport.Announcement) {
			l.arbitrate(a, callback)
		}))
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// arbitrate decides whether one announcement supersedes this tab's session.
// A handler that panics would silently detach in most hosting environments,
// so everything is absorbed here.
func (l *Listener) arbitrate(a transport.Announcement, callback func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in login announcement handler", "panic", r)
		}
	}()

	if !a.Valid() {
		return
	}

	if !l.identity.IsAuthenticated() {
		slog.Debug("ignoring login announcement: not authenticated")
		return
	}

	currentUserID := l.identity.CurrentUserID()
	currentSessionID := l.identity.CurrentSessionID()

	sameUser := currentUserID != "" && a.UserID != "" && currentUserID == a.UserID

	// An empty current session id deliberately counts as different: legacy
	// sessions that predate session ids are not protected from supersession.
	differentSession := currentSessionID != a.SessionID

	if sameUser && differentSession {
		slog.Info("new login detected in another tab, superseding this session",
			"user_id", logsanitize.Sanitize(a.UserID),
			"incoming_session_id", logsanitize.Sanitize(a.SessionID),
			"current_session_id", currentSessionID,
		)
		callback()
		return
	}

	slog.Debug("login announcement ignored",
		"same_user", sameUser,
		"same_session", !differentSession,
		"user_id", logsanitize.Sanitize(a.UserID),
	)
}

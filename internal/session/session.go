package session

import (
	"log/slog"

	"github.com/al-bashkir/tabguard/internal/logsanitize"
	"github.com/al-bashkir/tabguard/internal/storage"
	"github.com/al-bashkir/tabguard/internal/transport"
)

// Manager bundles a tab's identity store, broadcaster and listener over one
// storage area and one set of transports. It is the single entry point the
// application layer uses.
type Manager struct {
	identity    *Identity
	broadcaster *Broadcaster
	listener    *Listener
}

// NewManager creates a session manager for one tab.
func NewManager(store storage.Store, transports ...transport.Transport) *Manager {
	identity := NewIdentity(store)
	return &Manager{
		identity:    identity,
		broadcaster: NewBroadcaster(transports...),
		listener:    NewListener(identity, transports...),
	}
}

// Identity returns the tab's identity store.
func (m *Manager) Identity() *Identity {
	return m.identity
}

// BroadcastNewLogin announces a fresh login on every transport.
func (m *Manager) BroadcastNewLogin(userID, sessionID string) {
	m.broadcaster.BroadcastNewLogin(userID, sessionID)
}

// ListenForNewLogin installs a supersession callback; see
// Listener.ListenForNewLogin.
func (m *Manager) ListenForNewLogin(callback func()) (stop func()) {
	return m.listener.ListenForNewLogin(callback)
}

// InitializeSession mints a session id for a completed login, persists it,
// and broadcasts the new login to all other tabs. The session id is
// persisted before the broadcast so the announcing tab's own echo never
// matches the supersession predicate. Returns the minted id, or "" when
// userID is empty (logged, never an error: the login flow proceeds).
func (m *Manager) InitializeSession(userID string) string {
	if userID == "" {
		slog.Error("cannot initialize session: user id is required")
		return ""
	}

	sessionID := GenerateSessionID()
	m.identity.SetSessionID(sessionID)

	slog.Debug("session initialized",
		"user_id", logsanitize.Sanitize(userID),
		"session_id", sessionID,
	)

	m.broadcaster.BroadcastNewLogin(userID, sessionID)
	return sessionID
}

// Package guard wires the session core into an application: it repairs
// legacy sessions at startup, installs the cross-tab listener, and turns
// supersession events into an idempotent local logout with a user-facing
// notice and a navigation to the login route.
package guard

import (
	"log/slog"
	"sync"

	"github.com/al-bashkir/tabguard/internal/session"
)

// SupersededNotice is the one-time message shown when this tab's session is
// terminated because the same user signed in elsewhere.
const SupersededNotice = "You have been logged out because you signed in on another tab."

// LoginRoute is where a superseded tab navigates after local logout.
const LoginRoute = "/login"

// Guard supervises one tab's session.
type Guard struct {
	sessions *session.Manager

	// Notify presents a one-time user-facing notice. Optional.
	Notify func(message string)

	// Navigate routes the tab to the given path. Optional.
	Navigate func(route string)

	mu   sync.Mutex
	stop func()
}

// New creates a guard over a session manager. Notify and Navigate may be
// assigned before Start.
func New(sessions *session.Manager) *Guard {
	return &Guard{sessions: sessions}
}

// Start repairs an authenticated-but-sessionless state and installs the
// supersession listener. Calling Start on a started guard replaces the
// previous subscription.
//
// The repair covers tabs that logged in before session ids existed: they
// get a synthesized id persisted locally, with no broadcast. A repair is
// not a login event and must not supersede anyone else.
func (g *Guard) Start() {
	identity := g.sessions.Identity()

	if identity.IsAuthenticated() && identity.CurrentSessionID() == "" && identity.CurrentUserID() != "" {
		sessionID := session.GenerateSessionID()
		identity.SetSessionID(sessionID)
		slog.Info("assigned session id to existing session", "session_id", sessionID)
	}

	g.mu.Lock()
	if g.stop != nil {
		g.stop()
	}
	g.stop = g.sessions.ListenForNewLogin(g.handleSupersession)
	g.mu.Unlock()
}

// Stop detaches the listener. Safe to call repeatedly and before Start.
func (g *Guard) Stop() {
	g.mu.Lock()
	if g.stop != nil {
		g.stop()
		g.stop = nil
	}
	g.mu.Unlock()
}

// handleSupersession performs the local logout. The arbiter may deliver the
// same logical event once per transport, so this handler is written to be
// idempotent: it re-checks authentication under a lock and becomes a no-op
// once the session is cleared. Double invocation leaves the same final
// state as single invocation, with one notice and one navigation.
func (g *Guard) handleSupersession() {
	g.mu.Lock()
	defer g.mu.Unlock()

	identity := g.sessions.Identity()
	if !identity.IsAuthenticated() {
		slog.Debug("supersession event after logout, ignoring")
		return
	}

	identity.ClearSession()

	if g.Notify != nil {
		g.Notify(SupersededNotice)
	}
	if g.Navigate != nil {
		g.Navigate(LoginRoute)
	}
}

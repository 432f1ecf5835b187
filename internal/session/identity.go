// Package session enforces single-session-per-user across tabs.
//
// When a user completes a login in one tab, every other tab holding a
// session for the same user must detect the new login and terminate itself.
// The package splits that into three cooperating pieces: the Identity store
// (this tab's belief about who is logged in), the Broadcaster (announces a
// fresh login on every configured transport), and the Listener (arbitrates
// incoming announcements against local state and fires a termination
// callback on genuine supersession).
package session

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/al-bashkir/tabguard/internal/storage"
)

// Storage keys for a tab's session identity. These are a stable contract:
// the auth layer writes the token and user record under the same keys.
const (
	// KeySessionID holds the session token minted at login.
	KeySessionID = "sessionId"

	// KeyAuthToken holds the bearer credential. Its presence is the sole
	// signal that this tab considers itself authenticated.
	KeyAuthToken = "authToken"

	// KeyUser holds the JSON user profile record.
	KeyUser = "user"
)

// Identity is a tab's view of who is currently logged in. All operations
// are synchronous storage reads/writes; none perform network calls. Writes
// are best-effort: storage failures are logged, never returned, so a broken
// storage area can degrade session tracking but never break a login flow.
type Identity struct {
	store storage.Store
}

// NewIdentity binds an identity to a storage area.
func NewIdentity(store storage.Store) *Identity {
	return &Identity{store: store}
}

const sessionIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateSessionID mints a session identifier of the form
// session_<unix-ms>_<random-suffix>. The time component makes ids roughly
// sortable; the random component keeps two logins in the same millisecond
// from colliding.
func GenerateSessionID() string {
	return fmt.Sprintf("session_%d_%s", time.Now().UnixMilli(), randomSuffix(9))
}

// randomSuffix returns n characters from the session id alphabet sourced
// from crypto/rand. If the system entropy source fails it falls back to a
// nanosecond timestamp, which still satisfies uniqueness in practice.
func randomSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		slog.Error("random source unavailable for session id", "error", err)
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	for i := range b {
		b[i] = sessionIDAlphabet[int(b[i])%len(sessionIDAlphabet)]
	}
	return string(b)
}

// CurrentSessionID returns the persisted session id, or "" if never set or
// cleared.
func (m *Identity) CurrentSessionID() string {
	v, _ := m.store.Get(KeySessionID)
	return v
}

// SetSessionID persists a new session id, overwriting any previous value.
func (m *Identity) SetSessionID(id string) {
	if err := m.store.Set(KeySessionID, id); err != nil {
		slog.Error("failed to persist session id", "error", err)
	}
}

// ClearSessionID removes the persisted session id.
func (m *Identity) ClearSessionID() {
	if err := m.store.Delete(KeySessionID); err != nil {
		slog.Error("failed to clear session id", "error", err)
	}
}

// SetAuthToken persists the bearer credential. Setting it marks the tab
// authenticated; the session id must be assigned at the same time.
func (m *Identity) SetAuthToken(token string) {
	if err := m.store.Set(KeyAuthToken, token); err != nil {
		slog.Error("failed to persist auth token", "error", err)
	}
}

// IsAuthenticated reports whether this tab currently holds a bearer token.
// An unauthenticated tab has nothing to supersede and ignores all incoming
// announcements.
func (m *Identity) IsAuthenticated() bool {
	v, ok := m.store.Get(KeyAuthToken)
	return ok && v != ""
}

// SetUserRecord persists the raw JSON user profile record.
func (m *Identity) SetUserRecord(raw string) {
	if err := m.store.Set(KeyUser, raw); err != nil {
		slog.Error("failed to persist user record", "error", err)
	}
}

// CurrentUserID extracts the user identifier from the persisted profile
// record, accepting either "id" or "_id", and normalizes it to a string.
// A missing record or a parse failure yields "": treated as "no user",
// never an error.
func (m *Identity) CurrentUserID() string {
	raw, ok := m.store.Get(KeyUser)
	if !ok || raw == "" {
		return ""
	}

	var rec struct {
		ID    any `json:"id"`
		AltID any `json:"_id"`
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		slog.Debug("failed to parse stored user record", "error", err)
		return ""
	}

	if id := NormalizeUserID(rec.ID); id != "" {
		return id
	}
	return NormalizeUserID(rec.AltID)
}

// ClearSession removes session id, auth token and user record together.
// This is the only operation that fully logs a tab out locally. It is
// idempotent: clearing an already-cleared session is a no-op.
func (m *Identity) ClearSession() {
	m.ClearSessionID()
	if err := m.store.Delete(KeyAuthToken); err != nil {
		slog.Error("failed to clear auth token", "error", err)
	}
	if err := m.store.Delete(KeyUser); err != nil {
		slog.Error("failed to clear user record", "error", err)
	}
}

// NormalizeUserID converts a user identifier of any source type (string,
// JSON number, integer) to its string representation so equality
// comparisons are stable across producers. nil yields "".
func NormalizeUserID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprintf("%v", id)
	}
}

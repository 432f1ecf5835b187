// Package transport delivers login announcements between tabs.
//
// A transport is fire-and-forget: publishing never waits for any listener,
// and no delivery, ordering, or de-duplication guarantees exist between
// transports. Correctness lives entirely on the receiving side, which
// re-validates every announcement against its own local session state
// before acting. Running several transports at once is redundancy, not a
// protocol requirement.
package transport

import "time"

// TypeNewLogin is the type tag carried by every login announcement.
const TypeNewLogin = "NEW_LOGIN"

// Announcement is the ephemeral message broadcast when a user completes a
// login. It is never stored durably; the one storage key that carries it is
// a signaling mechanism, not a record.
type Announcement struct {
	// Type is always TypeNewLogin.
	Type string `json:"type"`

	// UserID is the normalized identifier of the user who just logged in.
	UserID string `json:"userId"`

	// SessionID is the session token minted for that login.
	SessionID string `json:"sessionId"`

	// Timestamp is wall-clock milliseconds at send time. It is refreshed on
	// every retransmission and used only for diagnostics, never for
	// ordering: clocks across tabs are not comparable.
	Timestamp int64 `json:"timestamp"`

	// Trigger is a monotonically changing component added by the storage
	// transport so that rewriting the well-known key always produces a
	// change event, even for an otherwise identical payload.
	Trigger int64 `json:"_trigger,omitempty"`
}

// NewLoginAnnouncement builds an announcement for a fresh login.
func NewLoginAnnouncement(userID, sessionID string) Announcement {
	return Announcement{
		Type:      TypeNewLogin,
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Valid reports whether the announcement carries the expected type tag and
// both required identifiers.
func (a Announcement) Valid() bool {
	return a.Type == TypeNewLogin && a.UserID != "" && a.SessionID != ""
}

// Transport is one cross-tab delivery mechanism for announcements.
//
// Publish is best-effort and must not block beyond its synchronous write.
// Subscribe hands the handler already-validated announcements; handlers
// never see raw malformed input. The returned unsubscribe detaches the
// handler and is safe to call more than once.
type Transport interface {
	Publish(a Announcement) error
	Subscribe(fn func(Announcement)) (unsubscribe func())
}

package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/al-bashkir/tabguard/internal/storage"
)

// Storage keys used for signaling. These are a stable contract shared by
// every tab watching the same storage area.
const (
	// KeyNewLogin is the well-known signal key. Its value is rewritten on
	// every login with a fresh trigger component so watchers always see a
	// change event.
	KeyNewLogin = "user_session_new_login"

	// BackupKeyPrefix prefixes the timestamp-suffixed backup signal keys.
	// Each backup key deletes itself after the cleanup delay so the storage
	// namespace does not grow across repeated logins.
	BackupKeyPrefix = "new_login_"
)

// DefaultCleanupDelay is how long a backup signal key lives before the
// publisher deletes it.
const DefaultCleanupDelay = 3 * time.Second

// StorageTransport signals logins through a shared storage area. It is the
// fallback path for environments without an in-process bus, and a redundant
// path everywhere else.
type StorageTransport struct {
	store        storage.Store
	cleanupDelay time.Duration
}

// NewStorageTransport creates a storage-backed transport. A non-positive
// cleanupDelay selects DefaultCleanupDelay.
func NewStorageTransport(store storage.Store, cleanupDelay time.Duration) *StorageTransport {
	if cleanupDelay <= 0 {
		cleanupDelay = DefaultCleanupDelay
	}
	return &StorageTransport{store: store, cleanupDelay: cleanupDelay}
}

// Publish writes the announcement to the well-known signal key and to a
// fresh backup key, then schedules deletion of the backup key. Both writes
// are single-key operations; a failure of either is returned for the caller
// to absorb.
func (t *StorageTransport) Publish(a Announcement) error {
	a.Trigger = time.Now().UnixMilli()

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode login signal: %w", err)
	}

	if err := t.store.Set(KeyNewLogin, string(payload)); err != nil {
		return fmt.Errorf("failed to write login signal key: %w", err)
	}

	backupKey := fmt.Sprintf("%s%d", BackupKeyPrefix, time.Now().UnixMilli())
	if err := t.store.Set(backupKey, string(payload)); err != nil {
		return fmt.Errorf("failed to write backup signal key: %w", err)
	}

	// Self-cleaning: the sender deletes its own backup key after a delay.
	time.AfterFunc(t.cleanupDelay, func() {
		if err := t.store.Delete(backupKey); err != nil {
			slog.Debug("failed to clean up backup signal key",
				"key", backupKey,
				"error", err,
			)
		}
	})

	return nil
}

// Subscribe watches the storage area for signal-key changes. Events for
// unrelated keys and deletions (including backup-key cleanup) are ignored;
// malformed payloads are dropped silently.
func (t *StorageTransport) Subscribe(fn func(Announcement)) (unsubscribe func()) {
	return t.store.Watch(func(ev storage.Event) {
		if ev.Deleted || ev.Value == "" {
			return
		}
		if ev.Key != KeyNewLogin && !strings.HasPrefix(ev.Key, BackupKeyPrefix) {
			return
		}

		var a Announcement
		if err := json.Unmarshal([]byte(ev.Value), &a); err != nil {
			slog.Debug("dropping malformed login signal",
				"key", ev.Key,
				"error", err,
			)
			return
		}
		if a.UserID == "" || a.SessionID == "" {
			slog.Debug("dropping incomplete login signal", "key", ev.Key)
			return
		}
		// Signal keys are identified by name; older writers may omit the
		// type tag on the storage path.
		if a.Type == "" {
			a.Type = TypeNewLogin
		}

		fn(a)
	})
}

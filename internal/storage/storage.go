// Package storage provides the key/value storage abstraction that session
// state and cross-tab signaling are built on.
//
// Every consumer sees the same small contract: single-key atomic reads and
// writes plus change notifications for writes made by *other* parties. This
// mirrors browser localStorage semantics, where a tab never receives a
// storage event for its own writes. There are no multi-key transactions;
// callers are expected to treat every incoming notification as possibly
// stale and re-verify against their own state before acting.
package storage

// Event describes a single key change observed in a storage area.
type Event struct {
	// Key is the storage key that changed.
	Key string

	// Value is the new value. Empty when Deleted is true.
	Value string

	// Deleted is true when the key was removed rather than written.
	Deleted bool
}

// Store is a key/value storage area with change notifications.
//
// Implementations must guarantee key-level atomicity for Get/Set/Delete and
// must invoke Watch callbacks without holding internal locks, so a callback
// that reads or writes the store does not deadlock.
type Store interface {
	// Get returns the value for key and whether it is present.
	Get(key string) (string, bool)

	// Set writes value under key, overwriting any previous value.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Watch registers fn to receive change events for writes performed by
	// other holders of the same storage area. The returned cancel function
	// removes the registration and is safe to call more than once.
	Watch(fn func(Event)) (cancel func())
}

package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore is a Store backed by a single JSON file, for tabs that run as
// separate OS processes on one machine. Writes are atomic
// (write-temp-then-rename) and change notifications come from polling the
// file and diffing it against the last observed contents.
//
// A process's own writes update the local snapshot before they hit disk, so
// the poller never reports them back to the process that made them. This
// preserves the rule that watchers only see writes from other parties.
//
// Concurrent writers use read-merge-write: each Set/Delete reloads the file
// before persisting. This narrows, but does not eliminate, the lost-update
// window; the signaling protocol built on top tolerates dropped signals.
type FileStore struct {
	path string

	mu       sync.Mutex
	data     map[string]string
	watchers map[int]func(Event)
	nextID   int

	ticker   *time.Ticker
	stop     chan struct{}
	stopOnce sync.Once
}

// NewFileStore opens (or creates on first write) the store file at path and
// starts the polling watcher. pollInterval must be positive.
func NewFileStore(path string, pollInterval time.Duration) (*FileStore, error) {
	if pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", pollInterval)
	}

	f := &FileStore{
		path:     path,
		data:     make(map[string]string),
		watchers: make(map[int]func(Event)),
		ticker:   time.NewTicker(pollInterval),
		stop:     make(chan struct{}),
	}

	disk, err := readStoreFile(path)
	if err != nil {
		return nil, err
	}
	f.data = disk

	go f.pollLoop()

	return f, nil
}

// Close stops the polling watcher. Safe to call more than once.
func (f *FileStore) Close() {
	f.stopOnce.Do(func() {
		f.ticker.Stop()
		close(f.stop)
	})
}

// Get returns the last observed value for key.
func (f *FileStore) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	return val, ok
}

// Set writes value under key and persists the store file.
func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	merged, err := readStoreFile(f.path)
	if err != nil {
		return err
	}
	merged[key] = value

	// Only the written key is applied to the local snapshot. Foreign changes
	// present in merged stay invisible here so the next poll still reports
	// them to watchers.
	f.data[key] = value

	return writeStoreFile(f.path, merged)
}

// Delete removes key and persists the store file.
func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	merged, err := readStoreFile(f.path)
	if err != nil {
		return err
	}
	delete(merged, key)
	delete(f.data, key)

	return writeStoreFile(f.path, merged)
}

// Watch registers fn for changes observed on disk that were not made
// through this FileStore.
func (f *FileStore) Watch(fn func(Event)) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.watchers[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}
}

// pollLoop periodically re-reads the store file and emits events for keys
// that changed since the last observation.
func (f *FileStore) pollLoop() {
	for {
		select {
		case <-f.ticker.C:
			f.poll()
		case <-f.stop:
			return
		}
	}
}

// poll diffs the on-disk contents against the local snapshot and notifies
// watchers of every difference. Callbacks run after the lock is released.
func (f *FileStore) poll() {
	disk, err := readStoreFile(f.path)
	if err != nil {
		slog.Debug("store file poll failed", "path", f.path, "error", err)
		return
	}

	f.mu.Lock()

	var events []Event
	for key, val := range disk {
		if prev, ok := f.data[key]; !ok || prev != val {
			events = append(events, Event{Key: key, Value: val})
		}
	}
	for key := range f.data {
		if _, ok := disk[key]; !ok {
			events = append(events, Event{Key: key, Deleted: true})
		}
	}

	var fns []func(Event)
	if len(events) > 0 {
		f.data = disk
		for _, fn := range f.watchers {
			fns = append(fns, fn)
		}
	}

	f.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// readStoreFile loads the JSON contents of the store file. A missing file
// is an empty store, not an error.
func readStoreFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from local configuration
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	contents := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &contents); err != nil {
			return nil, fmt.Errorf("failed to parse store file: %w", err)
		}
	}
	return contents, nil
}

// writeStoreFile persists the contents atomically: write to a temp file in
// the same directory, then rename over the target.
func writeStoreFile(path string, contents map[string]string) error {
	data, err := json.Marshal(contents)
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tabguard-store-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set store file permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace store file: %w", err)
	}

	return nil
}

package storage

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const testPollInterval = 10 * time.Millisecond

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	fs, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer fs.Close()

	if err := fs.Set("sessionId", "session_123_abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, ok := fs.Get("sessionId")
	if !ok || val != "session_123_abc" {
		t.Errorf("Get = %q, %v; want session_123_abc, true", val, ok)
	}

	if err := fs.Delete("sessionId"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := fs.Get("sessionId"); ok {
		t.Error("key still present after Delete")
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	fs, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := fs.Set("key", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	fs.Close()

	reopened, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	val, ok := reopened.Get("key")
	if !ok || val != "value" {
		t.Errorf("Get after reopen = %q, %v; want value, true", val, ok)
	}
}

func TestFileStoreInvalidPollInterval(t *testing.T) {
	if _, err := NewFileStore(filepath.Join(t.TempDir(), "s.json"), 0); err == nil {
		t.Error("expected error for zero poll interval")
	}
}

func TestFileStoreWatchSeesOtherProcessWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	writer, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer writer.Close()

	reader, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer reader.Close()

	var mu sync.Mutex
	var events []Event
	cancel := reader.Watch(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer cancel()

	if err := writer.Set("signal", "payload"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	})

	mu.Lock()
	ev := events[0]
	mu.Unlock()
	if ev.Key != "signal" || ev.Value != "payload" || ev.Deleted {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestFileStoreWatchSkipsOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	fs, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer fs.Close()

	var mu sync.Mutex
	var events []Event
	cancel := fs.Watch(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer cancel()

	if err := fs.Set("key", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Give the poller several cycles to (wrongly) report the write.
	time.Sleep(10 * testPollInterval)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 0 {
		t.Errorf("store reported its own write: %v", events)
	}
}

func TestFileStoreWatchSeesDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	writer, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer writer.Close()

	if err := writer.Set("key", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reader, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer reader.Close()

	var mu sync.Mutex
	var events []Event
	cancel := reader.Watch(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	defer cancel()

	if err := writer.Delete("key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	})

	mu.Lock()
	ev := events[0]
	mu.Unlock()
	if !ev.Deleted || ev.Key != "key" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestFileStoreConcurrentWritersMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	a, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer a.Close()

	b, err := NewFileStore(path, testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer b.Close()

	if err := a.Set("from-a", "1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := b.Set("from-b", "2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// b read-merge-writes, so a's key must survive b's write.
	waitFor(t, func() bool {
		v, ok := a.Get("from-b")
		return ok && v == "2"
	})

	contents, err := readStoreFile(path)
	if err != nil {
		t.Fatalf("readStoreFile failed: %v", err)
	}
	if contents["from-a"] != "1" || contents["from-b"] != "2" {
		t.Errorf("keys lost on concurrent write: %v", contents)
	}
}

func TestFileStoreCloseIdempotent(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "s.json"), testPollInterval)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	fs.Close()
	fs.Close()
}

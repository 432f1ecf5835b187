package storage

import (
	"testing"
)

func TestViewsShareData(t *testing.T) {
	profile := NewProfile()
	v1 := profile.Attach()
	v2 := profile.Attach()

	if err := v1.Set("sessionId", "session_123_abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, ok := v2.Get("sessionId")
	if !ok {
		t.Fatal("expected key to be visible from other view")
	}
	if val != "session_123_abc" {
		t.Errorf("value = %q, want session_123_abc", val)
	}
}

func TestWatcherSkipsOwnWrites(t *testing.T) {
	profile := NewProfile()
	v1 := profile.Attach()
	v2 := profile.Attach()

	var v1Events, v2Events []Event
	cancel1 := v1.Watch(func(ev Event) { v1Events = append(v1Events, ev) })
	defer cancel1()
	cancel2 := v2.Watch(func(ev Event) { v2Events = append(v2Events, ev) })
	defer cancel2()

	if err := v1.Set("key", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if len(v1Events) != 0 {
		t.Errorf("writer saw its own write: %v", v1Events)
	}
	if len(v2Events) != 1 {
		t.Fatalf("expected 1 event on other view, got %d", len(v2Events))
	}
	if v2Events[0].Key != "key" || v2Events[0].Value != "value" || v2Events[0].Deleted {
		t.Errorf("unexpected event: %+v", v2Events[0])
	}
}

func TestWatcherSeesDelete(t *testing.T) {
	profile := NewProfile()
	v1 := profile.Attach()
	v2 := profile.Attach()

	if err := v1.Set("key", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var events []Event
	cancel := v2.Watch(func(ev Event) { events = append(events, ev) })
	defer cancel()

	if err := v1.Delete("key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].Deleted || events[0].Key != "key" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestDeleteAbsentKeyNotifiesNobody(t *testing.T) {
	profile := NewProfile()
	v1 := profile.Attach()
	v2 := profile.Attach()

	var events []Event
	cancel := v2.Watch(func(ev Event) { events = append(events, ev) })
	defer cancel()

	if err := v1.Delete("never-set"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(events) != 0 {
		t.Errorf("expected no events, got %v", events)
	}
}

func TestWatchCancel(t *testing.T) {
	profile := NewProfile()
	v1 := profile.Attach()
	v2 := profile.Attach()

	var events []Event
	cancel := v2.Watch(func(ev Event) { events = append(events, ev) })
	cancel()
	// Cancelling twice must be safe.
	cancel()

	if err := v1.Set("key", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if len(events) != 0 {
		t.Errorf("cancelled watcher still received events: %v", events)
	}
}

func TestDetachStopsEvents(t *testing.T) {
	profile := NewProfile()
	v1 := profile.Attach()
	v2 := profile.Attach()

	var events []Event
	v2.Watch(func(ev Event) { events = append(events, ev) })

	profile.Detach(v2)

	if err := v1.Set("key", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if len(events) != 0 {
		t.Errorf("detached view still received events: %v", events)
	}
}

func TestWatcherCanAccessStore(t *testing.T) {
	// Callbacks run without the profile lock held, so a watcher that reads
	// or writes the store must not deadlock.
	profile := NewProfile()
	v1 := profile.Attach()
	v2 := profile.Attach()

	var observed string
	cancel := v2.Watch(func(ev Event) {
		observed, _ = v2.Get(ev.Key)
	})
	defer cancel()

	if err := v1.Set("key", "value"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if observed != "value" {
		t.Errorf("watcher read %q, want value", observed)
	}
}

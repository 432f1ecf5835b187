package transport

import (
	"sync"
	"time"
)

// DefaultResendDelays are the retransmission offsets applied after the
// first post on a Channel. They cover the race where a freshly opened tab
// has not finished attaching its subscription when the first post fires.
var DefaultResendDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond}

// Bus is an in-process publish/subscribe fabric shared by all tabs living
// in the same process. It exists only while the process runs; nothing is
// persisted.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

// Channel returns a transport attached to the named topic. Channels created
// with the same name on the same bus deliver to each other's subscribers.
func (b *Bus) Channel(name string) *Channel {
	b.mu.Lock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{subs: make(map[int]func(Announcement))}
		b.topics[name] = t
	}
	b.mu.Unlock()

	return &Channel{
		topic:        t,
		ResendDelays: DefaultResendDelays,
	}
}

// Channel is the in-process Transport. Publishing delivers to every
// subscriber on the topic, including subscribers registered through the
// publishing channel itself: echo is permitted because the supersession
// predicate evaluates false for the sender, whose own session id matches
// the one being announced.
type Channel struct {
	topic *topic

	// ResendDelays are the offsets for follow-up posts after Publish. Each
	// re-post carries a refreshed timestamp. Set to nil to post only once.
	ResendDelays []time.Duration
}

// Publish posts the announcement now and re-posts it after each configured
// delay. The re-posts are fire-and-forget timers; they are harmless no-ops
// if every subscriber is gone by the time they fire.
func (c *Channel) Publish(a Announcement) error {
	c.topic.deliver(a)

	for _, d := range c.ResendDelays {
		time.AfterFunc(d, func() {
			resend := a
			resend.Timestamp = time.Now().UnixMilli()
			c.topic.deliver(resend)
		})
	}

	return nil
}

// Subscribe registers fn for announcements posted on the topic.
func (c *Channel) Subscribe(fn func(Announcement)) (unsubscribe func()) {
	return c.topic.subscribe(fn)
}

// topic holds the subscriber set for one channel name.
type topic struct {
	mu     sync.Mutex
	subs   map[int]func(Announcement)
	nextID int
}

func (t *topic) subscribe(fn func(Announcement)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// deliver invokes every subscriber with a. Subscribers are snapshotted
// first so handlers run without the topic lock held.
func (t *topic) deliver(a Announcement) {
	t.mu.Lock()
	fns := make([]func(Announcement), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(a)
	}
}

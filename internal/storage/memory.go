package storage

import "sync"

// Profile is an in-memory storage area shared by every View attached to it.
// It stands in for one browser profile's localStorage: all views read and
// write the same data, and a view's watchers see writes from every view
// except its own.
//
// Profile is also the deterministic test double for the session and
// transport packages.
type Profile struct {
	mu    sync.RWMutex
	data  map[string]string
	views map[*View]struct{}
}

// NewProfile creates an empty shared storage area.
func NewProfile() *Profile {
	return &Profile{
		data:  make(map[string]string),
		views: make(map[*View]struct{}),
	}
}

// Attach returns a new View onto the shared area. Each simulated tab should
// hold its own view so that change notifications exclude its own writes.
func (p *Profile) Attach() *View {
	v := &View{
		profile:  p,
		watchers: make(map[int]func(Event)),
	}

	p.mu.Lock()
	p.views[v] = struct{}{}
	p.mu.Unlock()

	return v
}

// Detach removes a view from the profile. Watchers registered on the view
// stop receiving events.
func (p *Profile) Detach(v *View) {
	p.mu.Lock()
	delete(p.views, v)
	p.mu.Unlock()
}

// set writes the value and returns the watcher callbacks to notify.
// Callbacks are collected under the lock but invoked by the caller after
// the lock is released.
func (p *Profile) set(origin *View, key, value string) []func(Event) {
	p.mu.Lock()
	p.data[key] = value
	fns := p.watchersExcept(origin)
	p.mu.Unlock()
	return fns
}

// delete removes the key and returns the watcher callbacks to notify.
// Deleting an absent key notifies no one.
func (p *Profile) delete(origin *View, key string) []func(Event) {
	p.mu.Lock()
	_, existed := p.data[key]
	delete(p.data, key)
	var fns []func(Event)
	if existed {
		fns = p.watchersExcept(origin)
	}
	p.mu.Unlock()
	return fns
}

// watchersExcept collects watcher callbacks from every view other than
// origin. Must be called with p.mu held.
func (p *Profile) watchersExcept(origin *View) []func(Event) {
	var fns []func(Event)
	for v := range p.views {
		if v == origin {
			continue
		}
		v.mu.Lock()
		for _, fn := range v.watchers {
			fns = append(fns, fn)
		}
		v.mu.Unlock()
	}
	return fns
}

// View is one tab's handle on a shared Profile. It implements Store.
type View struct {
	profile *Profile

	mu       sync.Mutex
	watchers map[int]func(Event)
	nextID   int
}

// Get returns the value for key from the shared area.
func (v *View) Get(key string) (string, bool) {
	v.profile.mu.RLock()
	defer v.profile.mu.RUnlock()
	val, ok := v.profile.data[key]
	return val, ok
}

// Set writes value under key and notifies watchers on all other views.
func (v *View) Set(key, value string) error {
	fns := v.profile.set(v, key, value)
	ev := Event{Key: key, Value: value}
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// Delete removes key and notifies watchers on all other views.
func (v *View) Delete(key string) error {
	fns := v.profile.delete(v, key)
	ev := Event{Key: key, Deleted: true}
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// Watch registers fn for changes made through other views of the same
// profile. The returned cancel removes the registration.
func (v *View) Watch(fn func(Event)) (cancel func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.watchers[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.watchers, id)
		v.mu.Unlock()
	}
}

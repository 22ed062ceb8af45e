package core

import (
	"sync"

	"github.com/vovakirdan/wirebus/internal/wire"
)

// Registry tracks the channels the hub believes are connected, in connection order.
// Iteration always works on a copy taken under the lock, so a concurrent add or
// remove is never observed half way.
type Registry struct {
	mu       sync.RWMutex
	channels []*wire.Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add inserts ch. Returns false if ch is already registered.
func (r *Registry) Add(ch *wire.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.channels {
		if existing.Equal(ch) {
			return false
		}
	}
	r.channels = append(r.channels, ch)
	return true
}

// Remove deletes ch. Returns true only for the call that actually removed it.
func (r *Registry) Remove(ch *wire.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.channels {
		if existing.Equal(ch) {
			r.channels = append(r.channels[:i], r.channels[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a point-in-time copy of the registered channels.
func (r *Registry) Snapshot() []*wire.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*wire.Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Lookup returns every channel registered under name.
func (r *Registry) Lookup(name string) []*wire.Channel {
	var out []*wire.Channel
	for _, ch := range r.Snapshot() {
		if ch.Name() == name {
			out = append(out, ch)
		}
	}
	return out
}

// Names returns the names of the registered channels in connection order.
func (r *Registry) Names() []string {
	return namesOf(r.Snapshot())
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

func namesOf(channels []*wire.Channel) []string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	return names
}

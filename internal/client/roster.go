package client

import (
	"slices"
	"sync"
)

// Roster is the client's view of which peers the hub currently reaches.
// It is a hint for the application; routing never consults it.
type Roster struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{names: make(map[string]struct{})}
}

// Replace swaps the whole roster for names.
func (r *Roster) Replace(names []string) {
	next := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name != "" {
			next[name] = struct{}{}
		}
	}

	r.mu.Lock()
	r.names = next
	r.mu.Unlock()
}

func (r *Roster) Add(name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.names[name] = struct{}{}
	r.mu.Unlock()
}

func (r *Roster) Remove(name string) {
	r.mu.Lock()
	delete(r.names, name)
	r.mu.Unlock()
}

func (r *Roster) Clear() {
	r.Replace(nil)
}

// Has reports whether name is currently listed.
func (r *Roster) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// Names returns the listed names in sorted order.
func (r *Roster) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	r.mu.RUnlock()

	slices.Sort(out)
	return out
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

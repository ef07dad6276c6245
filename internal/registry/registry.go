// Package registry tracks the live TCP peers of a relay server.
//
// The Registry is the only state shared between connection goroutines.
// Broadcasts iterate a Snapshot, never the live set, so a peer that
// disconnects mid-broadcast cannot invalidate the iteration.
package registry

import (
	"errors"
	"slices"
	"sync"
)

// Errors
var (
	ErrDuplicate = errors.New("connection id already registered")
)

// Handle is a registered peer.
type Handle interface {
	// ID returns the peer's "<ip>:<port>" identity.
	ID() string

	// Send writes one newline-terminated message to the peer.
	Send(text string) error

	// Close closes the underlying stream. Safe to call more than once.
	Close() error
}

// Registry is a set of live connections keyed by identity.
// The zero value is not usable; call New.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Handle
	order []string // registration order
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byID: make(map[string]Handle),
	}
}

// Add registers h under id. An id that is already present is left
// untouched and ErrDuplicate is returned.
func (r *Registry) Add(id string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return ErrDuplicate
	}
	r.byID[id] = h
	r.order = append(r.order, id)
	return nil
}

// Remove unregisters id. Removing an absent id is a no-op.
// Returns true if an entry was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; !exists {
		return false
	}
	delete(r.byID, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return true
}

// Get returns the handle registered under id.
func (r *Registry) Get(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Snapshot returns a point-in-time copy of the registered handles in
// registration order. The returned slice is owned by the caller.
func (r *Registry) Snapshot() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns the registered identities in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Drain removes every entry and returns the handles that were registered.
// Used at shutdown to close all peers in one pass.
func (r *Registry) Drain() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Handle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	r.byID = make(map[string]Handle)
	r.order = nil
	return out
}

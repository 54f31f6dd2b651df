package realtime

import "sync"

// Registry is the live-connection index: principal -> connection and the
// reverse mapping, kept consistent under one lock.
//
// Concurrency guarantees:
//   - One connection per principal. Registering a principal who already has a
//     live mapping replaces it; the displaced connection id is returned so the
//     caller can tear that session down.
//   - Unregister is keyed by connection id and consults the reverse map first,
//     so a disconnect racing a reconnect never removes the newer mapping.
type Registry struct {
	mu           sync.RWMutex
	byPrincipal  map[string]string
	byConnection map[string]string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byPrincipal:  make(map[string]string),
		byConnection: make(map[string]string),
	}
}

// Register maps a principal to a connection. If the principal already had a
// live connection, its id is returned with displaced=true and its mapping is
// dropped.
func (r *Registry) Register(principalID, connectionID string) (displaced string, wasDisplaced bool) {
	if principalID == "" || connectionID == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byPrincipal[principalID]; ok && old != connectionID {
		delete(r.byConnection, old)
		displaced, wasDisplaced = old, true
	}
	r.byPrincipal[principalID] = connectionID
	r.byConnection[connectionID] = principalID
	return displaced, wasDisplaced
}

// Unregister removes the mapping owned by connectionID. A stale id (already
// replaced or never registered) is a no-op.
func (r *Registry) Unregister(connectionID string) {
	if connectionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	principalID, ok := r.byConnection[connectionID]
	if !ok {
		return
	}
	delete(r.byConnection, connectionID)

	// Only clear the forward entry if it still points at us; a reconnect may
	// have taken it over already.
	if cur, ok := r.byPrincipal[principalID]; ok && cur == connectionID {
		delete(r.byPrincipal, principalID)
	}
}

// Resolve returns the live connection id for a principal.
func (r *Registry) Resolve(principalID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPrincipal[principalID]
	return id, ok
}

// IsConnected reports whether the principal has a live connection.
func (r *Registry) IsConnected(principalID string) bool {
	_, ok := r.Resolve(principalID)
	return ok
}

// ListConnected returns a snapshot of connected principal ids.
func (r *Registry) ListConnected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byPrincipal))
	for id := range r.byPrincipal {
		out = append(out, id)
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPrincipal)
}

package engine

import "sync"

// Registry tracks the identifiers of live instances so a bot cannot be
// loaded twice.
type Registry interface {
	// Claim reserves id. Returns false if it is already held.
	Claim(id string) bool

	// Release frees id.
	Release(id string)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ids: make(map[string]struct{})}
}

// Claim implements Registry.
func (r *MemoryRegistry) Claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

// Release implements Registry.
func (r *MemoryRegistry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}

// Len returns the number of claimed identifiers.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

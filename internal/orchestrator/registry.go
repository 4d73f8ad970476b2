package orchestrator

import "sync"

// Registry tracks live orchestrators by room ID. The repository is the
// source of truth for room state; the registry holds the running loops so
// the server can pause, stop, and moderate them.
type Registry struct {
	mu            sync.RWMutex
	orchestrators map[string]*Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{orchestrators: make(map[string]*Orchestrator)}
}

// Register adds the orchestrator for a room, replacing any previous one.
func (r *Registry) Register(roomID string, o *Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orchestrators[roomID] = o
}

// Unregister removes a room's orchestrator. Returns true if one was present.
func (r *Registry) Unregister(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orchestrators[roomID]; !ok {
		return false
	}
	delete(r.orchestrators, roomID)
	return true
}

// Get returns the orchestrator for a room, or nil if none is running.
func (r *Registry) Get(roomID string) *Orchestrator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orchestrators[roomID]
}

// All returns a snapshot of every registered orchestrator.
func (r *Registry) All() []*Orchestrator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Orchestrator, 0, len(r.orchestrators))
	for _, o := range r.orchestrators {
		all = append(all, o)
	}
	return all
}

// Shutdown stops every registered orchestrator's subprocesses and clears the
// registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.orchestrators {
		o.Shutdown()
		delete(r.orchestrators, id)
	}
}

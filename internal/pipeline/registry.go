package pipeline

import (
	"sync"
	"time"
)

// Registry tracks which records have a live task, keyed by record id. A claim
// is taken before scheduling and released when the task finishes, so duplicate
// triggers can be ignored and the sweeper can tell a crashed task from a slow
// one.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]time.Time)}
}

// Claim records a live task for id. It returns false when the record already
// has one.
func (r *Registry) Claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; ok {
		return false
	}
	r.tasks[id] = time.Now().UTC()
	return true
}

// Release drops the claim for id.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Live reports whether a task currently holds a claim for id.
func (r *Registry) Live(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok
}

// Len returns the number of live claims.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

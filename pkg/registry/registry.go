package registry

import (
	"sync"

	"github.com/picdex/picdex/pkg/api/v1alpha1"
)

// InFlight tracks batches currently owned by a running import engine.
// While a batch is registered here, this live record is authoritative
// over whatever revision the store holds.
type InFlight struct {
	mu      sync.RWMutex
	batches map[string]*v1alpha1.BatchSchema
}

func New() *InFlight {
	return &InFlight{batches: make(map[string]*v1alpha1.BatchSchema)}
}

// Register installs the live batch record. The engine registers before
// the first persist and removes only after the terminal persist.
func (r *InFlight) Register(b *v1alpha1.BatchSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = b
}

// Remove drops a batch from the registry.
func (r *InFlight) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.batches, id)
}

// Get returns the live batch record, or nil when the batch is not in
// flight.
func (r *InFlight) Get(id string) *v1alpha1.BatchSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.batches[id]
}

// Snapshot returns a copy of the live record safe for callers, or nil.
func (r *InFlight) Snapshot(id string) *v1alpha1.BatchSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.batches[id]; ok {
		return b.Snapshot()
	}
	return nil
}

// List snapshots every in-flight batch.
func (r *InFlight) List() []*v1alpha1.BatchSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*v1alpha1.BatchSchema, 0, len(r.batches))
	for _, b := range r.batches {
		out = append(out, b.Snapshot())
	}
	return out
}

// Mutate applies fn to the live batch under the registry lock. The
// engine funnels counter and timestamp updates through here so query
// paths can snapshot without racing.
func (r *InFlight) Mutate(id string, fn func(*v1alpha1.BatchSchema)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.batches[id]; ok {
		fn(b)
	}
}

// SetStatus transitions the live batch's status under the registry
// lock, reporting whether the transition was legal and applied.
func (r *InFlight) SetStatus(id string, to v1alpha1.BatchStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok || !b.Status.CanTransition(to) {
		return false
	}
	b.Status = to
	return true
}

// Status reads the live batch's status under the registry lock.
func (r *InFlight) Status(id string) (v1alpha1.BatchStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	if !ok {
		return v1alpha1.StatusInit, false
	}
	return b.Status, true
}

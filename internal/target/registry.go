package target

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the target set. Readers must not modify
// Targets.
type Snapshot struct {
	Targets   []Target
	UpdatedAt time.Time
}

// Registry holds the current target set. Updates replace the whole set, so
// a reader either sees the previous snapshot or the new one, never a mix.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry holding targets
func NewRegistry(targets []Target) *Registry {
	r := &Registry{}
	r.Replace(targets)
	return r
}

// Snapshot returns the current target set
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Targets is shorthand for Snapshot().Targets
func (r *Registry) Targets() []Target {
	return r.current.Load().Targets
}

// Len returns the number of targets in the current snapshot
func (r *Registry) Len() int {
	return len(r.current.Load().Targets)
}

// Replace swaps in a copy of targets as the new snapshot
func (r *Registry) Replace(targets []Target) {
	owned := make([]Target, len(targets))
	copy(owned, targets)
	r.current.Store(&Snapshot{Targets: owned, UpdatedAt: time.Now()})
}

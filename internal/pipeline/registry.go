package pipeline

import (
	"sync"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Active-Deployment Registry
// =============================================================================

// Registry tracks in-flight deployments for observability. It stores
// value copies, never the caller's pointer: unit goroutines keep
// mutating their own context freely while readers see a consistent
// snapshot through SetPhase and Active.
type Registry struct {
	mu     sync.RWMutex
	active map[string]domain.DeploymentContext // keyed by unit ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]domain.DeploymentContext)}
}

// Add registers a copy of the deployment context. A unit may appear at
// most once; a second registration fails with ErrUnitAlreadyActive.
func (r *Registry) Add(dc *domain.DeploymentContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[dc.UnitID]; exists {
		return domain.ErrUnitAlreadyActive
	}
	r.active[dc.UnitID] = *dc
	return nil
}

// Remove deletes the unit's entry. Removing an absent unit is a no-op.
func (r *Registry) Remove(unitID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, unitID)
}

// SetPhase updates the recorded phase of an active deployment.
func (r *Registry) SetPhase(unitID string, phase domain.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dc, ok := r.active[unitID]; ok {
		dc.Phase = phase
		r.active[unitID] = dc
	}
}

// Contains reports whether the unit has an active deployment.
func (r *Registry) Contains(unitID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[unitID]
	return ok
}

// Active returns a snapshot of all in-flight deployment contexts.
func (r *Registry) Active() []domain.DeploymentContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.DeploymentContext, 0, len(r.active))
	for _, dc := range r.active {
		out = append(out, dc)
	}
	return out
}

// Len returns the number of in-flight deployments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

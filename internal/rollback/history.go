package rollback

import (
	"sync"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Rollback History
// =============================================================================

// History is the engine-owned record of finalized rollbacks, keyed by
// rollback ID. Results are never mutated after being appended.
type History struct {
	mu      sync.RWMutex
	byID    map[string]*domain.RollbackResult
	perUnit map[string]int
	order   []string
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{
		byID:    make(map[string]*domain.RollbackResult),
		perUnit: make(map[string]int),
	}
}

// Append records a finalized rollback result.
func (h *History) Append(result *domain.RollbackResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byID[result.RollbackID]; exists {
		return
	}
	h.byID[result.RollbackID] = result
	h.perUnit[result.UnitID]++
	h.order = append(h.order, result.RollbackID)
}

// Get returns the result for a rollback ID.
func (h *History) Get(rollbackID string) (*domain.RollbackResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.byID[rollbackID]
	return r, ok
}

// CountForUnit returns how many rollbacks the unit has accumulated.
func (h *History) CountForUnit(unitID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.perUnit[unitID]
}

// All returns the recorded results in insertion order.
func (h *History) All() []*domain.RollbackResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*domain.RollbackResult, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.byID[id])
	}
	return out
}

// Package graph provides the pure dependency resolution algorithm for
// ordering rollout units. This is part of the Functional Core - no I/O.
package graph

import (
	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// EdgeFunc returns the prerequisite unit IDs of the given unit. The
// resolver itself is generic over how edges are derived; callers supply
// a lookup built from manifests, naming conventions, or anything else.
type EdgeFunc func(unit domain.Unit) []string

// NeedsEdges is the default EdgeFunc: a unit's prerequisites are its
// declared Needs.
func NeedsEdges(unit domain.Unit) []string {
	return unit.Needs
}

// =============================================================================
// Topological Ordering
// =============================================================================

// DFS mark colors.
type mark int

const (
	unvisited mark = iota
	visiting
	visited
)

// Order returns the units in a valid topological order: every unit's
// prerequisites precede it. Mutually independent units keep their
// relative submission order because the depth-first visit is driven by
// the input list itself.
//
// A cycle yields *domain.CycleError naming a participant unit, detected
// before any unit is deployed. Prerequisites that name units outside
// the input set are ignored.
//
// Example:
//
//	// Units: web needs api, api needs db
//	ordered, err := Order(units, NeedsEdges)
//	// Result: [db, api, web]
func Order(units []domain.Unit, edges EdgeFunc) ([]domain.Unit, error) {
	if edges == nil {
		edges = NeedsEdges
	}

	byID := make(map[string]domain.Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	marks := make(map[string]mark, len(units))
	ordered := make([]domain.Unit, 0, len(units))

	var visit func(u domain.Unit) error
	visit = func(u domain.Unit) error {
		switch marks[u.ID] {
		case visited:
			return nil
		case visiting:
			return &domain.CycleError{UnitID: u.ID}
		}
		marks[u.ID] = visiting

		for _, dep := range edges(u) {
			prereq, ok := byID[dep]
			if !ok {
				continue // prerequisite outside this run
			}
			if err := visit(prereq); err != nil {
				return err
			}
		}

		marks[u.ID] = visited
		ordered = append(ordered, u)
		return nil
	}

	for _, u := range units {
		if err := visit(u); err != nil {
			return nil, err
		}
	}

	return ordered, nil
}

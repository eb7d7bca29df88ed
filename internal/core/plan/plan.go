// Package plan provides pure batching and continuation-policy functions
// for the batch coordinator.
package plan

import (
	"time"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Batch Partitioning
// =============================================================================

// Partition splits the ordered unit list into contiguous batches of at
// most size units. The last batch may be smaller. A size of zero or
// less yields a single batch with all units.
func Partition(units []domain.Unit, size int) [][]domain.Unit {
	if len(units) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]domain.Unit{units}
	}

	batches := make([][]domain.Unit, 0, (len(units)+size-1)/size)
	for start := 0; start < len(units); start += size {
		end := start + size
		if end > len(units) {
			end = len(units)
		}
		batches = append(batches, units[start:end])
	}
	return batches
}

// =============================================================================
// Timeout Budgeting
// =============================================================================

// UnitBudget divides the global coordination timeout flatly by the
// configured batch size. The division deliberately ignores the actual
// size of the current batch, matching the documented budgeting scheme.
func UnitBudget(coordinationTimeout time.Duration, batchSize int) time.Duration {
	if batchSize <= 0 {
		return coordinationTimeout
	}
	return coordinationTimeout / time.Duration(batchSize)
}

// =============================================================================
// Continuation Policy
// =============================================================================

// ShouldContinue reports whether the coordinator may schedule the next
// batch after the given batch outcome. The run continues while the
// batch failure rate stays at or below the threshold.
func ShouldContinue(result domain.BatchResult, threshold float64) bool {
	return result.FailureRate() <= threshold
}

// Package coordinator runs dependency-ordered units in bounded-size
// concurrent batches, applying the continuation policy between batches.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlasdeploy/cascade/internal/core/domain"
	"github.com/atlasdeploy/cascade/internal/core/graph"
	"github.com/atlasdeploy/cascade/internal/core/plan"
)

// =============================================================================
// Coordinator
// =============================================================================

// Executor runs one unit through its deployment pipeline. Satisfied by
// *pipeline.Pipeline.
type Executor interface {
	Execute(ctx context.Context, coordinationID string, unit domain.Unit, opts domain.Options) domain.UnitResult
}

// Coordinator owns one coordination run at a time. Unit goroutines
// report results over a channel; only the coordinator goroutine touches
// the aggregates.
type Coordinator struct {
	executor Executor
	edges    graph.EdgeFunc
	observer domain.Observer
	logger   *slog.Logger
}

// New creates a coordinator. A nil edges func falls back to each unit's
// declared Needs.
func New(executor Executor, edges graph.EdgeFunc, observer domain.Observer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = domain.NopObserver{}
	}
	if edges == nil {
		edges = graph.NeedsEdges
	}
	return &Coordinator{
		executor: executor,
		edges:    edges,
		observer: observer,
		logger:   logger.With("component", "coordinator"),
	}
}

// =============================================================================
// Coordination Run
// =============================================================================

// Run coordinates the rollout of all units. It returns an error only
// when dependency resolution fails outright (without the unordered
// fallback enabled) or when the continuation policy halts the run; in
// the latter case the partial result is returned alongside
// domain.ErrCoordinationHalted. All other failures are enumerated in
// the result's Failed list.
func (c *Coordinator) Run(ctx context.Context, units []domain.Unit, opts domain.Options) (*domain.CoordinationResult, error) {
	cc := domain.NewCoordinationContext(units, opts)
	result := &domain.CoordinationResult{
		CoordinationID: cc.ID,
		Strategy:       cc.Strategy,
	}

	ordered, err := graph.Order(units, c.edges)
	if err != nil {
		if !opts.AllowUnordered {
			return nil, fmt.Errorf("dependency resolution: %w", err)
		}
		// Explicitly opted in: deploy in submission order even though
		// prerequisites may land after their dependents.
		c.logger.Warn("dependency resolution failed, falling back to submission order",
			"coordination_id", cc.ID,
			"error", err,
		)
		ordered = units
	}

	batches := plan.Partition(ordered, opts.BatchSize)
	unitBudget := plan.UnitBudget(opts.CoordinationTimeout, opts.BatchSize)

	c.observer.CoordinationStarted(cc)
	c.logger.Info("coordination started",
		"coordination_id", cc.ID,
		"units", len(ordered),
		"batches", len(batches),
		"batch_size", opts.BatchSize,
		"unit_budget", unitBudget,
	)

	for i, batch := range batches {
		c.observer.BatchStarted(cc.ID, i, len(batch))

		batchResult := c.runBatch(ctx, cc.ID, i, batch, unitBudget, opts)
		result.Batches = append(result.Batches, batchResult)
		result.Successful = append(result.Successful, batchResult.Successful...)
		result.Failed = append(result.Failed, batchResult.Failed...)

		c.observer.BatchCompleted(cc.ID, batchResult)
		c.logger.Info("batch completed",
			"coordination_id", cc.ID,
			"batch", i,
			"succeeded", len(batchResult.Successful),
			"failed", len(batchResult.Failed),
			"failure_rate", batchResult.FailureRate(),
		)

		if !plan.ShouldContinue(batchResult, opts.ContinuationThreshold) {
			result.Halted = true
			c.logger.Error("continuation threshold exceeded, halting",
				"coordination_id", cc.ID,
				"batch", i,
				"failure_rate", batchResult.FailureRate(),
				"threshold", opts.ContinuationThreshold,
			)
			break
		}
	}

	result.Duration = time.Since(cc.StartedAt)
	c.observer.CoordinationCompleted(result)

	if result.Halted {
		return result, fmt.Errorf("coordination %s: %w", cc.ID, domain.ErrCoordinationHalted)
	}
	return result, nil
}

// runBatch launches one goroutine per unit, waits for the whole group
// to settle, and classifies the outcomes. Nothing escapes the batch
// boundary: panics are converted to failure results. Aggregation is
// order-independent within the batch.
func (c *Coordinator) runBatch(ctx context.Context, coordinationID string, index int, batch []domain.Unit, unitBudget time.Duration, opts domain.Options) domain.BatchResult {
	started := time.Now()
	results := make(chan domain.UnitResult, len(batch))

	var wg sync.WaitGroup
	for _, unit := range batch {
		wg.Add(1)
		go func(u domain.Unit) {
			defer wg.Done()
			unitCtx := ctx
			cancel := context.CancelFunc(func() {})
			if unitBudget > 0 {
				unitCtx, cancel = context.WithTimeout(ctx, unitBudget)
			}
			defer cancel()
			results <- c.executeUnit(unitCtx, coordinationID, u, opts)
		}(unit)
	}
	wg.Wait()
	close(results)

	batchResult := domain.BatchResult{
		Index: index,
		Size:  len(batch),
	}
	for r := range results {
		if r.Success {
			batchResult.Successful = append(batchResult.Successful, r)
		} else {
			batchResult.Failed = append(batchResult.Failed, r)
		}
	}
	batchResult.Duration = time.Since(started)
	return batchResult
}

// executeUnit shields the batch from a panicking pipeline or
// collaborator by converting the panic into a failure result.
func (c *Coordinator) executeUnit(ctx context.Context, coordinationID string, unit domain.Unit, opts domain.Options) (result domain.UnitResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline panic for unit %q: %v", unit.ID, r)
			c.logger.Error("pipeline panicked", "unit", unit.ID, "panic", r)
			result = domain.UnitResult{
				UnitID:  unit.ID,
				Success: false,
				Err:     err,
				Error:   err.Error(),
			}
		}
	}()
	return c.executor.Execute(ctx, coordinationID, unit, opts)
}

// Package pipeline drives one unit through the deployment state machine:
// validate, deploy, test, finalize, with rollback on failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlasdeploy/cascade/internal/core/domain"
	"github.com/atlasdeploy/cascade/internal/core/plan"
)

// =============================================================================
// Pipeline
// =============================================================================

// Deps bundles the collaborators a Pipeline needs. Deployer is
// required; Validator, Tests, Auditor, and Rollback may be nil when the
// corresponding phase is disabled.
type Deps struct {
	Deployer  Deployer
	Validator Validator
	Tests     TestRunner
	Auditor   Auditor
	Rollback  RollbackRunner
	Observer  domain.Observer
	Logger    *slog.Logger
}

// Pipeline executes the per-unit deployment state machine. One Pipeline
// serves a whole coordination run; each Execute call is independent and
// safe to run concurrently with others.
type Pipeline struct {
	deployer Deployer
	valid    Validator
	tests    TestRunner
	auditor  Auditor
	rollback RollbackRunner
	observer domain.Observer
	registry *Registry
	logger   *slog.Logger
}

// New creates a pipeline with its own active-deployment registry.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = domain.NopObserver{}
	}
	return &Pipeline{
		deployer: deps.Deployer,
		valid:    deps.Validator,
		tests:    deps.Tests,
		auditor:  deps.Auditor,
		rollback: deps.Rollback,
		observer: observer,
		registry: NewRegistry(),
		logger:   logger.With("component", "pipeline"),
	}
}

// Registry exposes the active-deployment registry for observability.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// =============================================================================
// Execution
// =============================================================================

// Execute runs one unit through the full state machine and returns its
// final result. Errors never escape: every failure is classified into
// the result. The unit's registry entry is removed on every path.
func (p *Pipeline) Execute(ctx context.Context, coordinationID string, unit domain.Unit, opts domain.Options) domain.UnitResult {
	dc := domain.NewDeploymentContext(coordinationID, unit, opts)
	started := time.Now()

	if err := p.registry.Add(dc); err != nil {
		return p.refuse(dc, unit, started, err)
	}
	defer p.registry.Remove(unit.ID)

	auditID := domain.NewAuditID()
	p.audit(ctx, dc, opts, auditID, domain.AuditStarted, nil)

	// Validating
	if opts.ValidationEnabled && !opts.Force && p.valid != nil {
		if err := p.enterPhase(ctx, dc, domain.PhaseValidating); err != nil {
			return p.fail(ctx, dc, unit, opts, started, nil, err)
		}
		reportV, err := p.valid.Validate(ctx, unit, opts)
		if err != nil {
			return p.fail(ctx, dc, unit, opts, started, nil, fmt.Errorf("validator: %w", err))
		}
		if !reportV.Valid {
			return p.fail(ctx, dc, unit, opts, started, nil,
				&domain.ValidationError{UnitID: unit.ID, Issues: reportV.Issues})
		}
	}

	// Deploying
	if err := p.enterPhase(ctx, dc, domain.PhaseDeploying); err != nil {
		return p.fail(ctx, dc, unit, opts, started, nil, err)
	}
	outcome, err := p.deployer.Deploy(ctx, unit, opts)
	if err != nil {
		return p.fail(ctx, dc, unit, opts, started, nil, &domain.DeployError{UnitID: unit.ID, Cause: err})
	}
	p.logger.Info("unit deployed",
		"unit", unit.ID,
		"url", outcome.URL,
		"took", outcome.Duration,
	)

	// Testing
	var tests *domain.TestSummary
	if p.shouldTest(outcome, opts) {
		if err := p.enterPhase(ctx, dc, domain.PhaseTesting); err != nil {
			return p.fail(ctx, dc, unit, opts, started, nil, err)
		}
		tests, err = p.runTests(ctx, unit, outcome.URL, opts)
		if err != nil {
			return p.fail(ctx, dc, unit, opts, started, tests, err)
		}
	}

	// Finalizing
	if err := p.enterPhase(ctx, dc, domain.PhaseFinalizing); err != nil {
		return p.fail(ctx, dc, unit, opts, started, tests, err)
	}
	p.audit(ctx, dc, opts, auditID, domain.AuditSucceeded, map[string]string{"url": outcome.URL})
	dc.Phase = domain.PhaseCompleted
	p.registry.SetPhase(unit.ID, domain.PhaseCompleted)

	result := domain.UnitResult{
		DeploymentID: dc.ID,
		UnitID:       unit.ID,
		Success:      true,
		URL:          outcome.URL,
		Duration:     time.Since(started),
		Tests:        tests,
		AuditID:      auditID,
	}
	p.observer.UnitCompleted(result)
	return result
}

// enterPhase transitions the unit to the given phase, honoring context
// cancellation at the boundary.
func (p *Pipeline) enterPhase(ctx context.Context, dc *domain.DeploymentContext, phase domain.Phase) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("canceled before phase %s: %w", phase, err)
	}
	dc.Phase = phase
	p.registry.SetPhase(dc.UnitID, phase)
	p.observer.UnitPhaseStarted(dc.UnitID, phase)
	p.logger.Debug("phase started", "unit", dc.UnitID, "phase", phase)
	return nil
}

// shouldTest reports whether the testing phase applies: there must be a
// reachable target, testing enabled, and not a dry run.
func (p *Pipeline) shouldTest(outcome *DeployOutcome, opts domain.Options) bool {
	return p.tests != nil && opts.TestingEnabled && !opts.DryRun && outcome.URL != ""
}

// runTests waits out the propagation delay, runs the suite, and
// escalates past the critical failure rate. Non-critical failures are
// logged and do not block finalize.
func (p *Pipeline) runTests(ctx context.Context, unit domain.Unit, target string, opts domain.Options) (*domain.TestSummary, error) {
	if opts.PropagationDelay > 0 {
		timer := time.NewTimer(opts.PropagationDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during propagation delay: %w", ctx.Err())
		case <-timer.C:
		}
	}

	summary, err := p.tests.RunSuite(ctx, target, opts)
	if err != nil {
		return nil, &domain.TestExecutionError{UnitID: unit.ID, Cause: err}
	}

	rate := summary.FailureRate()
	if rate > opts.CriticalTestFailureRate {
		return summary, &domain.CriticalTestFailureError{
			UnitID:      unit.ID,
			Total:       summary.Total,
			Failed:      summary.Failed,
			FailureRate: rate,
			Threshold:   opts.CriticalTestFailureRate,
		}
	}
	if summary.Failed > 0 {
		p.logger.Warn("non-critical test failures",
			"unit", unit.ID,
			"failed", summary.Failed,
			"total", summary.Total,
		)
	}
	return summary, nil
}

// =============================================================================
// Failure Path
// =============================================================================

// refuse builds the failure result for a unit that was never admitted
// into the registry. Nothing was deployed, so nothing is rolled back
// and no audit trail is opened.
func (p *Pipeline) refuse(dc *domain.DeploymentContext, unit domain.Unit, started time.Time, cause error) domain.UnitResult {
	p.logger.Error("unit refused", "unit", unit.ID, "error", cause)
	result := domain.UnitResult{
		DeploymentID: dc.ID,
		UnitID:       unit.ID,
		Success:      false,
		Duration:     time.Since(started),
		Err:          cause,
		Error:        cause.Error(),
	}
	p.observer.UnitFailed(result)
	return result
}

// fail finalizes a failed unit: runs rollback once (when enabled),
// records the audit event, and builds the failure result. The rollback
// outcome is attached but never flips the unit back to success.
func (p *Pipeline) fail(ctx context.Context, dc *domain.DeploymentContext, unit domain.Unit, opts domain.Options, started time.Time, tests *domain.TestSummary, cause error) domain.UnitResult {
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = &domain.TimeoutError{
			UnitID: unit.ID,
			Phase:  dc.Phase,
			Budget: plan.UnitBudget(opts.CoordinationTimeout, opts.BatchSize),
			Cause:  cause,
		}
	}
	p.logger.Error("unit failed", "unit", unit.ID, "phase", dc.Phase, "error", cause)

	var rbResult *domain.RollbackResult
	if opts.Rollback.Enabled && p.rollback != nil {
		dc.Phase = domain.PhaseRollingBack
		p.registry.SetPhase(unit.ID, domain.PhaseRollingBack)
		p.observer.UnitPhaseStarted(unit.ID, domain.PhaseRollingBack)

		// Rollback must still run when the unit failed by timeout or
		// cancellation, so it gets its own budget detached from the
		// unit's context.
		rbCtx := context.WithoutCancel(ctx)
		cancel := context.CancelFunc(func() {})
		if opts.Rollback.Timeout > 0 {
			rbCtx, cancel = context.WithTimeout(rbCtx, opts.Rollback.Timeout)
		}
		var rbErr error
		rbResult, rbErr = p.rollback.Rollback(rbCtx, unit, cause, opts)
		cancel()
		if rbErr != nil {
			p.logger.Error("rollback failed", "unit", unit.ID, "error", rbErr)
		}
	}

	dc.Phase = domain.PhaseFailed
	p.registry.SetPhase(unit.ID, domain.PhaseFailed)
	p.audit(ctx, dc, opts, domain.NewAuditID(), domain.AuditFailed, map[string]string{"error": cause.Error()})

	result := domain.UnitResult{
		DeploymentID: dc.ID,
		UnitID:       unit.ID,
		Success:      false,
		Duration:     time.Since(started),
		Tests:        tests,
		Err:          cause,
		Error:        cause.Error(),
		Rollback:     rbResult,
	}
	p.observer.UnitFailed(result)
	return result
}

// audit records a lifecycle event, logging and continuing on failure.
func (p *Pipeline) audit(ctx context.Context, dc *domain.DeploymentContext, opts domain.Options, auditID string, status domain.AuditStatus, metadata map[string]string) {
	if p.auditor == nil || !opts.AuditEnabled {
		return
	}
	event := domain.AuditEvent{
		AuditID:      auditID,
		DeploymentID: dc.ID,
		UnitID:       dc.UnitID,
		Status:       status,
		Metadata:     metadata,
	}
	if err := p.auditor.RecordEvent(ctx, event); err != nil {
		p.logger.Warn("audit record failed", "unit", dc.UnitID, "status", status, "error", err)
	}
}

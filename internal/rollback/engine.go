// Package rollback executes the retrying, multi-step recovery procedure
// for a unit whose deployment pipeline failed.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlasdeploy/cascade/internal/core/backoff"
	"github.com/atlasdeploy/cascade/internal/core/domain"
	"github.com/atlasdeploy/cascade/internal/core/report"
)

// staleStateAge is the deployment age past which rollback proceeds with
// a warning attached to the result.
const staleStateAge = 24 * time.Hour

// =============================================================================
// Collaborator Contracts
// =============================================================================

// StateStore loads the prior deployment state the engine restores to.
type StateStore interface {
	LoadState(ctx context.Context, unitID string) (*domain.DeploymentState, error)
}

// StepExecutor performs the individual rollback steps against the
// target platform.
type StepExecutor interface {
	// Backup snapshots the unit before rollback and returns a reference
	// usable by CleanupFromBackup.
	Backup(ctx context.Context, unit domain.Unit, prior *domain.DeploymentState) (string, error)
	Stop(ctx context.Context, unit domain.Unit) error
	Restore(ctx context.Context, unit domain.Unit, prior *domain.DeploymentState) error
	Restart(ctx context.Context, unit domain.Unit) error
	// Verify confirms the restored unit is running.
	Verify(ctx context.Context, unit domain.Unit) error
	// CleanupFromBackup best-effort restores the pre-rollback snapshot
	// after a mid-plan step failure.
	CleanupFromBackup(ctx context.Context, unit domain.Unit, backupRef string) error
}

// Checker runs the post-rollback validation checks.
type Checker interface {
	CheckState(ctx context.Context, unit domain.Unit, prior *domain.DeploymentState) error
	CheckConnectivity(ctx context.Context, unit domain.Unit) error
	CheckFunctionality(ctx context.Context, unit domain.Unit) error
}

// Recoverer applies one recovery action derived from a validation issue.
type Recoverer interface {
	Apply(ctx context.Context, unit domain.Unit, category domain.ValidationIssueCategory) error
}

// HistorySink persists finalized rollback results. Persistence failures
// are logged, never fatal.
type HistorySink interface {
	SaveRollbackResult(ctx context.Context, result *domain.RollbackResult) error
}

// =============================================================================
// Engine
// =============================================================================

// Deps bundles the engine's collaborators. States and Steps are
// required; Checks, Recovery, and Sink are optional.
type Deps struct {
	States   StateStore
	Steps    StepExecutor
	Checks   Checker
	Recovery Recoverer
	Sink     HistorySink
	Observer domain.Observer
	Logger   *slog.Logger
}

// Engine drives rollbacks through prepare, the retrying attempt loop,
// validation, recovery, and finalization. Each Engine owns its own
// rollback history; nothing here is process-global.
type Engine struct {
	states   StateStore
	steps    StepExecutor
	checks   Checker
	recovery Recoverer
	sink     HistorySink
	observer domain.Observer
	history  *History
	logger   *slog.Logger
}

// New creates a rollback engine with an empty history.
func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = domain.NopObserver{}
	}
	return &Engine{
		states:   deps.States,
		steps:    deps.Steps,
		checks:   deps.Checks,
		recovery: deps.Recovery,
		sink:     deps.Sink,
		observer: observer,
		history:  NewHistory(),
		logger:   logger.With("component", "rollback"),
	}
}

// History exposes the engine's rollback history for observability.
func (e *Engine) History() *History {
	return e.history
}

// =============================================================================
// Rollback Execution
// =============================================================================

// Rollback runs the full state machine for one failed unit. The result
// is always finalized into the history, even on fatal paths, so the
// audit trail stays complete. The returned error is non-nil for
// infeasible or exhausted rollbacks; validation failure alone is
// reported through the result's Success flag.
func (e *Engine) Rollback(ctx context.Context, unit domain.Unit, cause error, opts domain.Options) (*domain.RollbackResult, error) {
	result := &domain.RollbackResult{
		RollbackID: domain.NewRollbackID(),
		UnitID:     unit.ID,
		StartedAt:  time.Now().UTC(),
	}
	e.logger.Info("rollback started",
		"rollback_id", result.RollbackID,
		"unit", unit.ID,
		"cause", cause,
	)

	// Prepare
	prior, err := e.prepare(ctx, unit, opts, result)
	if err != nil {
		return e.finalize(ctx, result), err
	}

	// Attempt loop
	if err := e.attempt(ctx, unit, prior, opts, result); err != nil {
		return e.finalize(ctx, result), err
	}

	// Validate
	result.Validation = e.validate(ctx, unit, prior, opts)
	result.Success = result.Validation.Validated

	// Recover
	if !result.Success && opts.Rollback.RecoveryEnabled && e.recovery != nil {
		result.Recovery = e.recover(ctx, unit, result.Validation.Issues)
	}

	return e.finalize(ctx, result), nil
}

// prepare loads prior state and runs the feasibility checks. A missing
// prior deployment is fatal. A stale one only warns. A unit whose
// history already reached the rollback cap is infeasible: the engine
// refuses to execute and demands manual intervention.
func (e *Engine) prepare(ctx context.Context, unit domain.Unit, opts domain.Options, result *domain.RollbackResult) (*domain.DeploymentState, error) {
	prior, err := e.states.LoadState(ctx, unit.ID)
	if err != nil {
		return nil, &domain.RollbackInfeasibleError{
			UnitID:   unit.ID,
			Reason:   fmt.Sprintf("prior deployment state unavailable: %v", err),
			Strategy: "manual",
		}
	}

	if age := prior.Age(time.Now()); age > staleStateAge {
		warning := fmt.Sprintf("prior deployment is %s old; restored state may be stale", age.Round(time.Hour))
		result.Warnings = append(result.Warnings, warning)
		e.logger.Warn("stale prior deployment", "unit", unit.ID, "age", age)
	}

	limit := opts.Rollback.MaxHistoryAttempts
	if limit > 0 && e.history.CountForUnit(unit.ID) >= limit {
		return nil, &domain.RollbackInfeasibleError{
			UnitID:   unit.ID,
			Reason:   fmt.Sprintf("unit reached the rollback cap (%d)", limit),
			Strategy: "manual",
		}
	}

	return prior, nil
}

// attempt executes the fixed step plan up to MaxAttempts times with
// exponential backoff between attempts. Any step failure triggers a
// best-effort cleanup from the backup captured in step one, then a
// retry of the whole plan.
func (e *Engine) attempt(ctx context.Context, unit domain.Unit, prior *domain.DeploymentState, opts domain.Options, result *domain.RollbackResult) error {
	maxAttempts := opts.Rollback.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		result.Attempts = n
		att, backupRef, err := e.runPlan(ctx, unit, prior)
		result.LastAttempt = att
		if err == nil {
			return nil
		}
		lastErr = err
		e.logger.Warn("rollback attempt failed",
			"rollback_id", result.RollbackID,
			"unit", unit.ID,
			"attempt", n,
			"error", err,
		)
		e.observer.RollbackAttemptFailed(unit.ID, n, err)

		if backupRef != "" {
			if cleanupErr := e.steps.CleanupFromBackup(ctx, unit, backupRef); cleanupErr != nil {
				e.logger.Warn("backup cleanup failed", "unit", unit.ID, "backup", backupRef, "error", cleanupErr)
			}
		}

		if n == maxAttempts {
			break
		}
		delay := backoff.Delay(n, opts.Rollback.Retry.InitialDelay, opts.Rollback.Retry.BackoffMultiplier, opts.Rollback.Retry.MaxDelay)
		if err := sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("canceled during backoff: %w", err)
			break
		}
	}

	return &domain.RollbackExhaustedError{
		UnitID:   unit.ID,
		Attempts: result.Attempts,
		LastErr:  lastErr,
	}
}

// runPlan executes backup, stop, restore, restart, validate in order,
// recording a StepResult for each. It stops at the first failure and
// returns the backup reference so the caller can clean up.
func (e *Engine) runPlan(ctx context.Context, unit domain.Unit, prior *domain.DeploymentState) (*domain.RollbackAttempt, string, error) {
	att := &domain.RollbackAttempt{}
	var backupRef string

	plan := []struct {
		name string
		run  func(context.Context) error
	}{
		{"backup", func(c context.Context) error {
			ref, err := e.steps.Backup(c, unit, prior)
			backupRef = ref
			return err
		}},
		{"stop", func(c context.Context) error { return e.steps.Stop(c, unit) }},
		{"restore", func(c context.Context) error { return e.steps.Restore(c, unit, prior) }},
		{"restart", func(c context.Context) error { return e.steps.Restart(c, unit) }},
		{"validate", func(c context.Context) error { return e.steps.Verify(c, unit) }},
	}

	for _, step := range plan {
		stepStart := time.Now()
		err := ctx.Err()
		if err == nil {
			err = step.run(ctx)
		}
		sr := domain.StepResult{
			Name:     step.name,
			Success:  err == nil,
			Duration: time.Since(stepStart),
		}
		if err != nil {
			sr.Error = err.Error()
			att.Steps = append(att.Steps, sr)
			att.State = "dirty"
			return att, backupRef, fmt.Errorf("step %s: %w", step.name, err)
		}
		att.Steps = append(att.Steps, sr)
	}

	att.State = "restored"
	return att, backupRef, nil
}

// =============================================================================
// Validation & Recovery
// =============================================================================

// validate runs each enabled check independently. Disabled checks pass
// vacuously and contribute no issues.
func (e *Engine) validate(ctx context.Context, unit domain.Unit, prior *domain.DeploymentState, opts domain.Options) *domain.ValidationOutcome {
	outcome := &domain.ValidationOutcome{Validated: true}
	if e.checks == nil {
		return outcome
	}

	checks := []struct {
		name     domain.ValidationCheck
		category domain.ValidationIssueCategory
		run      func(context.Context) error
	}{
		{domain.CheckState, domain.IssueState, func(c context.Context) error {
			return e.checks.CheckState(c, unit, prior)
		}},
		{domain.CheckConnectivity, domain.IssueConnectivity, func(c context.Context) error {
			return e.checks.CheckConnectivity(c, unit)
		}},
		{domain.CheckFunctionality, domain.IssueFunctionality, func(c context.Context) error {
			return e.checks.CheckFunctionality(c, unit)
		}},
	}

	for _, check := range checks {
		if !opts.Rollback.CheckEnabled(check.name) {
			continue
		}
		outcome.Checked = append(outcome.Checked, check.name)
		if err := check.run(ctx); err != nil {
			outcome.Validated = false
			outcome.Issues = append(outcome.Issues, domain.ValidationIssue{
				Category: check.category,
				Detail:   err.Error(),
			})
		}
	}
	return outcome
}

// recover maps validation issue categories to recovery actions and
// applies each once. Recovery never flips the validated flag; it only
// feeds the recommendations.
func (e *Engine) recover(ctx context.Context, unit domain.Unit, issues []domain.ValidationIssue) *domain.RecoveryOutcome {
	outcome := &domain.RecoveryOutcome{}
	seen := make(map[domain.ValidationIssueCategory]bool)

	for _, issue := range issues {
		if seen[issue.Category] {
			continue
		}
		seen[issue.Category] = true

		name, ok := report.ActionFor(issue.Category)
		if !ok {
			continue
		}
		action := domain.RecoveryAction{Name: name, Category: issue.Category}
		if err := e.recovery.Apply(ctx, unit, issue.Category); err != nil {
			action.Error = err.Error()
			outcome.Failed++
			e.logger.Warn("recovery action failed", "unit", unit.ID, "action", name, "error", err)
		} else {
			action.Success = true
			outcome.Succeeded++
		}
		outcome.Applied = append(outcome.Applied, action)
	}
	return outcome
}

// =============================================================================
// Finalization
// =============================================================================

// finalize assembles the report and recommendations, appends the result
// to the history, and notifies observers. Always called, on every path.
func (e *Engine) finalize(ctx context.Context, result *domain.RollbackResult) *domain.RollbackResult {
	result.Duration = time.Since(result.StartedAt)
	result.Report = report.Build(result)
	result.Recommendations = report.Recommendations(result)

	e.history.Append(result)
	if e.sink != nil {
		if err := e.sink.SaveRollbackResult(ctx, result); err != nil {
			e.logger.Warn("rollback history persistence failed", "rollback_id", result.RollbackID, "error", err)
		}
	}

	e.observer.RollbackFinalized(result)
	e.logger.Info("rollback finalized",
		"rollback_id", result.RollbackID,
		"unit", result.UnitID,
		"success", result.Success,
		"attempts", result.Attempts,
	)
	return result
}

// sleep waits for d, returning early if the context is canceled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrStateNotFound is returned by a StateStore when a unit has no
	// recorded prior deployment.
	ErrStateNotFound = errors.New("no prior deployment state found")

	// ErrUnitAlreadyActive is returned when a unit is submitted while a
	// deployment for the same unit is still in flight.
	ErrUnitAlreadyActive = errors.New("unit already has an active deployment")

	// ErrCoordinationHalted is returned when the continuation policy
	// stops the run before all batches were processed.
	ErrCoordinationHalted = errors.New("coordination halted by continuation policy")
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// CycleError reports a dependency cycle found during resolution.
// UnitID names one participant of the cycle.
type CycleError struct {
	UnitID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected involving unit %q", e.UnitID)
}

// ValidationError reports a failed pre-deployment validation. Issues
// carries the validator's structured findings.
type ValidationError struct {
	UnitID string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for unit %q: %d issue(s)", e.UnitID, len(e.Issues))
}

// DeployError reports a failed deployment call.
type DeployError struct {
	UnitID string
	Cause  error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deployment failed for unit %q: %v", e.UnitID, e.Cause)
}

func (e *DeployError) Unwrap() error { return e.Cause }

// CriticalTestFailureError reports a post-deployment test run whose
// failure rate exceeded the critical threshold.
type CriticalTestFailureError struct {
	UnitID      string
	Total       int
	Failed      int
	FailureRate float64
	Threshold   float64
}

func (e *CriticalTestFailureError) Error() string {
	return fmt.Sprintf("critical test failure for unit %q: %d/%d failed (rate %.2f > %.2f)",
		e.UnitID, e.Failed, e.Total, e.FailureRate, e.Threshold)
}

// RollbackExhaustedError reports a rollback that failed on every attempt.
type RollbackExhaustedError struct {
	UnitID   string
	Attempts int
	LastErr  error
}

func (e *RollbackExhaustedError) Error() string {
	return fmt.Sprintf("rollback exhausted for unit %q after %d attempt(s): %v",
		e.UnitID, e.Attempts, e.LastErr)
}

func (e *RollbackExhaustedError) Unwrap() error { return e.LastErr }

// RollbackInfeasibleError reports a rollback that cannot be executed
// automatically. Strategy names the required remediation (e.g. "manual").
type RollbackInfeasibleError struct {
	UnitID   string
	Reason   string
	Strategy string
}

func (e *RollbackInfeasibleError) Error() string {
	return fmt.Sprintf("rollback infeasible for unit %q: %s (strategy: %s)",
		e.UnitID, e.Reason, e.Strategy)
}

// TimeoutError reports a phase or unit that exceeded its time budget.
type TimeoutError struct {
	UnitID string
	Phase  Phase
	Budget time.Duration
	Cause  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("unit %q timed out in phase %s after %s", e.UnitID, e.Phase, e.Budget)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// TestExecutionError reports a test suite that could not be run at all
// (as opposed to one that ran and had failures).
type TestExecutionError struct {
	UnitID string
	Cause  error
}

func (e *TestExecutionError) Error() string {
	return fmt.Sprintf("test execution failed for unit %q: %v", e.UnitID, e.Cause)
}

func (e *TestExecutionError) Unwrap() error { return e.Cause }

package domain

import "time"

// =============================================================================
// Per-Unit Results
// =============================================================================

// TestSummary reports the outcome of a post-deployment test suite.
type TestSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// FailureRate returns failed/total, or 0 for an empty suite.
func (s TestSummary) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total)
}

// UnitResult is the final per-unit outcome returned by the pipeline.
type UnitResult struct {
	DeploymentID string          `json:"deployment_id"`
	UnitID       string          `json:"unit_id"`
	Success      bool            `json:"success"`
	URL          string          `json:"url,omitempty"`
	Duration     time.Duration   `json:"duration"`
	Tests        *TestSummary    `json:"tests,omitempty"`
	AuditID      string          `json:"audit_id,omitempty"`
	Err          error           `json:"-"`
	Error        string          `json:"error,omitempty"`
	Rollback     *RollbackResult `json:"rollback,omitempty"`
}

// =============================================================================
// Batch Results
// =============================================================================

// BatchResult aggregates one batch's unit outcomes. Immutable after the
// batch completes.
type BatchResult struct {
	Index      int           `json:"index"`
	Size       int           `json:"size"`
	Successful []UnitResult  `json:"successful"`
	Failed     []UnitResult  `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

// FailureRate returns failed/size, or 0 for an empty batch.
func (b BatchResult) FailureRate() float64 {
	if b.Size == 0 {
		return 0
	}
	return float64(len(b.Failed)) / float64(b.Size)
}

// =============================================================================
// Coordination Result
// =============================================================================

// CoordinationResult is the aggregated outcome of a full run.
// Units in batches skipped by the continuation policy appear in neither
// list.
type CoordinationResult struct {
	CoordinationID string        `json:"coordination_id"`
	Strategy       string        `json:"strategy"`
	Successful     []UnitResult  `json:"successful"`
	Failed         []UnitResult  `json:"failed"`
	Batches        []BatchResult `json:"batches"`
	Halted         bool          `json:"halted"`
	Duration       time.Duration `json:"duration"`
}

// Success reports whether every processed unit deployed cleanly.
func (r CoordinationResult) Success() bool {
	return len(r.Failed) == 0 && !r.Halted
}

// =============================================================================
// Rollback Results
// =============================================================================

// StepResult records one step of a rollback attempt.
type StepResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RollbackAttempt records one iteration of the rollback step plan.
// Only the last attempt is retained in the final RollbackResult.
type RollbackAttempt struct {
	Number int          `json:"number"`
	Steps  []StepResult `json:"steps"`
	// State captures the unit's post-attempt state description.
	State string `json:"state,omitempty"`
}

// ValidationIssueCategory classifies a post-rollback validation finding.
type ValidationIssueCategory string

const (
	IssueState         ValidationIssueCategory = "state"
	IssueConnectivity  ValidationIssueCategory = "connectivity"
	IssueFunctionality ValidationIssueCategory = "functionality"
)

// ValidationIssue is one post-rollback validation finding.
type ValidationIssue struct {
	Category ValidationIssueCategory `json:"category"`
	Detail   string                  `json:"detail"`
}

// ValidationOutcome reports the post-rollback validation phase.
// Disabled checks are vacuously passing and do not contribute issues.
type ValidationOutcome struct {
	Validated bool              `json:"validated"`
	Checked   []ValidationCheck `json:"checked"`
	Issues    []ValidationIssue `json:"issues,omitempty"`
}

// RecoveryAction is one remediation derived from a validation issue.
type RecoveryAction struct {
	Name     string                  `json:"name"`
	Category ValidationIssueCategory `json:"category"`
	Success  bool                    `json:"success"`
	Error    string                  `json:"error,omitempty"`
}

// RecoveryOutcome reports the optional post-validation recovery phase.
type RecoveryOutcome struct {
	Applied   []RecoveryAction `json:"applied"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// RollbackResult is the final record of one rollback execution.
// Success derives solely from validation, never from recovery.
type RollbackResult struct {
	RollbackID      string             `json:"rollback_id"`
	UnitID          string             `json:"unit_id"`
	Success         bool               `json:"success"`
	Attempts        int                `json:"attempts"`
	LastAttempt     *RollbackAttempt   `json:"last_attempt,omitempty"`
	Duration        time.Duration      `json:"duration"`
	Validation      *ValidationOutcome `json:"validation,omitempty"`
	Recovery        *RecoveryOutcome   `json:"recovery,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
	Report          string             `json:"report"`
	Recommendations []string           `json:"recommendations,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
}

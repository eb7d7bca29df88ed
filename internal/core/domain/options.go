package domain

import "time"

// =============================================================================
// Options
// =============================================================================

// RetryOptions configure the backoff between rollback attempts.
type RetryOptions struct {
	InitialDelay      time.Duration `json:"initial_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxDelay          time.Duration `json:"max_delay"`
}

// ValidationCheck names one rollback validation check.
type ValidationCheck string

const (
	CheckState         ValidationCheck = "state"
	CheckConnectivity  ValidationCheck = "connectivity"
	CheckFunctionality ValidationCheck = "functionality"
)

// RollbackOptions configure rollback behavior.
type RollbackOptions struct {
	Enabled         bool              `json:"enabled"`
	MaxAttempts     int               `json:"max_attempts"`
	Timeout         time.Duration     `json:"timeout"`
	Retry           RetryOptions      `json:"retry"`
	Checks          []ValidationCheck `json:"checks"`
	RecoveryEnabled bool              `json:"recovery_enabled"`
	// MaxHistoryAttempts caps how many rollbacks a single unit may
	// accumulate across its history before automatic rollback is
	// declared infeasible.
	MaxHistoryAttempts int `json:"max_history_attempts"`
}

// CheckEnabled reports whether the named check is configured.
func (o RollbackOptions) CheckEnabled(c ValidationCheck) bool {
	for _, enabled := range o.Checks {
		if enabled == c {
			return true
		}
	}
	return false
}

// Options is the full configuration surface of a coordination run.
// All values have working defaults; see DefaultOptions.
type Options struct {
	// BatchSize is the number of units deployed concurrently per batch.
	BatchSize int `json:"batch_size"`

	// CoordinationTimeout is the global budget for the whole run,
	// divided flatly across the units of each batch.
	CoordinationTimeout time.Duration `json:"coordination_timeout"`

	// ContinuationThreshold is the per-batch failure rate above which
	// no further batches are scheduled.
	ContinuationThreshold float64 `json:"continuation_threshold"`

	// AllowUnordered allows the coordinator to fall back to submission
	// order when dependency resolution fails. Off by default: a cycle
	// aborts the run.
	AllowUnordered bool `json:"allow_unordered"`

	// Strategy tags the run for reporting ("rolling", "canary", ...).
	Strategy string `json:"strategy"`

	// Environment names the target environment ("production", ...).
	Environment string `json:"environment"`

	// ValidationEnabled gates the pre-deployment validation phase.
	ValidationEnabled bool `json:"validation_enabled"`

	// Force skips validation even when it is enabled.
	Force bool `json:"force"`

	// TestingEnabled gates the post-deployment test phase.
	TestingEnabled bool `json:"testing_enabled"`

	// DryRun deploys without running post-deployment tests.
	DryRun bool `json:"dry_run"`

	// PropagationDelay is how long to wait after a deploy before
	// running the test suite against the new target.
	PropagationDelay time.Duration `json:"propagation_delay"`

	// CriticalTestFailureRate is the test failure rate above which a
	// unit is failed outright.
	CriticalTestFailureRate float64 `json:"critical_test_failure_rate"`

	// AuditEnabled gates audit event recording.
	AuditEnabled bool `json:"audit_enabled"`

	Rollback RollbackOptions `json:"rollback"`
}

// DefaultOptions returns the documented default configuration.
func DefaultOptions() Options {
	return Options{
		BatchSize:               3,
		CoordinationTimeout:     30 * time.Minute,
		ContinuationThreshold:   0.5,
		AllowUnordered:          false,
		Strategy:                "rolling",
		Environment:             "production",
		ValidationEnabled:       true,
		TestingEnabled:          true,
		PropagationDelay:        5 * time.Second,
		CriticalTestFailureRate: 0.5,
		AuditEnabled:            true,
		Rollback: RollbackOptions{
			Enabled:     true,
			MaxAttempts: 3,
			Timeout:     5 * time.Minute,
			Retry: RetryOptions{
				InitialDelay:      5 * time.Second,
				BackoffMultiplier: 2,
				MaxDelay:          60 * time.Second,
			},
			Checks:             []ValidationCheck{CheckState, CheckConnectivity, CheckFunctionality},
			RecoveryEnabled:    true,
			MaxHistoryAttempts: 3,
		},
	}
}

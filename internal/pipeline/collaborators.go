package pipeline

import (
	"context"
	"time"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Collaborator Contracts
// =============================================================================

// DeployOutcome is what a Deployer reports on success.
type DeployOutcome struct {
	// URL is the reachable target of the new deployment, empty when the
	// deployer produced nothing probeable.
	URL      string
	Duration time.Duration
}

// Deployer performs the actual platform deployment of one unit.
type Deployer interface {
	Deploy(ctx context.Context, unit domain.Unit, opts domain.Options) (*DeployOutcome, error)
}

// ValidationReport is what a Validator reports.
type ValidationReport struct {
	Valid  bool
	Issues []string
}

// Validator runs pre-deployment checks for one unit.
type Validator interface {
	Validate(ctx context.Context, unit domain.Unit, opts domain.Options) (*ValidationReport, error)
}

// TestRunner executes the post-deployment test suite against a target.
type TestRunner interface {
	RunSuite(ctx context.Context, target string, opts domain.Options) (*domain.TestSummary, error)
}

// Auditor records deployment lifecycle events. Failures are logged and
// swallowed; auditing never blocks the pipeline.
type Auditor interface {
	RecordEvent(ctx context.Context, event domain.AuditEvent) error
}

// RollbackRunner remediates a failed unit. The pipeline records the
// outcome but the unit stays failed regardless.
type RollbackRunner interface {
	Rollback(ctx context.Context, unit domain.Unit, cause error, opts domain.Options) (*domain.RollbackResult, error)
}

package domain

import "time"

// =============================================================================
// Coordination Context
// =============================================================================

// CoordinationContext is the per-run bookkeeping record. It is owned by
// the coordinator for the lifetime of the run and discarded afterwards.
type CoordinationContext struct {
	ID        string    `json:"id"`
	Units     []Unit    `json:"units"`
	Strategy  string    `json:"strategy"`
	StartedAt time.Time `json:"started_at"`
	Options   Options   `json:"options"`
}

// NewCoordinationContext creates the context for one coordination run.
func NewCoordinationContext(units []Unit, opts Options) *CoordinationContext {
	return &CoordinationContext{
		ID:        NewCoordinationID(),
		Units:     units,
		Strategy:  opts.Strategy,
		StartedAt: time.Now().UTC(),
		Options:   opts,
	}
}

// =============================================================================
// Deployment Context
// =============================================================================

// DeploymentContext is the per-unit, per-attempt bookkeeping record.
// It is registered in the active-deployment registry for observability
// and removed when the pipeline finishes, success or failure.
type DeploymentContext struct {
	ID             string    `json:"id"`
	CoordinationID string    `json:"coordination_id"`
	UnitID         string    `json:"unit_id"`
	Environment    string    `json:"environment"`
	Phase          Phase     `json:"phase"`
	StartedAt      time.Time `json:"started_at"`
}

// NewDeploymentContext creates the context for one unit deployment attempt.
func NewDeploymentContext(coordinationID string, unit Unit, opts Options) *DeploymentContext {
	return &DeploymentContext{
		ID:             NewDeploymentID(),
		CoordinationID: coordinationID,
		UnitID:         unit.ID,
		Environment:    opts.Environment,
		Phase:          PhaseInitializing,
		StartedAt:      time.Now().UTC(),
	}
}

// =============================================================================
// Pipeline Phases
// =============================================================================

// Phase is a state of the per-unit deployment pipeline.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseValidating   Phase = "validating"
	PhaseDeploying    Phase = "deploying"
	PhaseTesting      Phase = "testing"
	PhaseFinalizing   Phase = "finalizing"
	PhaseCompleted    Phase = "completed"
	PhaseRollingBack  Phase = "rolling_back"
	PhaseFailed       Phase = "failed"
)

// Package domain contains the shared data model for rollout coordination.
//
// Everything in this package is plain data: units, per-run and per-unit
// contexts, batch and rollback results, and the error taxonomy. No I/O
// happens here.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Unit
// =============================================================================

// Unit is one independently deployable target participating in a
// coordination run. Immutable once submitted.
type Unit struct {
	// ID uniquely identifies the unit within a run (e.g. a service name).
	ID string `json:"id"`

	// Needs lists the IDs of units that must deploy before this one.
	Needs []string `json:"needs,omitempty"`

	// Image is the container image to deploy, when the Docker deployer
	// is in use. Other deployers may ignore it.
	Image string `json:"image,omitempty"`

	// Target is an optional endpoint hint (host:port or URL path) used
	// by probes after deployment.
	Target string `json:"target,omitempty"`

	// Env carries unit-scoped environment variables for the deployer.
	Env map[string]string `json:"env,omitempty"`
}

// =============================================================================
// Deployment State (prior state loaded by the rollback engine)
// =============================================================================

// DeploymentState is the persisted record of a unit's last successful
// deployment. The rollback engine restores to this state.
type DeploymentState struct {
	UnitID     string            `json:"unit_id"`
	Image      string            `json:"image"`
	URL        string            `json:"url,omitempty"`
	DeployedAt time.Time         `json:"deployed_at"`
	Rollbacks  int               `json:"rollbacks"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Age returns how long ago the state was recorded.
func (s *DeploymentState) Age(now time.Time) time.Duration {
	return now.Sub(s.DeployedAt)
}

// =============================================================================
// ID Generation
// =============================================================================

// NewCoordinationID generates a unique ID for a coordination run.
func NewCoordinationID() string {
	return "coord-" + uuid.New().String()
}

// NewDeploymentID generates a unique ID for a per-unit deployment attempt.
func NewDeploymentID() string {
	return "deploy-" + uuid.New().String()
}

// NewRollbackID generates a unique ID for a rollback execution.
func NewRollbackID() string {
	return "rollback-" + uuid.New().String()
}

// NewAuditID generates a short ID for audit event correlation.
func NewAuditID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "audit-" + uuid.New().String()[:16]
	}
	return "audit-" + hex.EncodeToString(b)
}

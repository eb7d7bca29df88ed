// Package docker deploys rollout units as containers and performs the
// container-level rollback steps.
package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Labels & Naming
// =============================================================================

const (
	// LabelManaged marks containers owned by cascade.
	LabelManaged = "cascade.managed"
	// LabelUnit carries the unit ID a container belongs to.
	LabelUnit = "cascade.unit"
)

// ContainerName returns the deterministic container name for a unit.
func ContainerName(unitID string) string {
	return "cascade-" + unitID
}

// BackupReference returns the image tag used for pre-rollback snapshots.
func BackupReference(unitID string) string {
	return fmt.Sprintf("cascade-backup/%s:latest", unitID)
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrConnectionFailed is returned when the Docker daemon is unreachable.
	ErrConnectionFailed = errors.New("docker connection failed")

	// ErrContainerNotFound is returned when no container exists for a unit.
	ErrContainerNotFound = errors.New("container not found")

	// ErrNoImage is returned when a unit declares no deployable image.
	ErrNoImage = errors.New("unit has no image")
)

// DockerError wraps Docker operations with unit context.
type DockerError struct {
	Op      string
	UnitID  string
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.UnitID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.UnitID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

package docker

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// =============================================================================
// Rollback Step Executor
// =============================================================================

// Backup snapshots the unit's current container as an image and returns
// its reference. With no container to snapshot there is nothing to
// back up; the empty reference tells the engine to skip cleanup.
func (d *Deployer) Backup(ctx context.Context, unit domain.Unit, prior *domain.DeploymentState) (string, error) {
	id, err := d.findContainer(ctx, unit.ID)
	if err != nil {
		return "", nil
	}

	ref := BackupReference(unit.ID)
	if _, err := d.cli.ContainerCommit(ctx, id, container.CommitOptions{Reference: ref}); err != nil {
		return "", &DockerError{Op: "Backup", UnitID: unit.ID, Message: fmt.Sprintf("commit: %v", err), Err: err}
	}
	d.logger.Debug("backup created", "unit", unit.ID, "image", ref)
	return ref, nil
}

// Stop stops the unit's container. A missing container is already
// stopped for rollback purposes.
func (d *Deployer) Stop(ctx context.Context, unit domain.Unit) error {
	id, err := d.findContainer(ctx, unit.ID)
	if err != nil {
		return nil
	}
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return &DockerError{Op: "Stop", UnitID: unit.ID, Message: fmt.Sprintf("stop: %v", err), Err: err}
	}
	return nil
}

// Restore replaces the unit's container with one created from the prior
// deployment's image, rebinding the prior published port so the old URL
// stays valid.
func (d *Deployer) Restore(ctx context.Context, unit domain.Unit, prior *domain.DeploymentState) error {
	if prior.Image == "" {
		return &DockerError{Op: "Restore", UnitID: unit.ID, Message: "prior state has no image", Err: ErrNoImage}
	}

	if id, err := d.findContainer(ctx, unit.ID); err == nil {
		if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			return &DockerError{Op: "Restore", UnitID: unit.ID, Message: fmt.Sprintf("remove: %v", err), Err: err}
		}
	}

	d.pullImage(ctx, prior.Image)

	config := &container.Config{
		Image: prior.Image,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelUnit:    unit.ID,
		},
	}
	hostConfig := &container.HostConfig{PublishAllPorts: true}
	if port := hostPortFromURL(prior.URL); port != "" {
		hostConfig.PublishAllPorts = false
		hostConfig.PortBindings = nat.PortMap{
			nat.Port(port + "/tcp"): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: port}},
		}
		config.ExposedPorts = nat.PortSet{nat.Port(port + "/tcp"): struct{}{}}
	}

	if _, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, ContainerName(unit.ID)); err != nil {
		return &DockerError{Op: "Restore", UnitID: unit.ID, Message: fmt.Sprintf("create: %v", err), Err: err}
	}
	return nil
}

// Restart starts the unit's restored container.
func (d *Deployer) Restart(ctx context.Context, unit domain.Unit) error {
	id, err := d.findContainer(ctx, unit.ID)
	if err != nil {
		return err
	}
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return &DockerError{Op: "Restart", UnitID: unit.ID, Message: fmt.Sprintf("start: %v", err), Err: err}
	}
	return nil
}

// Verify confirms the unit's container is running.
func (d *Deployer) Verify(ctx context.Context, unit domain.Unit) error {
	id, err := d.findContainer(ctx, unit.ID)
	if err != nil {
		return err
	}
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return &DockerError{Op: "Verify", UnitID: unit.ID, Message: fmt.Sprintf("inspect: %v", err), Err: err}
	}
	if info.State == nil || !info.State.Running {
		return &DockerError{Op: "Verify", UnitID: unit.ID, Message: "container is not running", Err: ErrContainerNotFound}
	}
	return nil
}

// CleanupFromBackup best-effort recreates the unit's container from the
// pre-rollback snapshot after a failed plan.
func (d *Deployer) CleanupFromBackup(ctx context.Context, unit domain.Unit, backupRef string) error {
	if id, err := d.findContainer(ctx, unit.ID); err == nil {
		_ = d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	}

	config := &container.Config{
		Image: backupRef,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelUnit:    unit.ID,
		},
	}
	resp, err := d.cli.ContainerCreate(ctx, config, &container.HostConfig{PublishAllPorts: true}, nil, nil, ContainerName(unit.ID))
	if err != nil {
		return &DockerError{Op: "CleanupFromBackup", UnitID: unit.ID, Message: fmt.Sprintf("create: %v", err), Err: err}
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return &DockerError{Op: "CleanupFromBackup", UnitID: unit.ID, Message: fmt.Sprintf("start: %v", err), Err: err}
	}
	return nil
}

// hostPortFromURL extracts the port from URLs like http://localhost:32768.
func hostPortFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	port := u.Port()
	if port == "" && strings.Contains(u.Host, ":") {
		parts := strings.Split(u.Host, ":")
		port = parts[len(parts)-1]
	}
	return port
}

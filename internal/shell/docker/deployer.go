package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/atlasdeploy/cascade/internal/core/domain"
	"github.com/atlasdeploy/cascade/internal/pipeline"
)

// =============================================================================
// Deployer
// =============================================================================

// Deployer deploys units as Docker containers. It implements
// pipeline.Deployer and the rollback engine's step executor.
type Deployer struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewDeployer creates a Docker deployer. An empty host uses the
// environment's default daemon.
func NewDeployer(host string, logger *slog.Logger) (*Deployer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, &DockerError{Op: "NewDeployer", Message: "failed to create client", Err: ErrConnectionFailed}
	}
	if _, err := cli.Ping(context.Background()); err != nil {
		cli.Close()
		return nil, &DockerError{Op: "NewDeployer", Message: fmt.Sprintf("daemon unreachable: %v", err), Err: ErrConnectionFailed}
	}

	return &Deployer{cli: cli, logger: logger.With("component", "docker")}, nil
}

// Close closes the Docker client connection.
func (d *Deployer) Close() error {
	return d.cli.Close()
}

// Deploy pulls the unit's image, replaces any existing container for
// the unit, starts the new one, and reports its reachable URL.
func (d *Deployer) Deploy(ctx context.Context, unit domain.Unit, opts domain.Options) (*pipeline.DeployOutcome, error) {
	started := time.Now()

	if unit.Image == "" {
		return nil, &DockerError{Op: "Deploy", UnitID: unit.ID, Message: "no image declared", Err: ErrNoImage}
	}

	d.pullImage(ctx, unit.Image)

	// Replace the previous container for this unit, if any.
	if prev, err := d.findContainer(ctx, unit.ID); err == nil {
		d.logger.Debug("removing previous container", "unit", unit.ID, "container", prev)
		if err := d.cli.ContainerRemove(ctx, prev, container.RemoveOptions{Force: true}); err != nil {
			return nil, &DockerError{Op: "Deploy", UnitID: unit.ID, Message: fmt.Sprintf("remove previous container: %v", err), Err: err}
		}
	}

	id, err := d.createContainer(ctx, unit, unit.Image)
	if err != nil {
		return nil, err
	}
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, &DockerError{Op: "Deploy", UnitID: unit.ID, Message: fmt.Sprintf("start container: %v", err), Err: err}
	}

	url := unit.Target
	if url == "" {
		url = d.publishedURL(ctx, id)
	}

	d.logger.Info("container deployed",
		"unit", unit.ID,
		"container", shortID(id),
		"image", unit.Image,
		"url", url,
	)
	return &pipeline.DeployOutcome{URL: url, Duration: time.Since(started)}, nil
}

// pullImage refreshes the image, logging and continuing on failure so a
// locally cached image still deploys.
func (d *Deployer) pullImage(ctx context.Context, ref string) {
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		d.logger.Warn("image pull failed, trying cached image", "image", ref, "error", err)
		return
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
}

// createContainer creates the unit's container with cascade labels and
// all exposed ports published on ephemeral host ports.
func (d *Deployer) createContainer(ctx context.Context, unit domain.Unit, imageRef string) (string, error) {
	env := make([]string, 0, len(unit.Env))
	for k, v := range unit.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	config := &container.Config{
		Image: imageRef,
		Env:   env,
		Labels: map[string]string{
			LabelManaged: "true",
			LabelUnit:    unit.ID,
		},
	}
	hostConfig := &container.HostConfig{PublishAllPorts: true}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, ContainerName(unit.ID))
	if err != nil {
		return "", &DockerError{Op: "createContainer", UnitID: unit.ID, Message: fmt.Sprintf("create: %v", err), Err: err}
	}
	return resp.ID, nil
}

// findContainer returns the ID of the unit's container.
func (d *Deployer) findContainer(ctx context.Context, unitID string) (string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", fmt.Sprintf("%s=%s", LabelUnit, unitID)),
		),
	})
	if err != nil {
		return "", &DockerError{Op: "findContainer", UnitID: unitID, Message: fmt.Sprintf("list: %v", err), Err: err}
	}
	if len(containers) == 0 {
		return "", &DockerError{Op: "findContainer", UnitID: unitID, Message: "no container", Err: ErrContainerNotFound}
	}
	return containers[0].ID, nil
}

// publishedURL derives a reachable URL from the container's first
// published port, or empty when nothing is published.
func (d *Deployer) publishedURL(ctx context.Context, containerID string) string {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil || info.NetworkSettings == nil {
		return ""
	}
	for _, bindings := range info.NetworkSettings.Ports {
		for _, binding := range bindings {
			if binding.HostPort != "" {
				return fmt.Sprintf("http://localhost:%s", binding.HostPort)
			}
		}
	}
	return ""
}

// shortID truncates a container ID for logging.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

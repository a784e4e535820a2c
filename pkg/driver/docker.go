package driver

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"modelswitchd/pkg/errors"
	"modelswitchd/pkg/log"
	"modelswitchd/pkg/models"
)

const stopTimeoutSeconds = 15

// DockerDriver drives backend services through the Docker API. Services are
// addressed by their fixed container name. The driver never creates
// containers: a missing container is an operator problem, not something to
// paper over.
type DockerDriver struct {
	docker *client.Client
}

func NewDockerDriver() (*DockerDriver, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	docker.NegotiateAPIVersion(context.Background())

	return &DockerDriver{docker: docker}, nil
}

func (d *DockerDriver) inspect(ctx context.Context, service string) (*types.ContainerJSON, error) {
	info, err := d.docker.ContainerInspect(ctx, service)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("inspecting container %s: %w", service, err)
	}

	return &info, nil
}

// Status maps the container's runtime state onto the controller's status
// set. Containers without a healthcheck count as healthy once running.
func (d *DockerDriver) Status(ctx context.Context, service string) (models.ServiceStatus, error) {
	info, err := d.inspect(ctx, service)
	if err != nil {
		return "", err
	}

	if info == nil {
		return models.StatusAbsent, nil
	}

	if info.State == nil || !info.State.Running {
		return models.StatusStopped, nil
	}

	if info.State.Health == nil {
		return models.StatusHealthy, nil
	}

	switch info.State.Health.Status {
	case types.Healthy:
		return models.StatusHealthy, nil
	case types.Starting:
		return models.StatusStarting, nil
	default:
		return models.StatusUnhealthy, nil
	}
}

// Start starts the named service. It is a no-op when the container is
// already running, and fails when the container was never created.
func (d *DockerDriver) Start(ctx context.Context, service string) error {
	info, err := d.inspect(ctx, service)
	if err != nil {
		return err
	}

	if info == nil {
		return errors.NewBackendAbsent(service)
	}

	if info.State != nil && info.State.Running {
		return nil
	}

	if err := d.docker.ContainerStart(ctx, service, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", service, err)
	}

	return nil
}

// Stop stops the named service. Already-stopped and never-created services
// are tolerated.
func (d *DockerDriver) Stop(ctx context.Context, service string) error {
	info, err := d.inspect(ctx, service)
	if err != nil {
		return err
	}

	if info == nil || info.State == nil || !info.State.Running {
		return nil
	}

	timeout := stopTimeoutSeconds
	if err := d.docker.ContainerStop(ctx, service, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", service, err)
	}

	return nil
}

// Restart bounces the named service, used to make the gateway reload its
// routing configuration.
func (d *DockerDriver) Restart(ctx context.Context, service string) error {
	info, err := d.inspect(ctx, service)
	if err != nil {
		return err
	}

	if info == nil {
		return errors.NewBackendAbsent(service)
	}

	timeout := stopTimeoutSeconds
	if err := d.docker.ContainerRestart(ctx, service, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", service, err)
	}

	return nil
}

// Logs returns up to tail lines of the service's combined output with the
// docker stream multiplexing stripped.
func (d *DockerDriver) Logs(ctx context.Context, service string, tail int) (string, error) {
	logger := log.GetLogger(ctx).WithField("service", service)

	reader, err := d.docker.ContainerLogs(ctx, service, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", errors.NewBackendAbsent(service)
		}

		return "", fmt.Errorf("fetching logs for %s: %w", service, err)
	}
	defer reader.Close()

	buf := &bytes.Buffer{}
	if _, err := stdcopy.StdCopy(buf, buf, reader); err != nil {
		logger.WithError(err).Warn("failed to demultiplex log stream, returning raw output")
	}

	return buf.String(), nil
}

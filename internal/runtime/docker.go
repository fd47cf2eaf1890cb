package runtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// DockerConfig holds configuration for the Docker runtime.
type DockerConfig struct {
	// Image is the scraper image every job runs, parameterized by the
	// scraper module name passed on the command line.
	Image string

	// Env is injected into every container (credentials etc.).
	Env map[string]string

	// MemoryLimitBytes caps container memory. Zero means unlimited.
	MemoryLimitBytes int64

	// CPUQuota in microseconds per 100ms period. Zero means unlimited.
	CPUQuota int64
}

// DockerRuntime implements the Runtime interface using the Docker SDK.
type DockerRuntime struct {
	client *client.Client
	config DockerConfig
}

// DockerHandle represents a running container.
type DockerHandle struct {
	client      *client.Client
	containerID string
}

// NewDockerRuntime creates a new Docker-based runtime. The client is
// initialized from the standard environment (DOCKER_HOST, etc.).
func NewDockerRuntime(cfg DockerConfig) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if cfg.MemoryLimitBytes == 0 {
		cfg.MemoryLimitBytes = 2 << 30 // 2 GiB
	}
	if cfg.CPUQuota == 0 {
		cfg.CPUQuota = 100000 // one core
	}
	return &DockerRuntime{client: cli, config: cfg}, nil
}

func mapToEnvList(m map[string]string) []string {
	var env []string
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// containerConfig builds the create configs for a scraper container.
// Tty is on so ContainerLogs serves a plain byte stream instead of the
// stdcopy-multiplexed framing, which the line scanner cannot parse.
func (d *DockerRuntime) containerConfig(opts StartOptions) (*container.Config, *container.HostConfig) {
	env := map[string]string{
		"PYTHONUNBUFFERED": "1",
	}
	for k, v := range d.config.Env {
		env[k] = v
	}
	for k, v := range opts.Env {
		env[k] = v
	}

	cfg := &container.Config{
		Image:      d.config.Image,
		Cmd:        []string{"python", "-m", fmt.Sprintf("app.cpt_automated_scripts.%s.main", opts.ScraperType)},
		Env:        mapToEnvList(env),
		Tty:        true,
		WorkingDir: "/app",
		Labels: map[string]string{
			"scraperd/job-id":       opts.JobID,
			"scraperd/scraper-type": opts.ScraperType,
		},
	}
	host := &container.HostConfig{
		Resources: container.Resources{
			Memory:    d.config.MemoryLimitBytes,
			CPUQuota:  d.config.CPUQuota,
			CPUPeriod: 100000,
		},
		NetworkMode: "bridge",
	}
	return cfg, host
}

// Start implements Runtime.Start using Docker containers.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	// Pull the image only if it is not present locally.
	if _, err := d.client.ImageInspect(ctx, d.config.Image); err != nil {
		reader, err := d.client.ImagePull(ctx, d.config.Image, image.PullOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to pull image %s: %w", d.config.Image, err)
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	name := fmt.Sprintf("scraper-%s", opts.JobID)

	// A stale container from a crashed earlier run can still hold the
	// name. Remove it before creating the new one.
	if err := d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return nil, fmt.Errorf("failed to remove stale container %s: %w", name, err)
	}

	containerConfig, hostConfig := d.containerConfig(opts)

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Don't leak the created-but-unstarted container.
		d.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	return &DockerHandle{client: d.client, containerID: resp.ID}, nil
}

// ID returns the container id.
func (h *DockerHandle) ID() string {
	return h.containerID
}

// Wait blocks until the container is no longer running.
func (h *DockerHandle) Wait(ctx context.Context) (ExitResult, error) {
	statusCh, errCh := h.client.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return ExitResult{ExitCode: -1, Error: err}, err
	case status := <-statusCh:
		if status.Error != nil {
			return ExitResult{
				ExitCode: int(status.StatusCode),
				Error:    fmt.Errorf("%s", status.Error.Message),
			}, nil
		}
		return ExitResult{ExitCode: int(status.StatusCode)}, nil
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

// Stop asks the container to exit, killing it after the grace period.
func (h *DockerHandle) Stop(ctx context.Context, grace time.Duration) error {
	timeout := int(grace.Seconds())
	return h.client.ContainerStop(ctx, h.containerID, container.StopOptions{Timeout: &timeout})
}

// Kill terminates the container immediately.
func (h *DockerHandle) Kill(ctx context.Context) error {
	return h.client.ContainerKill(ctx, h.containerID, "KILL")
}

// Remove deletes the container.
func (h *DockerHandle) Remove(ctx context.Context) error {
	return h.client.ContainerRemove(ctx, h.containerID, container.RemoveOptions{Force: true})
}

// StreamLogs returns a follow stream of the container's output.
func (h *DockerHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	return h.client.ContainerLogs(ctx, h.containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
}

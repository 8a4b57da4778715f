// Package docker drives the Docker CLI on a target machine through an
// executor, so the same calls work locally and over SSH.
package docker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alessio/shellescape"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/mount"
	"github.com/rs/zerolog"

	"github.com/ypeckstadt/dhom/internal/executor"
)

// Client wraps the docker CLI on one target.
type Client struct {
	exec   executor.Executor
	logger zerolog.Logger
}

// NewClient creates a Docker CLI wrapper running commands through exec.
func NewClient(exec executor.Executor, logger zerolog.Logger) *Client {
	return &Client{
		exec:   exec,
		logger: logger.With().Str("component", "docker").Logger(),
	}
}

func (c *Client) run(ctx context.Context, command string) (*executor.Result, error) {
	c.logger.Debug().Str("command", command).Msg("Running docker command")
	return executor.RunChecked(ctx, c.exec, command)
}

// ListRunning returns the IDs of running containers in docker's order.
func (c *Client) ListRunning(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, "docker ps -q")
	if err != nil {
		return nil, fmt.Errorf("failed to list running containers: %w", err)
	}
	return res.Lines(), nil
}

// ListContainers returns the names of all containers, running or not.
func (c *Client) ListContainers(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, "docker ps -a --format '{{.Names}}'")
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return res.Lines(), nil
}

// ListVolumes returns the names of all named volumes.
func (c *Client) ListVolumes(ctx context.Context) ([]string, error) {
	res, err := c.run(ctx, "docker volume ls --format '{{.Name}}'")
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	return res.Lines(), nil
}

// Stop stops a container.
func (c *Client) Stop(ctx context.Context, id string) error {
	if _, err := c.run(ctx, "docker stop "+shellescape.Quote(id)); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

// Start starts a container.
func (c *Client) Start(ctx context.Context, id string) error {
	if _, err := c.run(ctx, "docker start "+shellescape.Quote(id)); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// BindMounts returns the host source paths of a container's bind mounts.
func (c *Client) BindMounts(ctx context.Context, container string) ([]string, error) {
	res, err := c.run(ctx, "docker inspect --type container "+shellescape.Quote(container))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", container, err)
	}
	return ParseBindMounts([]byte(res.Stdout))
}

// ParseBindMounts extracts bind mount sources from `docker inspect` output.
func ParseBindMounts(data []byte) ([]string, error) {
	var containers []types.ContainerJSON
	if err := json.Unmarshal(data, &containers); err != nil {
		return nil, fmt.Errorf("failed to decode inspect output: %w", err)
	}

	var sources []string
	for _, ctr := range containers {
		for _, m := range ctr.Mounts {
			if m.Type == mount.TypeBind && m.Source != "" {
				sources = append(sources, m.Source)
			}
		}
	}
	return sources, nil
}

// VolumeExists reports whether a named volume exists.
func (c *Client) VolumeExists(ctx context.Context, name string) (bool, error) {
	command := "docker volume inspect " + shellescape.Quote(name)
	res, err := c.exec.Run(ctx, command)
	if err != nil {
		return false, err
	}
	return res.Success(), nil
}

// CreateVolume creates a named volume.
func (c *Client) CreateVolume(ctx context.Context, name string) error {
	if _, err := c.run(ctx, "docker volume create "+shellescape.Quote(name)); err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	return nil
}

// EnsureVolume creates the volume unless it already exists.
func (c *Client) EnsureVolume(ctx context.Context, name string) (bool, error) {
	exists, err := c.VolumeExists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	c.logger.Info().Str("volume", name).Msg("Creating missing volume")
	if err := c.CreateVolume(ctx, name); err != nil {
		return false, err
	}
	return true, nil
}

// Package sandbox wraps the Docker SDK to run the agent process inside a
// container with the session workspace bind-mounted. The sandbox isolates
// agent tool execution from the host; it is optional and off by default.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/common/config"
	"github.com/donna-assistant/donna/internal/common/logger"
)

// ContainerConfig holds configuration for creating a sandbox container.
type ContainerConfig struct {
	Name          string
	Image         string
	Cmd           []string
	Env           []string
	WorkspacePath string // Host path, mounted read-write at /workspace
	Memory        int64  // Memory limit in bytes
	CPUQuota      int64
	Labels        map[string]string
}

// WorkspaceMountPath is where the session workspace appears inside the container.
const WorkspaceMountPath = "/workspace"

// AttachResult contains the streams for container I/O.
type AttachResult struct {
	Stdin  io.WriteCloser
	Stdout io.Reader // Multiplexed stdout + stderr
	Conn   net.Conn
}

// Close closes the attach streams.
func (a *AttachResult) Close() error {
	if a.Stdin != nil {
		a.Stdin.Close()
	}
	if a.Conn != nil {
		a.Conn.Close()
	}
	return nil
}

// Client wraps the Docker client.
type Client struct {
	cli    *client.Client
	logger *logger.Logger
	config config.SandboxConfig
}

// NewClient creates a new Docker sandbox client.
func NewClient(cfg config.SandboxConfig, log *logger.Logger) (*Client, error) {
	opts := []client.Opt{
		client.WithAPIVersionNegotiation(),
	}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	log.Info("Docker sandbox client created",
		zap.String("host", cfg.Host),
		zap.String("image", cfg.Image),
	)

	return &Client{
		cli:    cli,
		logger: log.WithFields(zap.String("component", "sandbox")),
		config: cfg,
	}, nil
}

// Close closes the Docker client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping checks if the Docker daemon is available.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// CreateInteractive creates a container with stdin attached for stream-json I/O.
func (c *Client) CreateInteractive(ctx context.Context, cfg ContainerConfig) (string, error) {
	containerCfg := &container.Config{
		Image:        cfg.Image,
		Cmd:          cfg.Cmd,
		Env:          cfg.Env,
		WorkingDir:   WorkspaceMountPath,
		Labels:       cfg.Labels,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false, // no TTY: the stream is line-delimited JSON
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: cfg.WorkspacePath,
			Target: WorkspaceMountPath,
		}},
		Resources: container.Resources{
			Memory:   cfg.Memory,
			CPUQuota: cfg.CPUQuota,
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox container %s: %w", cfg.Name, err)
	}

	c.logger.Info("sandbox container created",
		zap.String("id", resp.ID),
		zap.String("name", cfg.Name))
	return resp.ID, nil
}

// Start starts a container.
func (c *Client) Start(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	return nil
}

// Attach attaches to a container's stdin and output streams.
func (c *Client) Attach(ctx context.Context, containerID string) (*AttachResult, error) {
	resp, err := c.cli.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to container %s: %w", containerID, err)
	}

	// Bridge a pipe onto the hijacked connection so callers get a plain
	// io.WriteCloser for stdin.
	stdinReader, stdinWriter := io.Pipe()
	go func() {
		_, _ = io.Copy(resp.Conn, stdinReader)
		_ = resp.CloseWrite()
	}()

	return &AttachResult{
		Stdin:  stdinWriter,
		Stdout: resp.Reader,
		Conn:   resp.Conn,
	}, nil
}

// Kill sends SIGKILL to a container.
func (c *Client) Kill(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerKill(ctx, containerID, "SIGKILL"); err != nil {
		return fmt.Errorf("failed to kill container %s: %w", containerID, err)
	}
	return nil
}

// Remove removes a container.
func (c *Client) Remove(ctx context.Context, containerID string, force bool) error {
	err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

// Wait blocks until the container stops and returns its exit code.
func (c *Client) Wait(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := c.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		if err != nil {
			return -1, fmt.Errorf("error waiting for container %s: %w", containerID, err)
		}
		return -1, nil
	case status := <-statusCh:
		c.logger.Debug("sandbox container exited",
			zap.String("container_id", containerID),
			zap.Int64("exit_code", status.StatusCode))
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// StopTimeout is how long Stop waits before the daemon kills the container.
const StopTimeout = 10 * time.Second

// Stop gracefully stops a container.
func (c *Client) Stop(ctx context.Context, containerID string) error {
	timeoutSeconds := int(StopTimeout.Seconds())
	err := c.cli.ContainerStop(ctx, containerID, container.StopOptions{
		Timeout: &timeoutSeconds,
	})
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

package runner

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/common/config"
	"github.com/donna-assistant/donna/internal/common/logger"
	"github.com/donna-assistant/donna/internal/sandbox"
)

// NewSandboxFactory returns a factory that runs the agent CLI inside a Docker
// container with the session workspace bind-mounted at a fixed path. The wire
// protocol is identical to the local runner; only the transport differs.
func NewSandboxFactory(cfg Config, sbCfg config.SandboxConfig, client *sandbox.Client, log *logger.Logger) Factory {
	return func(req StartRequest) Runner {
		return &sandboxRunner{
			cfg:    cfg,
			sbCfg:  sbCfg,
			client: client,
			req:    req,
			log: log.WithFields(
				zap.String("component", "sandbox-runner"),
				zap.String("session_id", req.SessionID)),
			events: make(chan Event, 64),
		}
	}
}

// sandboxRunner runs the agent CLI inside a container.
type sandboxRunner struct {
	cfg    Config
	sbCfg  config.SandboxConfig
	client *sandbox.Client
	req    StartRequest
	log    *logger.Logger

	containerID string
	attach      *sandbox.AttachResult
	events      chan Event

	mu          sync.Mutex
	stdinClosed bool
}

// cpuQuotaPeriod is the default CFS period Docker uses; quota is cores * period.
const cpuQuotaPeriod = 100000

// Start creates, attaches to, and starts the sandbox container, then sends
// the initial task prompt.
func (r *sandboxRunner) Start(ctx context.Context) error {
	cmd := append([]string{r.cfg.Command}, buildArgs(r.cfg, r.req)...)

	containerID, err := r.client.CreateInteractive(ctx, sandbox.ContainerConfig{
		Name:          "donna-session-" + r.req.SessionID,
		Image:         r.sbCfg.Image,
		Cmd:           cmd,
		WorkspacePath: r.req.WorkspacePath,
		Memory:        r.sbCfg.MemoryMB * 1024 * 1024,
		CPUQuota:      int64(r.sbCfg.CPUCores * cpuQuotaPeriod),
		Labels: map[string]string{
			"donna.session_id": r.req.SessionID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create sandbox: %w", err)
	}
	r.containerID = containerID

	// Attach before starting so no early output is lost.
	attach, err := r.client.Attach(ctx, containerID)
	if err != nil {
		r.cleanupContainer()
		return fmt.Errorf("failed to attach to sandbox: %w", err)
	}
	r.attach = attach

	if err := r.client.Start(ctx, containerID); err != nil {
		attach.Close()
		r.cleanupContainer()
		return fmt.Errorf("failed to start sandbox: %w", err)
	}

	r.log.Info("sandbox session started",
		zap.String("container_id", containerID),
		zap.String("workspace", r.req.WorkspacePath))

	go r.pump()

	if err := r.Send(r.req.Task); err != nil {
		_ = r.Kill()
		return fmt.Errorf("failed to send initial prompt: %w", err)
	}
	return nil
}

// Events returns the typed event channel.
func (r *sandboxRunner) Events() <-chan Event {
	return r.events
}

// Send writes a stream-json user message to the container stdin.
func (r *sandboxRunner) Send(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attach == nil || r.stdinClosed {
		return fmt.Errorf("input stream is closed")
	}

	line, err := encodeUserMessage(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	line = append(line, '\n')

	if _, err := r.attach.Stdin.Write(line); err != nil {
		return fmt.Errorf("failed to write to sandbox stdin: %w", err)
	}
	return nil
}

// CloseInput closes the container's stdin for a graceful finish.
func (r *sandboxRunner) CloseInput() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attach == nil || r.stdinClosed {
		return nil
	}
	r.stdinClosed = true
	return r.attach.Stdin.Close()
}

// Kill terminates the container immediately.
func (r *sandboxRunner) Kill() error {
	if r.containerID == "" {
		return nil
	}
	return r.client.Kill(context.Background(), r.containerID)
}

// pump demultiplexes the container output stream, parses it, waits for the
// container to exit and emits the final exit event.
func (r *sandboxRunner) pump() {
	defer close(r.events)

	// With Tty disabled the attach stream interleaves stdout and stderr in
	// Docker's framing; stdcopy splits out the stdout side for parsing.
	stdoutReader, stdoutWriter := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(stdoutWriter, io.Discard, r.attach.Stdout)
		_ = stdoutWriter.CloseWithError(err)
	}()

	emitStream(r.events, stdoutReader, r.log)

	exitCode, err := r.client.Wait(context.Background(), r.containerID)
	if err != nil {
		r.log.Warn("sandbox wait failed", zap.Error(err))
	} else if exitCode != 0 {
		err = fmt.Errorf("sandbox exited with code %d", exitCode)
	}

	r.attach.Close()
	r.cleanupContainer()

	r.events <- Event{Type: EventExit, Err: err}
}

// cleanupContainer force-removes the container; best effort.
func (r *sandboxRunner) cleanupContainer() {
	if r.containerID == "" {
		return
	}
	if err := r.client.Remove(context.Background(), r.containerID, true); err != nil {
		r.log.Warn("failed to remove sandbox container", zap.Error(err))
	}
}

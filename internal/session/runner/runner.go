// Package runner spawns and drives the underlying agent process for a coding
// session, translating its raw stream-json output into a small typed event
// set delivered on a per-session channel (one producer, one consumer).
package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/common/logger"
)

// Config holds configuration for spawning agent processes.
type Config struct {
	Command      string   // Agent CLI binary
	Args         []string // Extra arguments appended to the base invocation
	SystemPrompt string   // Optional system prompt
}

// StartRequest describes one session's process launch.
type StartRequest struct {
	SessionID     string
	Task          string
	SystemPrompt  string // Overrides Config.SystemPrompt when non-empty
	WorkspacePath string
}

// Runner is the control surface of one running agent process.
type Runner interface {
	// Start launches the process and sends the initial task prompt.
	Start(ctx context.Context) error
	// Events returns the typed event channel. Closed after EventExit.
	Events() <-chan Event
	// Send delivers a user message to the running process.
	Send(message string) error
	// CloseInput closes the process's stdin for a graceful finish.
	CloseInput() error
	// Kill terminates the process immediately.
	Kill() error
}

// Factory creates a runner for a session. Tests inject fake factories.
type Factory func(req StartRequest) Runner

// NewProcessFactory returns a factory that spawns the agent CLI as a local
// subprocess rooted in the session workspace.
func NewProcessFactory(cfg Config, log *logger.Logger) Factory {
	return func(req StartRequest) Runner {
		return newProcessRunner(cfg, req, log)
	}
}

// processRunner runs the agent CLI as a direct subprocess.
type processRunner struct {
	cfg Config
	req StartRequest
	log *logger.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan Event

	mu          sync.Mutex
	stdinClosed bool
}

func newProcessRunner(cfg Config, req StartRequest, log *logger.Logger) *processRunner {
	return &processRunner{
		cfg:    cfg,
		req:    req,
		log:    log.WithFields(zap.String("component", "runner"), zap.String("session_id", req.SessionID)),
		events: make(chan Event, 64),
	}
}

// buildArgs assembles the agent CLI invocation for a session. Shared by the
// local and sandboxed runners.
func buildArgs(cfg Config, req StartRequest) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = cfg.SystemPrompt
	}
	if systemPrompt != "" {
		args = append(args, "--append-system-prompt", systemPrompt)
	}
	return append(args, cfg.Args...)
}

// Start launches the agent process and begins streaming events.
func (r *processRunner) Start(ctx context.Context) error {
	args := buildArgs(r.cfg, r.req)

	// The command must outlive ctx: cancellation of the start request must
	// not kill a session that is already running.
	cmd := exec.Command(r.cfg.Command, args...)
	cmd.Dir = r.req.WorkspacePath

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent process: %w", err)
	}

	r.cmd = cmd
	r.stdin = stdin

	r.log.Info("agent process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("workspace", r.req.WorkspacePath))

	go r.pump(stdout, cmd.Wait)

	if err := r.Send(r.req.Task); err != nil {
		_ = r.Kill()
		return fmt.Errorf("failed to send initial prompt: %w", err)
	}
	return nil
}

// Events returns the typed event channel.
func (r *processRunner) Events() <-chan Event {
	return r.events
}

// Send writes a stream-json user message to the process stdin.
func (r *processRunner) Send(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stdin == nil || r.stdinClosed {
		return fmt.Errorf("input stream is closed")
	}

	line, err := encodeUserMessage(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	line = append(line, '\n')

	if _, err := r.stdin.Write(line); err != nil {
		return fmt.Errorf("failed to write to agent stdin: %w", err)
	}
	return nil
}

// CloseInput closes stdin so the process finishes its current work and exits.
func (r *processRunner) CloseInput() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stdin == nil || r.stdinClosed {
		return nil
	}
	r.stdinClosed = true
	return r.stdin.Close()
}

// Kill terminates the process immediately.
func (r *processRunner) Kill() error {
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	return r.cmd.Process.Kill()
}

// pump reads stream-json lines until EOF, then waits for the process and
// emits the final exit event. Runs as the single producer for the channel.
func (r *processRunner) pump(stdout io.Reader, wait func() error) {
	defer close(r.events)

	emitStream(r.events, stdout, r.log)

	err := wait()
	if err != nil {
		r.log.Warn("agent process exited with error", zap.Error(err))
	} else {
		r.log.Info("agent process exited cleanly")
	}
	r.events <- Event{Type: EventExit, Err: err}
}

// emitStream parses ndjson from the process output and emits typed events.
// Shared by the local and sandboxed runners.
func emitStream(events chan<- Event, output io.Reader, log *logger.Logger) {
	scanner := bufio.NewScanner(output)
	// Agent messages can carry whole files; the default 64KB line limit is
	// far too small.
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	lastText := ""
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg streamMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Debug("skipping unparseable stream line", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "assistant":
			if text := msg.textContent(); text != "" {
				lastText = text
				events <- Event{Type: EventProgress, Text: text}
			}
		case "result":
			if msg.isErrorResult() {
				events <- Event{Type: EventError, Err: fmt.Errorf("agent error: %s", msg.errorText())}
				continue
			}
			text := msg.Result
			if text == "" {
				text = lastText
			}
			events <- Event{
				Type:    EventTurnResult,
				Text:    text,
				Turns:   msg.NumTurns,
				CostUSD: msg.TotalCostUSD,
			}
		case "system":
			// init handshake and similar; observability only
			log.Debug("agent system message", zap.String("subtype", msg.Subtype))
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn("agent stream read error", zap.Error(err))
	}
}

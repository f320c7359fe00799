// Package session implements the coding-session orchestrator: it starts,
// supervises, resumes, and tears down concurrent agent sessions, keeping the
// in-memory handle, the durable lifecycle record, and the external
// notification message mutually consistent.
package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/donna-assistant/donna/internal/common/errors"
	"github.com/donna-assistant/donna/internal/common/logger"
	"github.com/donna-assistant/donna/internal/events"
	"github.com/donna-assistant/donna/internal/events/bus"
	"github.com/donna-assistant/donna/internal/notify"
	"github.com/donna-assistant/donna/internal/session/record"
	"github.com/donna-assistant/donna/internal/session/registry"
	"github.com/donna-assistant/donna/internal/session/runner"
	"github.com/donna-assistant/donna/internal/workspace"
)

const eventSource = "session-orchestrator"

// Service orchestrates coding sessions end to end.
type Service struct {
	registry   *registry.Registry
	store      record.Store
	workspaces *workspace.Manager
	newRunner  runner.Factory
	bridge     *notify.Bridge
	bus        bus.EventBus
	log        *logger.Logger
}

// NewService creates the orchestrator service. The bridge may be nil-channel
// (disabled); the bus must be non-nil (use the in-memory bus).
func NewService(
	reg *registry.Registry,
	store record.Store,
	workspaces *workspace.Manager,
	factory runner.Factory,
	bridge *notify.Bridge,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Service {
	return &Service{
		registry:   reg,
		store:      store,
		workspaces: workspaces,
		newRunner:  factory,
		bridge:     bridge,
		bus:        eventBus,
		log:        log.WithFields(zap.String("component", "session-service")),
	}
}

// Start creates a workspace and spawns the agent process for a new session.
// The registry slot is reserved synchronously before any slow work so a
// concurrent start for the same identifier fails immediately.
func (s *Service) Start(ctx context.Context, sessionID, task, branchName string) error {
	if sessionID == "" {
		return apperrors.ValidationError("session_id", "must not be empty")
	}
	if task == "" {
		return apperrors.ValidationError("task", "must not be empty")
	}

	sess, err := s.registry.Reserve(sessionID)
	if err != nil {
		return apperrors.Conflict(fmt.Sprintf("session '%s' is already active", sessionID))
	}

	if err := s.ensureRecord(ctx, sessionID, task); err != nil {
		s.registry.Remove(sessionID)
		return apperrors.Wrap(err, "failed to persist session record")
	}

	ws, err := s.workspaces.Create(ctx, sessionID, branchName)
	if err != nil {
		s.registry.Remove(sessionID)
		s.recordFailure(ctx, sessionID, fmt.Sprintf("workspace creation failed: %v", err))
		return apperrors.Wrap(err, "failed to create workspace")
	}
	s.publish(events.WorkspaceCreated, sessionID, map[string]interface{}{
		"path":   ws.Path,
		"branch": ws.Branch,
	})

	run := s.newRunner(runner.StartRequest{
		SessionID:     sessionID,
		Task:          task,
		WorkspacePath: ws.Path,
	})
	if err := run.Start(ctx); err != nil {
		s.registry.Remove(sessionID)
		// Start-phase failure: the workspace holds no work worth keeping.
		s.cleanupWorkspace(ws.Path, ws.Branch)
		s.recordFailure(ctx, sessionID, fmt.Sprintf("agent start failed: %v", err))
		return apperrors.Wrap(err, "failed to start agent process")
	}

	if err := s.registry.Commit(sessionID, run); err != nil {
		// Slot vanished between reserve and commit; only a concurrent stop can
		// do that. The stopper never saw these workspace coordinates (the
		// record learns them below), so this path removes the workspace too.
		s.log.Warn("session slot gone before commit", zap.String("session_id", sessionID))
		_ = run.Kill()
		s.cleanupWorkspace(ws.Path, ws.Branch)
		return apperrors.Conflict(fmt.Sprintf("session '%s' was stopped during start", sessionID))
	}

	running := record.StateRunning
	s.guardedPatch(ctx, sessionID, record.Patch{
		State:         &running,
		Task:          &task,
		WorkspacePath: &ws.Path,
		Branch:        &ws.Branch,
	})

	s.publish(events.SessionStarted, sessionID, map[string]interface{}{
		"task":   task,
		"branch": ws.Branch,
	})
	s.bridge.Announce(sessionID, fmt.Sprintf("Coding session started\nTask: %s", task), stopKeyboard(sessionID))

	go s.consume(sessionID, sess, run, false)

	s.log.Info("session started",
		zap.String("session_id", sessionID),
		zap.String("workspace", ws.Path),
		zap.String("branch", ws.Branch))
	return nil
}

// Respond delivers a user message to a session waiting for input.
func (s *Service) Respond(ctx context.Context, sessionID, message string) error {
	if message == "" {
		return apperrors.ValidationError("message", "must not be empty")
	}

	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return apperrors.NotFound("session", sessionID)
	}
	if sess.Phase() != registry.PhaseWaiting {
		return apperrors.Conflict(fmt.Sprintf("session '%s' is not waiting for input (phase: %s)", sessionID, sess.Phase()))
	}

	proc := sess.Process()
	if proc == nil {
		return apperrors.Conflict(fmt.Sprintf("session '%s' has no live process", sessionID))
	}
	if err := proc.Send(message); err != nil {
		return apperrors.Wrap(err, "failed to deliver message to agent")
	}

	sess.SetPhase(registry.PhaseRunning)
	running := record.StateRunning
	s.guardedPatch(ctx, sessionID, record.Patch{State: &running})

	s.publish(events.SessionResponded, sessionID, map[string]interface{}{"message": message})
	s.bridge.Update(sessionID, "Agent is working...", stopKeyboard(sessionID))
	return nil
}

// Finish closes the agent's input stream so it wraps up and exits cleanly.
// Finalization happens on the exit event, not here.
func (s *Service) Finish(ctx context.Context, sessionID string) error {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return apperrors.NotFound("session", sessionID)
	}
	proc := sess.Process()
	if proc == nil {
		return apperrors.Conflict(fmt.Sprintf("session '%s' has no live process", sessionID))
	}
	if err := proc.CloseInput(); err != nil {
		return apperrors.Wrap(err, "failed to close agent input")
	}
	return nil
}

// Approve merges the session branch into the base branch. A merge conflict is
// surfaced as an error and the record stays completed so the user can inspect
// the workspace and retry; the workspace is removed only on success.
func (s *Service) Approve(ctx context.Context, sessionID, workspacePath, branchName string) error {
	workspacePath, branchName, err := s.resolveWorkspace(ctx, sessionID, workspacePath, branchName)
	if err != nil {
		return err
	}

	if err := s.workspaces.Merge(ctx, workspacePath, branchName); err != nil {
		return apperrors.Wrap(err, "merge failed")
	}

	s.cleanupWorkspace(workspacePath, branchName)

	merged := record.StateMerged
	s.guardedPatch(ctx, sessionID, record.Patch{State: &merged})

	s.publish(events.SessionMerged, sessionID, map[string]interface{}{"branch": branchName})
	s.bridge.Update(sessionID, "Session merged.", nil)
	s.bridge.Forget(sessionID)
	return nil
}

// Reject discards the session's work. Cleanup is best-effort: the record
// transition to rejected succeeds even when workspace removal partially fails.
func (s *Service) Reject(ctx context.Context, sessionID, workspacePath, branchName string) error {
	workspacePath, branchName, err := s.resolveWorkspace(ctx, sessionID, workspacePath, branchName)
	if err != nil {
		return err
	}

	s.cleanupWorkspace(workspacePath, branchName)

	rejected := record.StateRejected
	s.guardedPatch(ctx, sessionID, record.Patch{State: &rejected})

	s.publish(events.SessionRejected, sessionID, map[string]interface{}{"branch": branchName})
	s.bridge.Update(sessionID, "Session rejected, work discarded.", nil)
	s.bridge.Forget(sessionID)
	return nil
}

// Stop kills a live session. Workspace cleanup runs only when the caller
// supplies the workspace coordinates: a stop after resume deliberately leaves
// the workspace on disk so partial resumed work survives. Stopping an already
// gone session returns an error without mutating anything.
func (s *Service) Stop(ctx context.Context, sessionID, workspacePath, branchName string) error {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return apperrors.NotFound("session", sessionID)
	}

	// Remove first: the exit event from the killed process must find no
	// handle and skip finalization.
	s.registry.Remove(sessionID)

	if proc := sess.Process(); proc != nil {
		if err := proc.Kill(); err != nil {
			s.log.Warn("failed to kill agent process",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	if workspacePath != "" {
		s.cleanupWorkspace(workspacePath, branchName)
	}

	stopped := record.StateStopped
	s.guardedPatch(ctx, sessionID, record.Patch{State: &stopped})

	s.publish(events.SessionStopped, sessionID, nil)
	s.bridge.Update(sessionID, "Session stopped.", nil)
	s.bridge.Forget(sessionID)

	s.log.Info("session stopped", zap.String("session_id", sessionID))
	return nil
}

// Resume restarts the agent in an existing workspace, typically after a
// completed session needs follow-up work. The workspace must still exist on
// disk; resume never fabricates a fresh one.
func (s *Service) Resume(ctx context.Context, sessionID, task, workspacePath, branchName string) error {
	if sessionID == "" {
		return apperrors.ValidationError("session_id", "must not be empty")
	}
	if task == "" {
		return apperrors.ValidationError("task", "must not be empty")
	}
	if !s.workspaces.Exists(workspacePath) {
		return apperrors.Wrap(
			fmt.Errorf("%w: %s", workspace.ErrWorkspaceMissing, workspacePath),
			"cannot resume session")
	}

	sess, err := s.registry.Reserve(sessionID)
	if err != nil {
		return apperrors.Conflict(fmt.Sprintf("session '%s' is already active", sessionID))
	}

	run := s.newRunner(runner.StartRequest{
		SessionID:     sessionID,
		Task:          task,
		WorkspacePath: workspacePath,
	})
	if err := run.Start(ctx); err != nil {
		s.registry.Remove(sessionID)
		// Resume-phase failure keeps the workspace: partial work from the
		// earlier run may still be worth preserving.
		s.recordFailure(ctx, sessionID, fmt.Sprintf("agent resume failed: %v", err))
		return apperrors.Wrap(err, "failed to resume agent process")
	}

	if err := s.registry.Commit(sessionID, run); err != nil {
		_ = run.Kill()
		return apperrors.Conflict(fmt.Sprintf("session '%s' was stopped during resume", sessionID))
	}

	// Revive the record without the confirmed-status guard: the reconciler
	// marks interrupted sessions as errors, and resuming one must restore the
	// confirmed status or every subsequent lifecycle write would be dropped.
	confirmedStatus := record.StatusConfirmed
	running := record.StateRunning
	noError := ""
	if _, err := s.store.Patch(ctx, sessionID, record.Patch{
		Status:        &confirmedStatus,
		State:         &running,
		Task:          &task,
		WorkspacePath: &workspacePath,
		Branch:        &branchName,
		Error:         &noError,
	}); err != nil {
		s.log.Warn("failed to revive session record",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	s.publish(events.SessionResumed, sessionID, map[string]interface{}{"task": task})
	s.bridge.Update(sessionID, fmt.Sprintf("Session resumed\nTask: %s", task), stopKeyboard(sessionID))

	go s.consume(sessionID, sess, run, true)

	s.log.Info("session resumed",
		zap.String("session_id", sessionID),
		zap.String("workspace", workspacePath))
	return nil
}

// consume is the single consumer of one session's event channel. It drives
// record and notification updates for the session's whole lifetime and hands
// off to the finalizer on clean exit.
func (s *Service) consume(sessionID string, sess *registry.Session, run runner.Runner, resumed bool) {
	ctx := context.Background()
	errored := false

	for ev := range run.Events() {
		switch ev.Type {
		case runner.EventProgress:
			s.publish(events.SessionProgress, sessionID, map[string]interface{}{"text": ev.Text})

		case runner.EventTurnResult:
			sess.SetPhase(registry.PhaseWaiting)
			s.applyTurnResult(ctx, sessionID, ev)

		case runner.EventError:
			errored = true
			s.failSession(ctx, sessionID, resumed, ev.Err)

		case runner.EventExit:
			if errored {
				continue
			}
			if ev.Err != nil {
				s.failSession(ctx, sessionID, resumed, ev.Err)
				continue
			}
			s.finalize(ctx, sessionID, sess)
		}
	}
}

// applyTurnResult records one completed turn. Turns and cost are cumulative
// counters reported by the process itself: they are assigned, never summed.
func (s *Service) applyTurnResult(ctx context.Context, sessionID string, ev runner.Event) {
	if rec, err := s.store.Get(ctx, sessionID); err == nil && ev.Turns < rec.Payload.TotalTurns {
		// A regression means the process restarted its own counter. Last
		// write wins; log it so the drop is visible.
		s.log.Warn("cumulative turn counter regressed",
			zap.String("session_id", sessionID),
			zap.Int("previous", rec.Payload.TotalTurns),
			zap.Int("reported", ev.Turns))
	}

	waiting := record.StateWaiting
	patch := record.Patch{
		State:       &waiting,
		TotalTurns:  &ev.Turns,
		LastMessage: &ev.Text,
	}
	if ev.CostUSD != nil {
		patch.TotalCostUSD = ev.CostUSD
	}
	s.guardedPatch(ctx, sessionID, patch)

	s.publish(events.SessionWaiting, sessionID, map[string]interface{}{
		"message": ev.Text,
		"turns":   ev.Turns,
	})
	s.bridge.Update(sessionID,
		fmt.Sprintf("Agent is waiting for input:\n%s", ev.Text),
		waitingKeyboard(sessionID))
}

// failSession resolves a session to the terminal error state. The workspace is
// cleaned for start-phase sessions but kept after a resume.
func (s *Service) failSession(ctx context.Context, sessionID string, resumed bool, cause error) {
	if _, ok := s.registry.Get(sessionID); !ok {
		// Already stopped or finalized elsewhere.
		return
	}
	s.registry.Remove(sessionID)

	msg := "agent process failed"
	if cause != nil {
		msg = cause.Error()
	}

	if !resumed {
		if rec, err := s.store.Get(ctx, sessionID); err == nil && rec.Payload.WorkspacePath != "" {
			s.cleanupWorkspace(rec.Payload.WorkspacePath, rec.Payload.Branch)
		}
	}

	errStatus := record.StatusError
	errState := record.StateError
	s.guardedPatch(ctx, sessionID, record.Patch{
		Status: &errStatus,
		State:  &errState,
		Error:  &msg,
	})

	s.publish(events.SessionFailed, sessionID, map[string]interface{}{"error": msg})
	s.bridge.Update(sessionID, fmt.Sprintf("Session failed: %s", msg), nil)
	s.bridge.Forget(sessionID)

	s.log.Error("session failed",
		zap.String("session_id", sessionID),
		zap.String("error", msg),
		zap.Bool("resumed", resumed))
}

// ensureRecord creates the lifecycle record if the caller has not already.
func (s *Service) ensureRecord(ctx context.Context, sessionID, task string) error {
	_, err := s.store.Get(ctx, sessionID)
	if err == nil {
		return nil
	}
	if err != record.ErrRecordNotFound {
		return err
	}
	return s.store.Create(ctx, &record.Record{
		ID:     sessionID,
		Status: record.StatusConfirmed,
		Payload: record.Payload{
			Task:  task,
			State: record.StateRunning,
		},
	})
}

// recordFailure writes a terminal error without the confirmed-status guard:
// start/resume failures must always be visible, even on a pending record.
func (s *Service) recordFailure(ctx context.Context, sessionID, msg string) {
	errStatus := record.StatusError
	errState := record.StateError
	if _, err := s.store.Patch(ctx, sessionID, record.Patch{
		Status: &errStatus,
		State:  &errState,
		Error:  &msg,
	}); err != nil {
		s.log.Error("failed to record session failure",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	s.publish(events.SessionFailed, sessionID, map[string]interface{}{"error": msg})
	s.bridge.Update(sessionID, fmt.Sprintf("Session failed: %s", msg), nil)
}

// guardedPatch applies a record write only while the record is still
// confirmed and its state is not terminal. A record the user dismissed
// mid-flight is never resurrected by a late session event, and a record that
// reached stopped, merged, rejected, or error stays there even when a turn
// result was still buffered on the event channel. Completed is not terminal
// here: it awaits the approve/reject decision.
func (s *Service) guardedPatch(ctx context.Context, sessionID string, patch record.Patch) {
	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		s.log.Warn("dropping record write, record unavailable",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	if rec.Status != record.StatusConfirmed {
		s.log.Info("dropping record write, record no longer confirmed",
			zap.String("session_id", sessionID),
			zap.String("status", string(rec.Status)))
		return
	}
	if rec.Payload.State.Terminal() {
		s.log.Info("dropping record write, record state is terminal",
			zap.String("session_id", sessionID),
			zap.String("state", string(rec.Payload.State)))
		return
	}
	if _, err := s.store.Patch(ctx, sessionID, patch); err != nil {
		s.log.Error("record patch failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}

// cleanupWorkspace removes a workspace inside its own failure boundary.
// Cleanup problems are logged and never override the primary outcome.
func (s *Service) cleanupWorkspace(path, branch string) {
	if path == "" {
		return
	}
	if err := s.workspaces.Cleanup(context.Background(), path, branch); err != nil {
		s.log.Warn("workspace cleanup incomplete",
			zap.String("path", path),
			zap.String("branch", branch),
			zap.Error(err))
	}
	s.publish(events.WorkspaceRemoved, "", map[string]interface{}{
		"path":   path,
		"branch": branch,
	})
}

// resolveWorkspace fills missing workspace coordinates from the record.
func (s *Service) resolveWorkspace(ctx context.Context, sessionID, path, branch string) (string, string, error) {
	if sessionID == "" {
		return "", "", apperrors.ValidationError("session_id", "must not be empty")
	}
	if path != "" && branch != "" {
		return path, branch, nil
	}
	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return "", "", apperrors.NotFound("session record", sessionID)
	}
	if path == "" {
		path = rec.Payload.WorkspacePath
	}
	if branch == "" {
		branch = rec.Payload.Branch
	}
	if path == "" {
		return "", "", apperrors.BadRequest("session has no workspace")
	}
	return path, branch, nil
}

// publish emits a bus event; the bus is observational and failures only log.
func (s *Service) publish(eventType, sessionID string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	if sessionID != "" {
		data["session_id"] = sessionID
	}
	if err := s.bus.Publish(context.Background(), eventType, bus.NewEvent(eventType, eventSource, data)); err != nil {
		s.log.Warn("event publish failed",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

func stopKeyboard(sessionID string) notify.Keyboard {
	return notify.Keyboard{{
		{Label: "Stop", Action: "stop:" + sessionID},
	}}
}

func waitingKeyboard(sessionID string) notify.Keyboard {
	return notify.Keyboard{{
		{Label: "Finish", Action: "finish:" + sessionID},
		{Label: "Stop", Action: "stop:" + sessionID},
	}}
}

func approvalKeyboard(sessionID string) notify.Keyboard {
	return notify.Keyboard{{
		{Label: "Approve", Action: "approve:" + sessionID},
		{Label: "Reject", Action: "reject:" + sessionID},
	}}
}

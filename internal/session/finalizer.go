package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/events"
	"github.com/donna-assistant/donna/internal/session/record"
	"github.com/donna-assistant/donna/internal/session/registry"
)

// finalize converts a clean process exit into the durable completed record
// with collected workspace artifacts, and releases the registry slot. The
// workspace itself is preserved until the user approves or rejects.
func (s *Service) finalize(ctx context.Context, sessionID string, sess *registry.Session) {
	if _, ok := s.registry.Get(sessionID); !ok {
		// A concurrent stop already owns this session's teardown.
		return
	}
	sess.SetPhase(registry.PhaseCompleted)
	s.registry.Remove(sessionID)

	rec, err := s.store.Get(ctx, sessionID)
	if err != nil {
		s.log.Error("finalize: record unavailable",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	result := s.collectResult(ctx, rec)

	completed := record.StateCompleted
	s.guardedPatch(ctx, sessionID, record.Patch{
		State:  &completed,
		Result: result,
	})

	s.publish(events.SessionCompleted, sessionID, map[string]interface{}{
		"turns":         result.Turns,
		"files_changed": len(result.ChangedFiles),
	})
	s.bridge.Update(sessionID,
		completionSummary(rec.Payload.Task, result),
		approvalKeyboard(sessionID))

	s.log.Info("session completed",
		zap.String("session_id", sessionID),
		zap.Int("turns", result.Turns),
		zap.Int("files_changed", len(result.ChangedFiles)))
}

// collectResult gathers workspace stats, changed files, and the commit log.
// Artifact collection is observational: each failure is logged and the
// finalization continues with what it has.
func (s *Service) collectResult(ctx context.Context, rec *record.Record) *record.Result {
	result := &record.Result{
		Turns:   rec.Payload.TotalTurns,
		CostUSD: rec.Payload.TotalCostUSD,
	}

	path := rec.Payload.WorkspacePath
	if path == "" {
		return result
	}

	if stats, err := s.workspaces.Stats(ctx, path); err != nil {
		s.log.Warn("failed to collect diff stats",
			zap.String("session_id", rec.ID), zap.Error(err))
	} else {
		result.Stats = stats
	}

	if files, err := s.workspaces.ChangedFiles(ctx, path); err != nil {
		s.log.Warn("failed to collect changed files",
			zap.String("session_id", rec.ID), zap.Error(err))
	} else {
		result.ChangedFiles = files
	}

	if log, err := s.workspaces.Log(ctx, path); err != nil {
		s.log.Warn("failed to collect commit log",
			zap.String("session_id", rec.ID), zap.Error(err))
	} else {
		result.Log = log
	}

	return result
}

func completionSummary(task string, result *record.Result) string {
	text := fmt.Sprintf("Session completed\nTask: %s\nTurns: %d", task, result.Turns)
	if result.Stats != nil {
		text += fmt.Sprintf("\nChanges: %d files (+%d/-%d)",
			result.Stats.FilesChanged, result.Stats.Additions, result.Stats.Deletions)
	}
	return text
}

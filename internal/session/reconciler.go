package session

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/donna-assistant/donna/internal/events"
	"github.com/donna-assistant/donna/internal/notify"
	"github.com/donna-assistant/donna/internal/session/record"
)

// interruptedMessage is written to zombie records resolved at startup.
const interruptedMessage = "interrupted: orchestrator restarted while session was active"

// Reconcile resolves zombie sessions at startup: records whose state claims
// running or waiting but for which the registry holds no handle, because the
// host process restarted out from under them. Each is marked as an error with
// the cause preserved; the workspace is kept so the user can resume.
func (s *Service) Reconcile(ctx context.Context) error {
	records, err := s.store.ListByStates(ctx, record.StateRunning, record.StateWaiting)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.log.Info("reconciling interrupted sessions", zap.Int("count", len(records)))

	g, ctx := errgroup.WithContext(ctx)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			return s.reconcileOne(ctx, rec)
		})
	}
	return g.Wait()
}

func (s *Service) reconcileOne(ctx context.Context, rec *record.Record) error {
	if _, ok := s.registry.Get(rec.ID); ok {
		// A live handle exists; nothing to reconcile.
		return nil
	}

	msg := interruptedMessage
	errStatus := record.StatusError
	errState := record.StateError
	if _, err := s.store.Patch(ctx, rec.ID, record.Patch{
		Status: &errStatus,
		State:  &errState,
		Error:  &msg,
	}); err != nil {
		s.log.Error("failed to resolve interrupted session",
			zap.String("session_id", rec.ID),
			zap.Error(err))
		return err
	}

	s.publish(events.SessionFailed, rec.ID, map[string]interface{}{"error": msg})

	resumable := rec.Payload.WorkspacePath != "" && s.workspaces.Exists(rec.Payload.WorkspacePath)
	if resumable {
		s.bridge.Update(rec.ID,
			"Session was interrupted by a restart. The workspace is intact and the session can be resumed.",
			resumeKeyboard(rec.ID))
	} else {
		s.bridge.Update(rec.ID, "Session was interrupted by a restart.", nil)
	}

	s.log.Warn("resolved interrupted session",
		zap.String("session_id", rec.ID),
		zap.String("previous_state", string(rec.Payload.State)),
		zap.Bool("resumable", resumable))
	return nil
}

func resumeKeyboard(sessionID string) notify.Keyboard {
	return notify.Keyboard{{
		{Label: "Resume", Action: "resume:" + sessionID},
	}}
}

package session

import (
	"context"
	"fmt"
)

// Action names accepted by the dispatcher. The chat/tool layer invokes the
// orchestrator through these rather than binding to service methods.
const (
	ActionStart   = "start"
	ActionRespond = "respond"
	ActionFinish  = "finish"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionStop    = "stop"
	ActionResume  = "resume"
)

// ActionPayload carries the arguments of one dispatched action. Unused fields
// are ignored by actions that do not need them.
type ActionPayload struct {
	SessionID     string `json:"session_id"`
	Task          string `json:"task,omitempty"`
	Message       string `json:"message,omitempty"`
	BranchName    string `json:"branch_name,omitempty"`
	WorkspacePath string `json:"workspace_path,omitempty"`
}

// ActionResult is the uniform outcome envelope of a dispatched action.
type ActionResult struct {
	Status string `json:"status"` // "confirmed" or "error"
	Error  string `json:"error,omitempty"`
}

func confirmed() ActionResult {
	return ActionResult{Status: "confirmed"}
}

func failed(err error) ActionResult {
	return ActionResult{Status: "error", Error: err.Error()}
}

// Dispatch routes a named action to the service. Unknown names are an error
// result, not a panic: the chat layer forwards whatever the model asked for.
func (s *Service) Dispatch(ctx context.Context, action string, p ActionPayload) ActionResult {
	var err error
	switch action {
	case ActionStart:
		err = s.Start(ctx, p.SessionID, p.Task, p.BranchName)
	case ActionRespond:
		err = s.Respond(ctx, p.SessionID, p.Message)
	case ActionFinish:
		err = s.Finish(ctx, p.SessionID)
	case ActionApprove:
		err = s.Approve(ctx, p.SessionID, p.WorkspacePath, p.BranchName)
	case ActionReject:
		err = s.Reject(ctx, p.SessionID, p.WorkspacePath, p.BranchName)
	case ActionStop:
		err = s.Stop(ctx, p.SessionID, p.WorkspacePath, p.BranchName)
	case ActionResume:
		err = s.Resume(ctx, p.SessionID, p.Task, p.WorkspacePath, p.BranchName)
	default:
		err = fmt.Errorf("unknown action %q", action)
	}

	if err != nil {
		return failed(err)
	}
	return confirmed()
}

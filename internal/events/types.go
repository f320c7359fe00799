// Package events provides event types for the Donna orchestrator event system.
package events

// Event types for coding sessions
const (
	SessionStarted   = "session.started"
	SessionProgress  = "session.progress"
	SessionWaiting   = "session.waiting"
	SessionResponded = "session.responded"
	SessionResumed   = "session.resumed"
	SessionCompleted = "session.completed"
	SessionMerged    = "session.merged"
	SessionRejected  = "session.rejected"
	SessionStopped   = "session.stopped"
	SessionFailed    = "session.failed"
)

// Event types for workspaces
const (
	WorkspaceCreated = "workspace.created"
	WorkspaceRemoved = "workspace.removed"
)

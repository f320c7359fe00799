package api

import "time"

// StartSessionRequest is the payload for starting a new coding session.
type StartSessionRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	Task       string `json:"task" binding:"required"`
	BranchName string `json:"branch_name"`
}

// RespondRequest delivers a user message to a waiting session.
type RespondRequest struct {
	Message string `json:"message" binding:"required"`
}

// WorkspaceRequest carries workspace coordinates for approve/reject/stop.
// Both fields are optional; missing values are resolved from the record.
type WorkspaceRequest struct {
	WorkspacePath string `json:"workspace_path"`
	BranchName    string `json:"branch_name"`
}

// ResumeRequest restarts a session in its existing workspace.
type ResumeRequest struct {
	Task          string `json:"task" binding:"required"`
	WorkspacePath string `json:"workspace_path" binding:"required"`
	BranchName    string `json:"branch_name"`
}

// ActionRequest is the generic dispatch envelope used by the chat/tool layer.
type ActionRequest struct {
	Action        string `json:"action" binding:"required"`
	SessionID     string `json:"session_id"`
	Task          string `json:"task"`
	Message       string `json:"message"`
	BranchName    string `json:"branch_name"`
	WorkspacePath string `json:"workspace_path"`
}

// SessionResponse is the API view of a lifecycle record.
type SessionResponse struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	State         string      `json:"state"`
	Task          string      `json:"task"`
	WorkspacePath string      `json:"workspace_path,omitempty"`
	Branch        string      `json:"branch,omitempty"`
	TotalTurns    int         `json:"total_turns"`
	TotalCostUSD  *float64    `json:"total_cost_usd,omitempty"`
	LastMessage   string      `json:"last_message,omitempty"`
	Error         string      `json:"error,omitempty"`
	Result        *ResultView `json:"result,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ResultView is the API view of finalization artifacts.
type ResultView struct {
	Turns        int      `json:"turns"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	FilesChanged int      `json:"files_changed"`
	Additions    int      `json:"additions"`
	Deletions    int      `json:"deletions"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	Log          string   `json:"log,omitempty"`
}

// SessionsListResponse wraps a list of session records.
type SessionsListResponse struct {
	Sessions []*SessionResponse `json:"sessions"`
	Total    int                `json:"total"`
}

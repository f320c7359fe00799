// Package record provides the durable lifecycle record for coding sessions.
// The record is the system of record that survives process restarts; the
// orchestrator's in-memory handles are rebuilt or reconciled against it.
package record

import (
	"time"

	"github.com/donna-assistant/donna/internal/workspace"
)

// Status is the outer record status owned by the surrounding application.
// A record the user has dismissed is no longer "confirmed" and must never be
// resurrected by a late session event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusError     Status = "error"
)

// State is the session lifecycle state tag inside the record payload. It is a
// superset of the in-memory phases: merged/rejected are post-completion user
// decisions and stopped is an operator action, none of which have a live
// session behind them.
type State string

const (
	StateRunning   State = "running"
	StateWaiting   State = "waiting"
	StateCompleted State = "completed"
	StateMerged    State = "merged"
	StateRejected  State = "rejected"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// Terminal reports whether the state is terminal for the record. Completed is
// terminal for the session but still awaits a human merge/reject decision.
func (s State) Terminal() bool {
	switch s {
	case StateMerged, StateRejected, StateStopped, StateError:
		return true
	}
	return false
}

// Result holds the artifacts collected at finalization.
type Result struct {
	Turns        int                  `json:"turns"`
	CostUSD      *float64             `json:"cost_usd,omitempty"`
	Stats        *workspace.DiffStats `json:"stats,omitempty"`
	ChangedFiles []string             `json:"changed_files,omitempty"`
	Log          string               `json:"log,omitempty"`
}

// Payload is the orchestrator-owned state stored inside the record.
type Payload struct {
	Task          string   `json:"task"`
	WorkspacePath string   `json:"workspace_path,omitempty"`
	Branch        string   `json:"branch,omitempty"`
	State         State    `json:"state"`
	TotalTurns    int      `json:"total_turns"`
	TotalCostUSD  *float64 `json:"total_cost_usd,omitempty"`
	LastMessage   string   `json:"last_message,omitempty"`
	Error         string   `json:"error,omitempty"`
	Result        *Result  `json:"result,omitempty"`
}

// Record is the durable lifecycle record for one session.
type Record struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Status        *Status
	State         *State
	Task          *string
	WorkspacePath *string
	Branch        *string
	TotalTurns    *int
	TotalCostUSD  *float64
	LastMessage   *string
	Error         *string
	Result        *Result
}

// Apply merges the patch into the record.
func (r *Record) Apply(p Patch) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.State != nil {
		r.Payload.State = *p.State
	}
	if p.Task != nil {
		r.Payload.Task = *p.Task
	}
	if p.WorkspacePath != nil {
		r.Payload.WorkspacePath = *p.WorkspacePath
	}
	if p.Branch != nil {
		r.Payload.Branch = *p.Branch
	}
	if p.TotalTurns != nil {
		r.Payload.TotalTurns = *p.TotalTurns
	}
	if p.TotalCostUSD != nil {
		r.Payload.TotalCostUSD = p.TotalCostUSD
	}
	if p.LastMessage != nil {
		r.Payload.LastMessage = *p.LastMessage
	}
	if p.Error != nil {
		r.Payload.Error = *p.Error
	}
	if p.Result != nil {
		r.Payload.Result = p.Result
	}
	r.UpdatedAt = time.Now().UTC()
}

// clone returns a deep-enough copy so store callers cannot mutate shared state.
func (r *Record) clone() *Record {
	cp := *r
	if r.Payload.TotalCostUSD != nil {
		v := *r.Payload.TotalCostUSD
		cp.Payload.TotalCostUSD = &v
	}
	if r.Payload.Result != nil {
		res := *r.Payload.Result
		cp.Payload.Result = &res
	}
	return &cp
}

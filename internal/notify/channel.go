// Package notify bridges session lifecycle changes to an external messaging
// channel. Delivery is strictly best-effort: a dead bot token or an expired
// message must never affect session processing.
package notify

import "context"

// Button is one inline action the user can tap on a notification.
type Button struct {
	Label  string `json:"label"`
	Action string `json:"action"` // callback payload, e.g. "approve:<session-id>"
}

// Keyboard is an inline button layout, one slice per row.
type Keyboard [][]Button

// Channel is a messaging backend capable of posting and editing messages.
// Both methods return the identifier of the resulting message; an edit may
// yield a new identifier when the backend replaces rather than mutates.
type Channel interface {
	Send(ctx context.Context, text string, kb Keyboard) (string, error)
	Edit(ctx context.Context, messageID, text string, kb Keyboard) (string, error)
}

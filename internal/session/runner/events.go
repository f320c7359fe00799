package runner

// EventType identifies the typed events a runner emits for one session.
type EventType string

const (
	// EventProgress is fire-and-forget observability; it never gates state.
	EventProgress EventType = "progress"

	// EventTurnResult is emitted once per completed turn of the underlying
	// process. Turns and CostUSD are absolute cumulative counters reported by
	// the process itself, not deltas: consumers assign, never sum.
	EventTurnResult EventType = "turn_result"

	// EventError is terminal: the process failed mid-session.
	EventError EventType = "error"

	// EventExit is the final event; the channel is closed after it.
	EventExit EventType = "exit"
)

// Event is one typed event from the agent process stream.
type Event struct {
	Type EventType

	// Text carries progress output or, for turn results, the most recent
	// agent message.
	Text string

	// Turns is the cumulative turn count (turn results only).
	Turns int

	// CostUSD is the cumulative session cost; nil when the process did not
	// report one.
	CostUSD *float64

	// Err is set for error and non-clean exit events.
	Err error
}

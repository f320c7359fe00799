package record

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned when no record exists for an identifier.
var ErrRecordNotFound = errors.New("record not found")

// Store defines the interface for lifecycle record storage.
// Storage guarantees read-your-writes for a single caller; no cross-process
// transactionality is assumed.
type Store interface {
	// Create persists a new record.
	Create(ctx context.Context, rec *Record) error

	// Get retrieves a record by session identifier.
	Get(ctx context.Context, id string) (*Record, error)

	// Patch applies a partial update and returns the updated record.
	Patch(ctx context.Context, id string, patch Patch) (*Record, error)

	// ListByStates returns all records whose payload state is one of the given states.
	ListByStates(ctx context.Context, states ...State) ([]*Record, error)

	// Close closes the store (for database connections).
	Close() error
}

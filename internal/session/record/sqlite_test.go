package record

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteRoundTrip(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()

	cost := 0.25
	rec := newRecord("s1", StateRunning)
	rec.Payload.WorkspacePath = "/tmp/ws/s1"
	rec.Payload.Branch = "donna/fix-bug-abc123"
	rec.Payload.TotalCostUSD = &cost
	require.NoError(t, store.Create(ctx, rec))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, StateRunning, got.Payload.State)
	assert.Equal(t, "/tmp/ws/s1", got.Payload.WorkspacePath)
	assert.Equal(t, "donna/fix-bug-abc123", got.Payload.Branch)
	require.NotNil(t, got.Payload.TotalCostUSD)
	assert.Equal(t, 0.25, *got.Payload.TotalCostUSD)
}

func TestSQLiteGetMissing(t *testing.T) {
	store := setupSQLiteStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLitePatch(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("s1", StateRunning)))

	waiting := StateWaiting
	turns := 5
	msg := "waiting on input"
	updated, err := store.Patch(ctx, "s1", Patch{
		State:       &waiting,
		TotalTurns:  &turns,
		LastMessage: &msg,
	})
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, updated.Payload.State)
	assert.Equal(t, 5, updated.Payload.TotalTurns)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, got.Payload.State)
	assert.Equal(t, 5, got.Payload.TotalTurns)
	assert.Equal(t, msg, got.Payload.LastMessage)
}

func TestSQLitePatchMissing(t *testing.T) {
	store := setupSQLiteStore(t)
	errState := StateError
	_, err := store.Patch(context.Background(), "nope", Patch{State: &errState})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLiteListByStates(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("s1", StateRunning)))
	require.NoError(t, store.Create(ctx, newRecord("s2", StateWaiting)))
	require.NoError(t, store.Create(ctx, newRecord("s3", StateStopped)))

	// The state column is kept in sync with the payload so zombie scans do
	// not deserialize every record.
	active, err := store.ListByStates(ctx, StateRunning, StateWaiting)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	waiting := StateWaiting
	_, err = store.Patch(ctx, "s1", Patch{State: &waiting})
	require.NoError(t, err)

	running, err := store.ListByStates(ctx, StateRunning)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestSQLiteResultPayload(t *testing.T) {
	store := setupSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("s1", StateRunning)))

	completed := StateCompleted
	cost := 1.75
	_, err := store.Patch(ctx, "s1", Patch{
		State: &completed,
		Result: &Result{
			Turns:        4,
			CostUSD:      &cost,
			ChangedFiles: []string{"main.go", "main_test.go"},
			Log:          "abc1234 Fix the bug",
		},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got.Payload.Result)
	assert.Equal(t, 4, got.Payload.Result.Turns)
	assert.Equal(t, 1.75, *got.Payload.Result.CostUSD)
	assert.Equal(t, []string{"main.go", "main_test.go"}, got.Payload.Result.ChangedFiles)
}

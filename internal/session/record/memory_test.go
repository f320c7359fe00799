package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(id string, state State) *Record {
	return &Record{
		ID:     id,
		Status: StatusConfirmed,
		Payload: Payload{
			Task:  "fix bug",
			State: state,
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newRecord("s1", StateRunning)))

	rec, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, StatusConfirmed, rec.Status)
	assert.Equal(t, StateRunning, rec.Payload.State)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestCreateDuplicate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newRecord("s1", StateRunning)))
	assert.Error(t, store.Create(ctx, newRecord("s1", StateRunning)))
}

func TestGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPatchPartialUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("s1", StateRunning)))

	waiting := StateWaiting
	turns := 3
	cost := 0.42
	msg := "Which file should I edit?"

	rec, err := store.Patch(ctx, "s1", Patch{
		State:        &waiting,
		TotalTurns:   &turns,
		TotalCostUSD: &cost,
		LastMessage:  &msg,
	})
	require.NoError(t, err)

	assert.Equal(t, StateWaiting, rec.Payload.State)
	assert.Equal(t, 3, rec.Payload.TotalTurns)
	require.NotNil(t, rec.Payload.TotalCostUSD)
	assert.Equal(t, 0.42, *rec.Payload.TotalCostUSD)
	assert.Equal(t, msg, rec.Payload.LastMessage)
	// Untouched fields survive the patch
	assert.Equal(t, "fix bug", rec.Payload.Task)
	assert.Equal(t, StatusConfirmed, rec.Status)
}

func TestPatchOverwritesCumulativeCounters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("s1", StateRunning)))

	// Cumulative counters are assigned, never summed: repeated values and the
	// final value land as-is.
	for _, tc := range []struct {
		turns int
		cost  float64
	}{
		{1, 0.1}, {3, 0.4}, {3, 0.4}, {7, 1.2},
	} {
		turns, cost := tc.turns, tc.cost
		_, err := store.Patch(ctx, "s1", Patch{TotalTurns: &turns, TotalCostUSD: &cost})
		require.NoError(t, err)
	}

	rec, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Payload.TotalTurns)
	assert.Equal(t, 1.2, *rec.Payload.TotalCostUSD)
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("s1", StateRunning)))

	rec, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	rec.Payload.Task = "mutated"
	rec.Status = StatusError

	fresh, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "fix bug", fresh.Payload.Task)
	assert.Equal(t, StatusConfirmed, fresh.Status)
}

func TestListByStates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newRecord("s1", StateRunning)))
	require.NoError(t, store.Create(ctx, newRecord("s2", StateWaiting)))
	require.NoError(t, store.Create(ctx, newRecord("s3", StateMerged)))

	active, err := store.ListByStates(ctx, StateRunning, StateWaiting)
	require.NoError(t, err)
	require.Len(t, active, 2)

	ids := []string{active[0].ID, active[1].ID}
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateMerged.Terminal())
	assert.True(t, StateRejected.Terminal())
	assert.True(t, StateStopped.Terminal())
	assert.True(t, StateError.Terminal())
	// Completed still awaits the merge/reject decision
	assert.False(t, StateCompleted.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateWaiting.Terminal())
}

func TestApplyResult(t *testing.T) {
	rec := newRecord("s1", StateCompleted)
	cost := 2.5
	rec.Apply(Patch{Result: &Result{Turns: 9, CostUSD: &cost, ChangedFiles: []string{"main.go"}}})

	require.NotNil(t, rec.Payload.Result)
	assert.Equal(t, 9, rec.Payload.Result.Turns)
	assert.Equal(t, []string{"main.go"}, rec.Payload.Result.ChangedFiles)
}

package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donna-assistant/donna/internal/session/record"
)

func TestReconcileResolvesZombies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two records claim active states but no process survived the restart
	require.NoError(t, env.store.Create(ctx, &record.Record{
		ID:     "zombie-running",
		Status: record.StatusConfirmed,
		Payload: record.Payload{
			Task:  "task one",
			State: record.StateRunning,
		},
	}))
	require.NoError(t, env.store.Create(ctx, &record.Record{
		ID:     "zombie-waiting",
		Status: record.StatusConfirmed,
		Payload: record.Payload{
			Task:  "task two",
			State: record.StateWaiting,
		},
	}))
	// Terminal records are left alone
	require.NoError(t, env.store.Create(ctx, &record.Record{
		ID:     "done",
		Status: record.StatusConfirmed,
		Payload: record.Payload{
			Task:  "task three",
			State: record.StateMerged,
		},
	}))

	require.NoError(t, env.svc.Reconcile(ctx))

	for _, id := range []string{"zombie-running", "zombie-waiting"} {
		rec, err := env.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, record.StatusError, rec.Status, id)
		assert.Equal(t, record.StateError, rec.Payload.State, id)
		assert.Contains(t, rec.Payload.Error, "interrupted", id)
	}

	done, err := env.store.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, record.StateMerged, done.Payload.State)
	assert.Empty(t, done.Payload.Error)
}

func TestReconcileSkipsLiveSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A genuinely live session: record active and a registry handle present
	require.NoError(t, env.svc.Start(ctx, "alive", "task", ""))
	fr := env.factory.get("alive")
	waitForState(t, env.store, "alive", record.StateRunning)

	require.NoError(t, env.svc.Reconcile(ctx))

	rec, err := env.store.Get(ctx, "alive")
	require.NoError(t, err)
	assert.Equal(t, record.StateRunning, rec.Payload.State)
	assert.Equal(t, record.StatusConfirmed, rec.Status)

	fr.exit(nil)
}

func TestResumeAfterReconcileReconfirmsRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Start(ctx, "s1", "task", ""))
	first := env.factory.get("s1")
	rec := waitForState(t, env.store, "s1", record.StateRunning)
	wsPath, branch := rec.Payload.WorkspacePath, rec.Payload.Branch

	first.exit(nil)
	waitForState(t, env.store, "s1", record.StateCompleted)
	waitForRegistryEmpty(t, env.reg)

	// Forge the restart scenario: the record claims running with no live handle
	running := record.StateRunning
	_, err := env.store.Patch(ctx, "s1", record.Patch{State: &running})
	require.NoError(t, err)
	require.NoError(t, env.svc.Reconcile(ctx))

	rec, err = env.store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, record.StatusError, rec.Status)

	resumed := newFakeRunner()
	env.factory.prime("s1", resumed)
	require.NoError(t, env.svc.Resume(ctx, "s1", "pick up where you left off", wsPath, branch))

	// The revived record accepts lifecycle writes again
	rec = waitForState(t, env.store, "s1", record.StateRunning)
	assert.Equal(t, record.StatusConfirmed, rec.Status)
	assert.Empty(t, rec.Payload.Error)

	resumed.emitTurn(4, 0.3, "resumed work")
	waitForState(t, env.store, "s1", record.StateWaiting)
	resumed.exit(nil)

	final := waitForState(t, env.store, "s1", record.StateCompleted)
	assert.Equal(t, record.StatusConfirmed, final.Status)
	assert.Equal(t, 4, final.Payload.TotalTurns)
}

func TestReconcileEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.svc.Reconcile(context.Background()))
}

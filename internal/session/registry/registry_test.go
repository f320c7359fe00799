package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	killed bool
}

func (f *fakeProcess) Send(string) error { return nil }
func (f *fakeProcess) CloseInput() error { return nil }
func (f *fakeProcess) Kill() error { f.killed = true; return nil }

func TestReserveAndCommit(t *testing.T) {
	r := New()

	sess, err := r.Reserve("s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseStarting, sess.Phase())
	assert.Nil(t, sess.Process())

	proc := &fakeProcess{}
	require.NoError(t, r.Commit("s1", proc))
	assert.Equal(t, PhaseRunning, sess.Phase())
	assert.Equal(t, proc, sess.Process())
}

func TestReserveConflict(t *testing.T) {
	r := New()

	_, err := r.Reserve("s1")
	require.NoError(t, err)

	_, err = r.Reserve("s1")
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	r := New()

	const attempts = 50
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Reserve("contested")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrSessionActive)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, r.Len())
}

func TestCommitWithoutReserve(t *testing.T) {
	r := New()
	err := r.Commit("ghost", &fakeProcess{})
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()

	_, err := r.Reserve("s1")
	require.NoError(t, err)

	r.Remove("s1")
	r.Remove("s1")

	_, ok := r.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestIDsAcrossShards(t *testing.T) {
	r := New()
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		_, err := r.Reserve(id)
		require.NoError(t, err)
	}

	got := r.IDs()
	assert.ElementsMatch(t, ids, got)
}

func TestPhaseTransitions(t *testing.T) {
	r := New()
	sess, err := r.Reserve("s1")
	require.NoError(t, err)

	sess.SetPhase(PhaseWaiting)
	assert.Equal(t, PhaseWaiting, sess.Phase())

	sess.SetPhase(PhaseCompleted)
	assert.Equal(t, PhaseCompleted, sess.Phase())
}

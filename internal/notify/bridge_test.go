package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donna-assistant/donna/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

// fakeChannel records calls and returns scripted results.
type fakeChannel struct {
	mu        sync.Mutex
	sent      []string
	edited    []string
	sendErr   error
	editErr   error
	nextID    string
	editNewID string // if set, Edit reports this identifier instead of the input
}

func (f *fakeChannel) Send(ctx context.Context, text string, kb Keyboard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, text)
	return f.nextID, nil
}

func (f *fakeChannel) Edit(ctx context.Context, messageID, text string, kb Keyboard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return "", f.editErr
	}
	f.edited = append(f.edited, messageID+":"+text)
	if f.editNewID != "" {
		return f.editNewID, nil
	}
	return messageID, nil
}

func TestAnnounceStoresMessageID(t *testing.T) {
	ch := &fakeChannel{nextID: "msg-1"}
	b := NewBridge(ch, newTestLogger())

	b.Announce("s1", "session started", nil)
	require.Len(t, ch.sent, 1)

	b.Update("s1", "now waiting", nil)
	require.Len(t, ch.edited, 1)
	assert.Equal(t, "msg-1:now waiting", ch.edited[0])
}

func TestUpdateWithoutAnnounceSends(t *testing.T) {
	ch := &fakeChannel{nextID: "msg-7"}
	b := NewBridge(ch, newTestLogger())

	b.Update("s1", "first contact", nil)
	require.Len(t, ch.sent, 1)
	assert.Empty(t, ch.edited)

	// Subsequent updates edit the message the fallback send created
	b.Update("s1", "second", nil)
	require.Len(t, ch.edited, 1)
	assert.Equal(t, "msg-7:second", ch.edited[0])
}

func TestUpdateRestoresNewMessageID(t *testing.T) {
	ch := &fakeChannel{nextID: "msg-1", editNewID: "msg-2"}
	b := NewBridge(ch, newTestLogger())

	b.Announce("s1", "started", nil)
	b.Update("s1", "edit one", nil)

	// The channel replaced the message; later edits must target the new id
	ch.mu.Lock()
	ch.editNewID = ""
	ch.mu.Unlock()
	b.Update("s1", "edit two", nil)

	require.Len(t, ch.edited, 2)
	assert.Equal(t, "msg-1:edit one", ch.edited[0])
	assert.Equal(t, "msg-2:edit two", ch.edited[1])
}

func TestFailuresAreSwallowed(t *testing.T) {
	ch := &fakeChannel{sendErr: errors.New("network down")}
	b := NewBridge(ch, newTestLogger())

	// Neither call panics or propagates anything
	b.Announce("s1", "started", nil)
	b.Update("s1", "still trying", nil)
	assert.Empty(t, ch.sent)
}

func TestEditFailureKeepsMapping(t *testing.T) {
	ch := &fakeChannel{nextID: "msg-1"}
	b := NewBridge(ch, newTestLogger())

	b.Announce("s1", "started", nil)

	ch.mu.Lock()
	ch.editErr = errors.New("rate limited")
	ch.mu.Unlock()
	b.Update("s1", "dropped", nil)

	// Recovery: the next edit still targets the original message
	ch.mu.Lock()
	ch.editErr = nil
	ch.mu.Unlock()
	b.Update("s1", "recovered", nil)

	require.Len(t, ch.edited, 1)
	assert.Equal(t, "msg-1:recovered", ch.edited[0])
}

func TestDisabledBridgeIsNoOp(t *testing.T) {
	b := NewBridge(nil, newTestLogger())
	assert.False(t, b.Enabled())

	b.Announce("s1", "started", nil)
	b.Update("s1", "ignored", nil)
	b.Forget("s1")
}

func TestForgetDropsMapping(t *testing.T) {
	ch := &fakeChannel{nextID: "msg-1"}
	b := NewBridge(ch, newTestLogger())

	b.Announce("s1", "started", nil)
	b.Forget("s1")

	// Without a mapping the update falls back to a fresh send
	b.Update("s1", "after forget", nil)
	assert.Len(t, ch.sent, 2)
	assert.Empty(t, ch.edited)
}

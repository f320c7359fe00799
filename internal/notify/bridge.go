package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/donna-assistant/donna/internal/common/logger"
)

// Bridge maps sessions to channel messages so lifecycle updates edit one
// message per session instead of flooding the chat. All methods swallow
// channel failures: notifications are advisory.
type Bridge struct {
	channel Channel
	log     *logger.Logger
	timeout time.Duration

	mu       sync.Mutex
	messages map[string]string // session id -> channel message id
}

// NewBridge creates a bridge over a channel. A nil channel yields a disabled
// bridge whose methods are no-ops.
func NewBridge(channel Channel, log *logger.Logger) *Bridge {
	return &Bridge{
		channel:  channel,
		log:      log.WithFields(zap.String("component", "notify")),
		timeout:  10 * time.Second,
		messages: make(map[string]string),
	}
}

// Enabled reports whether a channel is configured.
func (b *Bridge) Enabled() bool {
	return b != nil && b.channel != nil
}

// Announce posts the initial message for a session and remembers its id.
func (b *Bridge) Announce(sessionID, text string, kb Keyboard) {
	if !b.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	msgID, err := b.channel.Send(ctx, text, kb)
	if err != nil {
		b.log.Warn("notification send failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	b.mu.Lock()
	b.messages[sessionID] = msgID
	b.mu.Unlock()
}

// Update edits the session's message in place. If the channel returns a new
// message identifier the mapping is updated so later edits target the right
// message. Sessions without a known message fall back to Announce.
func (b *Bridge) Update(sessionID, text string, kb Keyboard) {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	msgID, ok := b.messages[sessionID]
	b.mu.Unlock()

	if !ok {
		b.Announce(sessionID, text, kb)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	newID, err := b.channel.Edit(ctx, msgID, text, kb)
	if err != nil {
		b.log.Warn("notification edit failed",
			zap.String("session_id", sessionID),
			zap.String("message_id", msgID),
			zap.Error(err))
		return
	}

	if newID != "" && newID != msgID {
		b.mu.Lock()
		b.messages[sessionID] = newID
		b.mu.Unlock()
	}
}

// Forget drops the session's message mapping. Called when a session reaches a
// terminal state and no further edits will happen.
func (b *Bridge) Forget(sessionID string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	delete(b.messages, sessionID)
	b.mu.Unlock()
}

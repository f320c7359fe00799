package runner

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donna-assistant/donna/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func TestEncodeUserMessage(t *testing.T) {
	line, err := encodeUserMessage("fix the bug in main.go")
	require.NoError(t, err)

	var msg streamInputMessage
	require.NoError(t, json.Unmarshal(line, &msg))
	assert.Equal(t, "user", msg.Type)
	assert.Equal(t, "user", msg.Message.Role)
	require.Len(t, msg.Message.Content, 1)
	assert.Equal(t, "text", msg.Message.Content[0].Type)
	assert.Equal(t, "fix the bug in main.go", msg.Message.Content[0].Text)
}

func TestStreamMessageTextContent(t *testing.T) {
	raw := `{"type":"assistant","message":{"content":[
		{"type":"text","text":"first"},
		{"type":"tool_use","name":"edit_file"},
		{"type":"text","text":"second"}
	]}}`

	var msg streamMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "first\nsecond", msg.textContent())
}

func TestStreamMessageErrorDetection(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		isError bool
		errText string
	}{
		{
			name:    "explicit is_error",
			raw:     `{"type":"result","is_error":true,"error":"boom"}`,
			isError: true,
			errText: "boom",
		},
		{
			name:    "error subtype",
			raw:     `{"type":"result","subtype":"error_during_execution","errors":["a","b"]}`,
			isError: true,
			errText: "a; b",
		},
		{
			name:    "error text falls back to result",
			raw:     `{"type":"result","subtype":"error","result":"ran out of budget"}`,
			isError: true,
			errText: "ran out of budget",
		},
		{
			name:    "success",
			raw:     `{"type":"result","subtype":"success","result":"done"}`,
			isError: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var msg streamMessage
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &msg))
			assert.Equal(t, tc.isError, msg.isErrorResult())
			if tc.isError {
				assert.Equal(t, tc.errText, msg.errorText())
			}
		})
	}
}

func TestEmitStreamEventSequence(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Looking at main.go"}]}}`,
		`not json at all`,
		`{"type":"result","subtype":"success","result":"Which file should I edit?","num_turns":3,"total_cost_usd":0.42}`,
	}, "\n") + "\n"

	events := make(chan Event, 16)
	emitStream(events, strings.NewReader(stream), newTestLogger())
	close(events)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	require.Len(t, got, 2)
	assert.Equal(t, EventProgress, got[0].Type)
	assert.Equal(t, "Looking at main.go", got[0].Text)

	assert.Equal(t, EventTurnResult, got[1].Type)
	assert.Equal(t, "Which file should I edit?", got[1].Text)
	assert.Equal(t, 3, got[1].Turns)
	require.NotNil(t, got[1].CostUSD)
	assert.Equal(t, 0.42, *got[1].CostUSD)
}

func TestEmitStreamResultFallsBackToLastAssistantText(t *testing.T) {
	stream := strings.Join([]string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"All done here"}]}}`,
		`{"type":"result","subtype":"success","num_turns":5}`,
	}, "\n") + "\n"

	events := make(chan Event, 16)
	emitStream(events, strings.NewReader(stream), newTestLogger())
	close(events)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "All done here", got[1].Text)
	assert.Nil(t, got[1].CostUSD)
}

func TestEmitStreamErrorResult(t *testing.T) {
	stream := `{"type":"result","is_error":true,"error":"process crashed"}` + "\n"

	events := make(chan Event, 16)
	emitStream(events, strings.NewReader(stream), newTestLogger())
	close(events)

	ev := <-events
	assert.Equal(t, EventError, ev.Type)
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "process crashed")
}

func TestBuildArgs(t *testing.T) {
	cfg := Config{SystemPrompt: "default prompt", Args: []string{"--model", "fast"}}

	args := buildArgs(cfg, StartRequest{})
	assert.Contains(t, args, "--append-system-prompt")
	assert.Contains(t, args, "default prompt")
	assert.Contains(t, args, "--model")

	// The request prompt overrides the configured one
	args = buildArgs(cfg, StartRequest{SystemPrompt: "special"})
	assert.Contains(t, args, "special")
	assert.NotContains(t, args, "default prompt")
}

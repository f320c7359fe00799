package runner

import (
	"encoding/json"
	"strings"
)

// streamMessage represents a JSON message from the agent CLI's stream-json output.
type streamMessage struct {
	Type    string `json:"type"`    // "system", "assistant", "user", "result"
	Subtype string `json:"subtype"` // "init", "success", "error_during_execution", ...
	Message struct {
		Content []struct {
			Type string `json:"type"` // "text", "tool_use", "tool_result"
			Text string `json:"text,omitempty"`
			Name string `json:"name,omitempty"` // tool name
		} `json:"content"`
	} `json:"message"`
	Result       string   `json:"result,omitempty"` // Final result text
	Error        string   `json:"error,omitempty"`
	Errors       []string `json:"errors,omitempty"`
	IsError      bool     `json:"is_error,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`      // Cumulative conversation turns
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"` // Cumulative cost in USD
	SessionID    string   `json:"session_id,omitempty"`
}

// streamInputMessage is the format sent to the agent CLI via stdin in stream-json mode.
type streamInputMessage struct {
	Type    string `json:"type"` // "user"
	Message struct {
		Role    string         `json:"role"` // "user"
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

// encodeUserMessage builds a stream-json user message line for stdin.
func encodeUserMessage(text string) ([]byte, error) {
	var msg streamInputMessage
	msg.Type = "user"
	msg.Message.Role = "user"
	msg.Message.Content = []contentBlock{{Type: "text", Text: text}}
	return json.Marshal(&msg)
}

// textContent extracts the text blocks of an assistant message.
func (m *streamMessage) textContent() string {
	var parts []string
	for _, block := range m.Message.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// errorText picks the best error description out of a result message.
// The CLI reports errors in different fields depending on the failure mode.
func (m *streamMessage) errorText() string {
	if m.Error != "" {
		return m.Error
	}
	if len(m.Errors) > 0 {
		return strings.Join(m.Errors, "; ")
	}
	return m.Result
}

// isErrorResult reports whether a result message describes a failure.
func (m *streamMessage) isErrorResult() bool {
	return m.IsError || m.Subtype == "error" || strings.Contains(m.Subtype, "error")
}

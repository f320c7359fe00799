package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// TelegramChannel posts notifications through the Telegram Bot API.
type TelegramChannel struct {
	token  string
	chatID int64
	client *http.Client
	base   string
}

// NewTelegramChannel creates a channel bound to one bot token and chat.
func NewTelegramChannel(token string, chatID int64) *TelegramChannel {
	return &TelegramChannel{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		base:   "https://api.telegram.org",
	}
}

type tgInlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type tgReplyMarkup struct {
	InlineKeyboard [][]tgInlineButton `json:"inline_keyboard"`
}

type tgResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func toReplyMarkup(kb Keyboard) *tgReplyMarkup {
	if len(kb) == 0 {
		return nil
	}
	markup := &tgReplyMarkup{}
	for _, row := range kb {
		var tgRow []tgInlineButton
		for _, b := range row {
			tgRow = append(tgRow, tgInlineButton{Text: b.Label, CallbackData: b.Action})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, tgRow)
	}
	return markup
}

// Send posts a new message and returns its identifier.
func (t *TelegramChannel) Send(ctx context.Context, text string, kb Keyboard) (string, error) {
	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    text,
	}
	if markup := toReplyMarkup(kb); markup != nil {
		payload["reply_markup"] = markup
	}
	return t.call(ctx, "sendMessage", payload)
}

// Edit rewrites an existing message in place. Telegram keeps the message
// identifier stable across edits, so the returned identifier equals the input
// on success.
func (t *TelegramChannel) Edit(ctx context.Context, messageID, text string, kb Keyboard) (string, error) {
	msgID, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid message id %q: %w", messageID, err)
	}
	payload := map[string]any{
		"chat_id":    t.chatID,
		"message_id": msgID,
		"text":       text,
	}
	if markup := toReplyMarkup(kb); markup != nil {
		payload["reply_markup"] = markup
	}
	return t.call(ctx, "editMessageText", payload)
}

func (t *TelegramChannel) call(ctx context.Context, method string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.base, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	var parsed tgResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !parsed.OK {
		return "", fmt.Errorf("telegram %s rejected: %s", method, parsed.Description)
	}
	return strconv.FormatInt(parsed.Result.MessageID, 10), nil
}

// Package notify sends chat notifications about ledger events: newly
// resolved markets and fresh claims. Formatting and transport only; the
// poller decides what is worth announcing.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Notifier delivers one plain-text message.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Telegram sends messages through the Telegram bot API.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegram creates a notifier for one bot/chat pair. Pass nil to use
// http.DefaultClient.
func NewTelegram(token, chatID string, client *http.Client) *Telegram {
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{token: token, chatID: chatID, client: client}
}

// Send posts one message via sendMessage.
func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("notify: telegram returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

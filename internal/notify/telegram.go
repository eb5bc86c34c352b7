package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Telegram pushes through the Bot API's sendMessage call.
type Telegram struct {
	token string
	chat  string
	hc    *http.Client
}

// NewTelegram creates a Telegram sender for the given bot token and chat id.
func NewTelegram(token, chat string) *Telegram {
	return &Telegram{
		token: token,
		chat:  chat,
		hc:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel identifier.
func (t *Telegram) Name() string { return "telegram" }

// Push sends the notification as a Markdown message, title in bold.
func (t *Telegram) Push(ctx context.Context, n Notification) error {
	err := postJSON(ctx, t.hc, "https://api.telegram.org/bot"+t.token+"/sendMessage", map[string]string{
		"chat_id":    t.chat,
		"text":       fmt.Sprintf("*%s*\n%s", n.Title, n.Body),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("notify: telegram: %w", err)
	}
	return nil
}

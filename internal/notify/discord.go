package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Discord pushes through an incoming webhook.
type Discord struct {
	webhook string
	hc      *http.Client
}

// NewDiscord creates a Discord sender for the given webhook URL.
func NewDiscord(webhook string) *Discord {
	return &Discord{
		webhook: webhook,
		hc:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the channel identifier.
func (d *Discord) Name() string { return "discord" }

// Push sends the notification as webhook content, title in bold.
func (d *Discord) Push(ctx context.Context, n Notification) error {
	err := postJSON(ctx, d.hc, d.webhook, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", n.Title, n.Body),
	})
	if err != nil {
		return fmt.Errorf("notify: discord: %w", err)
	}
	return nil
}

// Package notify pushes position lifecycle events (opens, rebalances,
// depletions, failures) to Telegram and Discord. Channels are optional;
// with none configured every push is a no-op.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/solquant/dlmmbot/internal/domain"
)

// Event names used for filtering. The config lists the events an operator
// wants pushed; an empty list allows all of them.
const (
	EventPositionOpened = "position_opened"
	EventRebalanced     = "rebalanced"
	EventDepleted       = "depleted"
	EventFailure        = "failure"
)

// Notification is one formatted push.
type Notification struct {
	Event string
	Title string
	Body  string
}

// Sender delivers a notification over one channel.
type Sender interface {
	Push(ctx context.Context, n Notification) error
	Name() string
}

// Notifier formats domain events and fans them out to the configured
// senders.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders. events limits
// which event names are pushed; an empty list allows all of them.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// PositionOpened announces a freshly opened position.
func (n *Notifier) PositionOpened(ctx context.Context, pool string, res domain.OpenResult) error {
	return n.push(ctx, Notification{
		Event: EventPositionOpened,
		Title: "Position opened",
		Body: fmt.Sprintf("pool %s\nposition %s\nbins [%d, %d] (%d)\ndeposited %d / %d\ntx %s",
			pool, res.PositionKey, res.MinBin, res.MaxBin, res.BinCount,
			res.Deposited.X, res.Deposited.Y, res.Signature),
	})
}

// Rebalanced announces a completed rebalance, including the depleted
// terminal state where no new position exists.
func (n *Notifier) Rebalanced(ctx context.Context, pool string, res domain.RebalanceResult) error {
	if res.NewPositionKey == nil {
		return n.push(ctx, Notification{
			Event: EventDepleted,
			Title: "Position depleted",
			Body: fmt.Sprintf("pool %s\nposition closed to nothing, not reopened\nclaimed fees $%s",
				pool, res.ClaimedFeesUSD.StringFixed(4)),
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "pool %s\nnew position %s\nclaimed fees $%s",
		pool, res.NewPositionKey, res.ClaimedFeesUSD.StringFixed(4))
	if !res.UnswappedFeesUSD.IsZero() {
		fmt.Fprintf(&b, "\nunswapped fees $%s", res.UnswappedFeesUSD.StringFixed(4))
	}
	return n.push(ctx, Notification{
		Event: EventRebalanced,
		Title: "Position rebalanced",
		Body:  b.String(),
	})
}

// OperationFailed announces a failed operation with its error code.
func (n *Notifier) OperationFailed(ctx context.Context, pool, operation string, err error) error {
	return n.push(ctx, Notification{
		Event: EventFailure,
		Title: "Operation failed",
		Body:  fmt.Sprintf("pool %s\noperation %s\ncode %s\n%v", pool, operation, domain.CodeOf(err), err),
	})
}

// push filters by event name and fans out. A failing channel does not block
// the others; their errors are joined.
func (n *Notifier) push(ctx context.Context, note Notification) error {
	if len(n.senders) == 0 {
		return nil
	}
	if len(n.allowed) > 0 && !n.allowed[note.Event] {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Push(ctx, note); err != nil {
			n.logger.WarnContext(ctx, "notification failed",
				slog.String("channel", s.Name()),
				slog.String("event", note.Event),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// postJSON is the shared transport for both channels: marshal, POST, and
// treat any non-2xx status as an error carrying the response head.
func postJSON(ctx context.Context, hc *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

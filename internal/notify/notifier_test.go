package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/solquant/dlmmbot/internal/domain"
)

type recordingSender struct {
	name string
	got  []Notification
	err  error
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Push(ctx context.Context, n Notification) error {
	s.got = append(s.got, n)
	return s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPositionOpenedFansOut(t *testing.T) {
	a := &recordingSender{name: "a"}
	b := &recordingSender{name: "b"}
	n := New([]Sender{a, b}, nil, testLogger())

	res := domain.OpenResult{
		PositionKey: solana.PublicKey{9},
		MinBin:      10,
		MaxBin:      29,
		BinCount:    20,
		Deposited:   domain.Amounts{X: 7, Y: 11},
	}
	if err := n.PositionOpened(context.Background(), "pool", res); err != nil {
		t.Fatalf("PositionOpened: %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("pushes = %d/%d, want 1/1", len(a.got), len(b.got))
	}
	if a.got[0].Event != EventPositionOpened || a.got[0].Title != "Position opened" {
		t.Errorf("notification = %+v", a.got[0])
	}
	if !strings.Contains(a.got[0].Body, "bins [10, 29]") || !strings.Contains(a.got[0].Body, "deposited 7 / 11") {
		t.Errorf("body = %q", a.got[0].Body)
	}
}

func TestEventFilter(t *testing.T) {
	s := &recordingSender{name: "a"}
	n := New([]Sender{s}, []string{EventFailure}, testLogger())

	_ = n.PositionOpened(context.Background(), "pool", domain.OpenResult{})
	if len(s.got) != 0 {
		t.Fatal("filtered event was delivered")
	}

	_ = n.OperationFailed(context.Background(), "pool", "open", errors.New("boom"))
	if len(s.got) != 1 {
		t.Fatal("allowed event was not delivered")
	}
}

func TestFailingChannelDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("webhook down")}
	good := &recordingSender{name: "good"}
	n := New([]Sender{bad, good}, nil, testLogger())

	err := n.OperationFailed(context.Background(), "pool", "open", errors.New("boom"))
	if err == nil {
		t.Fatal("expected the failing channel's error")
	}
	if len(good.got) != 1 {
		t.Error("healthy channel must still deliver")
	}
}

func TestRebalancedDepletedMessage(t *testing.T) {
	s := &recordingSender{name: "a"}
	n := New([]Sender{s}, nil, testLogger())

	if err := n.Rebalanced(context.Background(), "pool", domain.RebalanceResult{}); err != nil {
		t.Fatalf("Rebalanced: %v", err)
	}
	if s.got[0].Event != EventDepleted {
		t.Errorf("event = %s, want %s", s.got[0].Event, EventDepleted)
	}
	if !strings.Contains(s.got[0].Body, "not reopened") {
		t.Errorf("body = %q", s.got[0].Body)
	}
}

package fees

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeSource struct {
	samples []uint64
	err     error
}

func (s *fakeSource) RecentPriorityFees(ctx context.Context) ([]uint64, error) {
	return s.samples, s.err
}

func newEstimator(src RecentFeeSource) *Estimator {
	return NewEstimator(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParseTier(t *testing.T) {
	for _, s := range []string{"low", "medium", "high", "extreme"} {
		if _, err := ParseTier(s); err != nil {
			t.Errorf("ParseTier(%q): %v", s, err)
		}
	}
	if _, err := ParseTier("ludicrous"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestEscalateSaturates(t *testing.T) {
	if TierLow.Escalate() != TierMedium || TierMedium.Escalate() != TierHigh {
		t.Error("escalation must step one tier up")
	}
	if TierExtreme.Escalate() != TierExtreme {
		t.Error("extreme must saturate")
	}
}

func TestLadder(t *testing.T) {
	got := Ladder(TierMedium, 4)
	want := []Tier{TierMedium, TierHigh, TierExtreme, TierExtreme}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ladder = %v, want %v", got, want)
		}
	}
}

func TestBidUsesPercentileOfSamples(t *testing.T) {
	// 11 samples 0..10_000 in steps of 1_000: the median is 5_000, the 75th
	// percentile lands on 7_000.
	samples := make([]uint64, 11)
	for i := range samples {
		samples[i] = uint64(i) * 1_000
	}
	e := newEstimator(&fakeSource{samples: samples})

	if got := e.MicroLamportsPerCU(context.Background(), TierMedium); got != 5_000 {
		t.Errorf("medium bid = %d, want 5000", got)
	}
	if got := e.MicroLamportsPerCU(context.Background(), TierHigh); got != 7_000 {
		t.Errorf("high bid = %d, want 7000", got)
	}
}

func TestBidFallsBackOnError(t *testing.T) {
	e := newEstimator(&fakeSource{err: errors.New("rpc down")})
	if got := e.MicroLamportsPerCU(context.Background(), TierHigh); got != fallbackTable[TierHigh] {
		t.Errorf("bid = %d, want static fallback", got)
	}
}

func TestBidFallsBackOnEmptyAndNilSource(t *testing.T) {
	e := newEstimator(&fakeSource{})
	if got := e.MicroLamportsPerCU(context.Background(), TierMedium); got != fallbackTable[TierMedium] {
		t.Errorf("bid = %d, want static fallback on empty samples", got)
	}

	e = newEstimator(nil)
	if got := e.MicroLamportsPerCU(context.Background(), TierExtreme); got != fallbackTable[TierExtreme] {
		t.Errorf("bid = %d, want static fallback with no source", got)
	}
}

func TestBidFloorsQuietMarket(t *testing.T) {
	e := newEstimator(&fakeSource{samples: []uint64{0, 0, 0, 0}})
	if got := e.MicroLamportsPerCU(context.Background(), TierMedium); got != fallbackTable[TierLow] {
		t.Errorf("bid = %d, want the low-tier minimum", got)
	}
}

func TestBudgetInstructions(t *testing.T) {
	instrs := BudgetInstructions(400_000, 10_000)
	if len(instrs) != 2 {
		t.Fatalf("instructions = %d, want limit + price", len(instrs))
	}
}

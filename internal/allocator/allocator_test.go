package allocator

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAllocateRatioSplit(t *testing.T) {
	a := New(testLogger())

	// span=20 at active bin 100 with 30% on the Y (lower) side:
	// 19 non-active bins, floor(0.3*19)=5 below, 14 above.
	ratio := &domain.Ratio{X: 0.7, Y: 0.3}
	res, err := a.Allocate(100, 20, ratio, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := res.Range.BinCount(); got != 20 {
		t.Errorf("bin count = %d, want 20", got)
	}
	if res.Range.Min != 95 || res.Range.Max != 114 {
		t.Errorf("range = [%d, %d], want [95, 114]", res.Range.Min, res.Range.Max)
	}
	if res.DepositSide != nil {
		t.Errorf("two-sided allocation returned a deposit side %v", *res.DepositSide)
	}
}

func TestAllocateSpanExactness(t *testing.T) {
	a := New(testLogger())

	ratios := []domain.Ratio{
		{X: 0, Y: 1}, {X: 0.1, Y: 0.9}, {X: 0.25, Y: 0.75},
		{X: 0.5, Y: 0.5}, {X: 0.33, Y: 0.67}, {X: 0.9, Y: 0.1}, {X: 1, Y: 0},
	}
	for _, r := range ratios {
		for span := 1; span <= 140; span += 7 {
			res, err := a.Allocate(-2500, span, &r, nil)
			if err != nil {
				t.Fatalf("Allocate(span=%d, ratio=%+v): %v", span, r, err)
			}
			if got := res.Range.BinCount(); got != span {
				t.Errorf("ratio %+v span %d: bin count = %d", r, span, got)
			}
			below := int(-2500 - res.Range.Min)
			above := int(res.Range.Max - -2500)
			if below+above+1 != span {
				t.Errorf("ratio %+v span %d: below=%d above=%d", r, span, below, above)
			}
		}
	}
}

func TestAllocateExtremeRatios(t *testing.T) {
	a := New(testLogger())

	// 100% X: all non-active bins go above the active bin.
	res, err := a.Allocate(50, 10, &domain.Ratio{X: 1, Y: 0}, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if res.Range.Min != 50 || res.Range.Max != 59 {
		t.Errorf("all-X range = [%d, %d], want [50, 59]", res.Range.Min, res.Range.Max)
	}

	// 100% Y: all non-active bins go below.
	res, err = a.Allocate(50, 10, &domain.Ratio{X: 0, Y: 1}, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if res.Range.Min != 41 || res.Range.Max != 50 {
		t.Errorf("all-Y range = [%d, %d], want [41, 50]", res.Range.Min, res.Range.Max)
	}
}

func TestAllocateDefaultsToEvenSplit(t *testing.T) {
	a := New(testLogger())

	res, err := a.Allocate(0, 21, nil, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if res.Range.Min != -10 || res.Range.Max != 10 {
		t.Errorf("range = [%d, %d], want [-10, 10]", res.Range.Min, res.Range.Max)
	}
}

func TestAllocateOneSidedByBalances(t *testing.T) {
	a := New(testLogger())

	// Declared X but only Y has balance: side must be Y, with a note.
	res, err := a.Allocate(100, 15, nil, &OneSided{
		Declared: domain.SideX,
		Balances: domain.Amounts{X: 0, Y: 500},
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if res.DepositSide == nil || *res.DepositSide != domain.SideY {
		t.Fatalf("deposit side = %v, want y", res.DepositSide)
	}
	if res.Note == "" {
		t.Error("expected a mismatch note for overridden direction")
	}
	if res.Range.Min != 86 || res.Range.Max != 100 {
		t.Errorf("range = [%d, %d], want [86, 100]", res.Range.Min, res.Range.Max)
	}
	if got := res.Range.BinCount(); got != 15 {
		t.Errorf("bin count = %d, want 15", got)
	}
}

func TestAllocateOneSidedUSDDominance(t *testing.T) {
	a := New(testLogger())

	res, err := a.Allocate(0, 10, nil, &OneSided{
		Declared:  domain.SideY,
		Balances:  domain.Amounts{X: 10, Y: 10},
		ValueXUSD: decimal.NewFromInt(900),
		ValueYUSD: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if res.DepositSide == nil || *res.DepositSide != domain.SideX {
		t.Fatalf("deposit side = %v, want x (USD-dominant)", res.DepositSide)
	}
	if res.Range.Min != 0 || res.Range.Max != 9 {
		t.Errorf("range = [%d, %d], want [0, 9]", res.Range.Min, res.Range.Max)
	}
}

func TestAllocateOneSidedBothZero(t *testing.T) {
	a := New(testLogger())

	_, err := a.Allocate(0, 10, nil, &OneSided{Declared: domain.SideX})
	if err == nil {
		t.Fatal("expected error for zero balances")
	}
	if code := domain.CodeOf(err); code != domain.CodeInsufficientFunds {
		t.Errorf("code = %s, want insufficient_funds", code)
	}
}

func TestReanchor(t *testing.T) {
	r := Range{Min: 95, Max: 114} // 5 below, 14 above active 100

	moved := Reanchor(r, 100, 107)
	if moved.Min != 102 || moved.Max != 121 {
		t.Errorf("reanchored = [%d, %d], want [102, 121]", moved.Min, moved.Max)
	}
	if moved.BinCount() != r.BinCount() {
		t.Errorf("bin count changed: %d -> %d", r.BinCount(), moved.BinCount())
	}

	same := Reanchor(r, 100, 100)
	if same != r {
		t.Errorf("no-op reanchor changed range: %+v", same)
	}
}

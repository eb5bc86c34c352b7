package accounting

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/domain"
)

var (
	mintX = solana.PublicKey{1}
	mintY = solana.PublicKey{2}
)

func testPair() Pair {
	return Pair{MintX: mintX, MintY: mintY, DecimalsX: 9, DecimalsY: 6}
}

type memStore struct {
	baseline           *domain.Baseline
	claimedX, claimedY uint64
	saves              int
}

func (s *memStore) LoadBaseline(ctx context.Context, wallet, pool string) (*domain.Baseline, error) {
	return s.baseline, nil
}

func (s *memStore) SaveBaseline(ctx context.Context, b domain.Baseline) error {
	s.baseline = &b
	s.saves++
	return nil
}

func (s *memStore) AddClaimedFees(ctx context.Context, wallet, pool string, feeX, feeY uint64) error {
	s.claimedX += feeX
	s.claimedY += feeY
	return nil
}

func (s *memStore) LifetimeClaimedFees(ctx context.Context, wallet, pool string) (uint64, uint64, error) {
	return s.claimedX, s.claimedY, nil
}

type fixedPrices struct {
	priceX, priceY decimal.Decimal
}

func (p fixedPrices) USDPrice(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	if mint == mintX {
		return p.priceX, nil
	}
	return p.priceY, nil
}

func (p fixedPrices) USDPrices(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]decimal.Decimal, error) {
	return map[solana.PublicKey]decimal.Decimal{mintX: p.priceX, mintY: p.priceY}, nil
}

func newTracker(store *memStore, prices fixedPrices) *Tracker {
	return New(store, prices, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnsureBaselineTakenOnce(t *testing.T) {
	store := &memStore{}
	tr := newTracker(store, fixedPrices{priceX: decimal.NewFromInt(100), priceY: decimal.NewFromInt(1)})

	// 1 X at $100 plus 100 Y at $1.
	first, err := tr.EnsureBaseline(context.Background(), "w", "p", testPair(), domain.Amounts{X: 1_000_000_000, Y: 100_000_000})
	if err != nil {
		t.Fatalf("EnsureBaseline: %v", err)
	}
	if !first.TotalUSD.Equal(decimal.NewFromInt(200)) {
		t.Errorf("baseline total = %s, want 200", first.TotalUSD)
	}

	// A second call with different amounts must return the original.
	second, err := tr.EnsureBaseline(context.Background(), "w", "p", testPair(), domain.Amounts{X: 5, Y: 5})
	if err != nil {
		t.Fatalf("EnsureBaseline again: %v", err)
	}
	if second.AmountX != first.AmountX || store.saves != 1 {
		t.Error("baseline was replaced; it must be immutable")
	}
}

func TestRecordClaimedFeesMonotonic(t *testing.T) {
	store := &memStore{}
	tr := newTracker(store, fixedPrices{priceX: decimal.NewFromInt(1), priceY: decimal.NewFromInt(1)})

	ctx := context.Background()
	if err := tr.RecordClaimedFees(ctx, "w", "p", 10, 20); err != nil {
		t.Fatalf("RecordClaimedFees: %v", err)
	}
	if err := tr.RecordClaimedFees(ctx, "w", "p", 5, 0); err != nil {
		t.Fatalf("RecordClaimedFees: %v", err)
	}
	if store.claimedX != 15 || store.claimedY != 20 {
		t.Errorf("lifetime fees = %d/%d, want 15/20", store.claimedX, store.claimedY)
	}
}

func TestReportThreeHolds(t *testing.T) {
	// Baseline: 1 X at $100 + 100 Y at $1 = $200. X has since doubled.
	store := &memStore{baseline: &domain.Baseline{
		Wallet:   "w",
		Pool:     "p",
		AmountX:  1_000_000_000,
		AmountY:  100_000_000,
		PriceX:   decimal.NewFromInt(100),
		PriceY:   decimal.NewFromInt(1),
		TotalUSD: decimal.NewFromInt(200),
	}}
	store.claimedX = 10_000_000 // 0.01 X lifetime claimed = $2 now
	tr := newTracker(store, fixedPrices{priceX: decimal.NewFromInt(200), priceY: decimal.NewFromInt(1)})

	snap := domain.PositionSnapshot{
		AmountX: 500_000_000, // 0.5 X = $100
		AmountY: 150_000_000, // 150 Y = $150
		FeeX:    5_000_000,   // 0.005 X = $1 unclaimed
	}
	report, err := tr.Report(context.Background(), "w", "p", testPair(), snap)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	if !report.PositionUSD.Equal(decimal.NewFromInt(250)) {
		t.Errorf("position = %s, want 250", report.PositionUSD)
	}
	if !report.UnclaimedFeeUSD.Equal(decimal.NewFromInt(1)) {
		t.Errorf("unclaimed = %s, want 1", report.UnclaimedFeeUSD)
	}
	if !report.ClaimedFeeUSD.Equal(decimal.NewFromInt(2)) {
		t.Errorf("claimed = %s, want 2", report.ClaimedFeeUSD)
	}
	if !report.TotalUSD.Equal(decimal.NewFromInt(253)) {
		t.Errorf("total = %s, want 253", report.TotalUSD)
	}

	// Hold mix: 1 X at $200 + 100 Y at $1 = $300.
	if !report.VsHoldMix.HoldUSD.Equal(decimal.NewFromInt(300)) {
		t.Errorf("hold mix = %s, want 300", report.VsHoldMix.HoldUSD)
	}
	if !report.VsHoldMix.DeltaUSD.Equal(decimal.NewFromInt(-47)) {
		t.Errorf("delta vs mix = %s, want -47", report.VsHoldMix.DeltaUSD)
	}

	// Hold all-X: $200 bought 2 X at baseline, worth $400 now.
	if !report.VsHoldX.HoldUSD.Equal(decimal.NewFromInt(400)) {
		t.Errorf("hold x = %s, want 400", report.VsHoldX.HoldUSD)
	}
	// Percentages are relative to the $200 initial deposit, not the hold
	// value: -147 delta is -73.5% of the deposit.
	wantPctX := decimal.NewFromInt(-147).Div(decimal.NewFromInt(200)).Mul(decimal.NewFromInt(100))
	if !report.VsHoldX.DeltaPct.Equal(wantPctX) {
		t.Errorf("pct vs x = %s, want %s", report.VsHoldX.DeltaPct, wantPctX)
	}

	// Hold all-Y: $200 bought 200 Y, still $200.
	if !report.VsHoldY.HoldUSD.Equal(decimal.NewFromInt(200)) {
		t.Errorf("hold y = %s, want 200", report.VsHoldY.HoldUSD)
	}
	if !report.VsHoldY.DeltaUSD.Equal(decimal.NewFromInt(53)) {
		t.Errorf("delta vs y = %s, want 53", report.VsHoldY.DeltaUSD)
	}
	wantPct := decimal.NewFromInt(53).Div(decimal.NewFromInt(200)).Mul(decimal.NewFromInt(100))
	if !report.VsHoldY.DeltaPct.Equal(wantPct) {
		t.Errorf("pct vs y = %s, want %s", report.VsHoldY.DeltaPct, wantPct)
	}
}

func TestReportWithoutBaselineFails(t *testing.T) {
	tr := newTracker(&memStore{}, fixedPrices{priceX: decimal.NewFromInt(1), priceY: decimal.NewFromInt(1)})

	_, err := tr.Report(context.Background(), "w", "p", testPair(), domain.PositionSnapshot{})
	if err == nil {
		t.Fatal("expected error without baseline")
	}
	if domain.CodeOf(err) != domain.CodeNotFound {
		t.Errorf("code = %s", domain.CodeOf(err))
	}
}

func TestReportZeroPriceFails(t *testing.T) {
	store := &memStore{baseline: &domain.Baseline{TotalUSD: decimal.NewFromInt(1)}}
	tr := newTracker(store, fixedPrices{priceX: decimal.Zero, priceY: decimal.NewFromInt(1)})

	_, err := tr.Report(context.Background(), "w", "p", testPair(), domain.PositionSnapshot{})
	if err == nil {
		t.Fatal("expected error on zero price")
	}
	if domain.CodeOf(err) != domain.CodePriceUnavailable {
		t.Errorf("code = %s", domain.CodeOf(err))
	}
}

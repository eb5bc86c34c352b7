package rebalance

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/accounting"
	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/fees"
	"github.com/solquant/dlmmbot/internal/platform/dlmm"
	"github.com/solquant/dlmmbot/internal/platform/jupiter"
)

var (
	mintX   = solana.PublicKey{1}
	mintY   = solana.PublicKey{2}
	poolKey = solana.PublicKey{3}
	posKey  = solana.PublicKey{4}
)

type fakePool struct {
	snap       domain.PositionSnapshot
	closePlans int
}

func (p *fakePool) Address() solana.PublicKey      { return poolKey }
func (p *fakePool) Mints() (x, y solana.PublicKey) { return mintX, mintY }
func (p *fakePool) Decimals() (x, y uint8)         { return 9, 6 }
func (p *fakePool) MaxBinsPerTx() int              { return 69 }

func (p *fakePool) ActiveBin(ctx context.Context) (int32, error) { return 100, nil }

func (p *fakePool) PositionsForOwner(ctx context.Context, owner solana.PublicKey) ([]domain.PositionSnapshot, error) {
	if p.snap.Key.IsZero() {
		return nil, nil
	}
	return []domain.PositionSnapshot{p.snap}, nil
}

func (p *fakePool) QuoteCreationCost(ctx context.Context, req dlmm.OpenRequest) (dlmm.CreationCost, error) {
	return dlmm.CreationCost{}, nil
}

func (p *fakePool) BuildOpen(ctx context.Context, req dlmm.OpenRequest) (dlmm.TxPlan, solana.PublicKey, error) {
	return dlmm.TxPlan{}, solana.PublicKey{}, nil
}

func (p *fakePool) BuildOpenMulti(ctx context.Context, req dlmm.OpenRequest) ([]dlmm.PositionTxGroup, error) {
	return nil, nil
}

func (p *fakePool) BuildCloseAll(ctx context.Context, snap domain.PositionSnapshot) ([]dlmm.TxPlan, error) {
	plans := make([]dlmm.TxPlan, p.closePlans)
	for i := range plans {
		plans[i] = dlmm.TxPlan{Label: "close_position"}
	}
	return plans, nil
}

type fakeChain struct {
	sends   int
	settles int
}

func (c *fakeChain) Wallet() solana.PublicKey { return solana.PublicKey{7} }

func (c *fakeChain) AssembleTx(ctx context.Context, instrs []solana.Instruction, extraSigners ...solana.PrivateKey) (*solana.Transaction, error) {
	return &solana.Transaction{}, nil
}

func (c *fakeChain) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	c.sends++
	return solana.Signature{byte(c.sends)}, nil
}

func (c *fakeChain) WaitSettle(ctx context.Context) error {
	c.settles++
	return nil
}

type fakeOpener struct {
	calls  []domain.OpenParams
	result domain.OpenResult
}

func (o *fakeOpener) Open(ctx context.Context, p domain.OpenParams, log *domain.ExecutionLog) (domain.OpenResult, error) {
	o.calls = append(o.calls, p)
	return o.result, nil
}

type fakeSwapper struct {
	swaps []uint64
	out   uint64
}

func (s *fakeSwapper) Swap(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps int) (jupiter.SwapReceipt, error) {
	s.swaps = append(s.swaps, amount)
	return jupiter.SwapReceipt{AmountIn: amount, AmountOut: s.out}, nil
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

type memStore struct {
	claimedX, claimedY uint64
}

func (s *memStore) LoadBaseline(ctx context.Context, wallet, pool string) (*domain.Baseline, error) {
	return nil, nil
}
func (s *memStore) SaveBaseline(ctx context.Context, b domain.Baseline) error { return nil }

func (s *memStore) AddClaimedFees(ctx context.Context, wallet, pool string, feeX, feeY uint64) error {
	s.claimedX += feeX
	s.claimedY += feeY
	return nil
}

func (s *memStore) LifetimeClaimedFees(ctx context.Context, wallet, pool string) (uint64, uint64, error) {
	return s.claimedX, s.claimedY, nil
}

type fixture struct {
	pool    *fakePool
	chain   *fakeChain
	opener  *fakeOpener
	swapper *fakeSwapper
	store   *memStore
	orch    *Orchestrator
}

func newFixture(snap domain.PositionSnapshot) *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		pool:    &fakePool{snap: snap, closePlans: 2},
		chain:   &fakeChain{},
		opener:  &fakeOpener{result: domain.OpenResult{PositionKey: solana.PublicKey{9}, Signature: solana.Signature{9}}},
		swapper: &fakeSwapper{out: 42},
		store:   &memStore{},
	}
	prices := fixedPrices{priceX: decimal.NewFromInt(100), priceY: decimal.NewFromInt(1)}
	tracker := accounting.New(f.store, prices, logger)
	f.orch = New(f.pool, f.chain, f.opener, f.swapper, prices, tracker, fees.NewEstimator(nil, logger),
		Options{MinSwapUSD: decimal.NewFromInt(1), SwapSlippageBps: 50, ComputeUnits: 400_000}, logger)
	return f
}

func liveSnap() domain.PositionSnapshot {
	return domain.PositionSnapshot{
		Key:        posKey,
		Pool:       poolKey,
		Underlying: []solana.PublicKey{posKey},
		MinBin:     90,
		MaxBin:     109,
		AmountX:    1_000_000,
		AmountY:    2_000_000,
		FeeX:       10_000,
		FeeY:       20_000,
	}
}

func params(mode domain.FeeMode) domain.RebalanceParams {
	return domain.RebalanceParams{
		PositionKey: posKey,
		Context: domain.RebalanceContext{
			Budget:   domain.Budget{Lamports: 5_000_000_000},
			Ratio:    &domain.Ratio{X: 0.5, Y: 0.5},
			BinSpan:  20,
			Strategy: domain.StrategySpot,
			FeeMode:  mode,
		},
		Direction: domain.SideX,
	}
}

func run(t *testing.T, f *fixture, p domain.RebalanceParams) domain.RebalanceResult {
	t.Helper()
	res, err := f.orch.Rebalance(context.Background(), p, fees.TierMedium, domain.NewExecutionLog())
	if err != nil {
		t.Fatalf("Rebalance: %v", err)
	}
	return res
}

func TestRebalanceReopensFromSnapshot(t *testing.T) {
	f := newFixture(liveSnap())
	res := run(t, f, params(domain.FeeKeep))

	if res.NewPositionKey == nil || res.Signature == nil {
		t.Fatal("expected a reopened position")
	}
	if len(f.opener.calls) != 1 {
		t.Fatalf("opens = %d, want 1", len(f.opener.calls))
	}
	got := f.opener.calls[0]
	if got.ProvidedBalances == nil {
		t.Fatal("reopen must size from the close snapshot, not wallet reads")
	}
	// keep mode: snapshot amounts only, no fees folded in.
	if got.ProvidedBalances.X != 1_000_000 || got.ProvidedBalances.Y != 2_000_000 {
		t.Errorf("reopen amounts = %d/%d, want snapshot amounts", got.ProvidedBalances.X, got.ProvidedBalances.Y)
	}
	if f.chain.sends != 2 {
		t.Errorf("close sends = %d, want 2 (one per close plan)", f.chain.sends)
	}
}

func TestRebalanceDepletedPosition(t *testing.T) {
	snap := liveSnap()
	snap.AmountX = 0
	snap.AmountY = 0
	snap.FeeX = 0
	snap.FeeY = 0
	f := newFixture(snap)

	res := run(t, f, params(domain.FeeKeep))
	if res.NewPositionKey != nil || res.Signature != nil {
		t.Error("depleted position must return nil key and signature")
	}
	if len(f.opener.calls) != 0 {
		t.Errorf("opens = %d, want 0", len(f.opener.calls))
	}
}

func TestRebalanceCompoundBoth(t *testing.T) {
	f := newFixture(liveSnap())
	run(t, f, params(domain.FeeCompoundBoth))

	got := f.opener.calls[0].ProvidedBalances
	if got.X != 1_010_000 || got.Y != 2_020_000 {
		t.Errorf("reopen amounts = %d/%d, want fees folded into both sides", got.X, got.Y)
	}
	if f.store.claimedX != 10_000 || f.store.claimedY != 20_000 {
		t.Errorf("lifetime fees = %d/%d, want claim recorded", f.store.claimedX, f.store.claimedY)
	}
}

func TestRebalanceConvertSwapsQuoteFees(t *testing.T) {
	// FeeY of 20_000 raw at 6 decimals and $1 is $0.02, below the $1
	// threshold, so no swap. Raise it to clear the bar.
	snap := liveSnap()
	snap.FeeY = 2_000_000 // $2
	f := newFixture(snap)

	res := run(t, f, params(domain.FeeConvert))
	if len(f.swapper.swaps) != 1 || f.swapper.swaps[0] != 2_000_000 {
		t.Fatalf("swaps = %v, want one swap of the full quote fee", f.swapper.swaps)
	}
	got := f.opener.calls[0].ProvidedBalances
	// X gains its own fee plus the swap output.
	if got.X != 1_000_000+10_000+42 {
		t.Errorf("reopen x = %d, want snapshot + feeX + swap out", got.X)
	}
	if !res.UnswappedFeesUSD.IsZero() {
		t.Errorf("unswapped = %s, want 0", res.UnswappedFeesUSD)
	}
}

func TestRebalanceConvertBelowThresholdReportsUnswapped(t *testing.T) {
	f := newFixture(liveSnap()) // FeeY worth $0.02

	res := run(t, f, params(domain.FeeConvert))
	if len(f.swapper.swaps) != 0 {
		t.Errorf("swaps = %v, want none below threshold", f.swapper.swaps)
	}
	if !res.UnswappedFeesUSD.Equal(decimal.NewFromFloat(0.02)) {
		t.Errorf("unswapped = %s, want 0.02", res.UnswappedFeesUSD)
	}
}

func TestRebalanceSwaplessUsesDirectionHint(t *testing.T) {
	f := newFixture(liveSnap())
	p := params(domain.FeeKeep)
	p.Context.Swapless = true
	p.Direction = domain.SideY

	run(t, f, p)
	got := f.opener.calls[0]
	if got.OneSided == nil {
		t.Fatal("swapless reopen must be one-sided")
	}
	if got.OneSided.Direction != domain.SideY {
		t.Errorf("direction = %s, want declared drift side", got.OneSided.Direction)
	}
	if got.Ratio != nil {
		t.Error("swapless reopen must not carry a ratio")
	}
}

func TestRebalanceMissingPosition(t *testing.T) {
	f := newFixture(domain.PositionSnapshot{})

	_, err := f.orch.Rebalance(context.Background(), params(domain.FeeKeep), fees.TierMedium, domain.NewExecutionLog())
	if err == nil {
		t.Fatal("expected error for unknown position")
	}
	if domain.CodeOf(err) != domain.CodeNotFound {
		t.Errorf("code = %s", domain.CodeOf(err))
	}
}

package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/accounting"
	"github.com/solquant/dlmmbot/internal/allocator"
	"github.com/solquant/dlmmbot/internal/balancer"
	"github.com/solquant/dlmmbot/internal/budget"
	"github.com/solquant/dlmmbot/internal/builder"
	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/fees"
	"github.com/solquant/dlmmbot/internal/platform/dlmm"
	solchain "github.com/solquant/dlmmbot/internal/platform/solana"
	"github.com/solquant/dlmmbot/internal/retrier"
)

var (
	mintSOL = solchain.WrappedSOLMint
	mintUSD = solana.PublicKey{2}
)

type fakePool struct {
	active []int32 // per-read values; the last one repeats
	reads  int
}

func (p *fakePool) Address() solana.PublicKey      { return solana.PublicKey{3} }
func (p *fakePool) Mints() (x, y solana.PublicKey) { return mintSOL, mintUSD }
func (p *fakePool) Decimals() (x, y uint8)         { return 9, 6 }
func (p *fakePool) MaxBinsPerTx() int              { return 69 }

func (p *fakePool) ActiveBin(ctx context.Context) (int32, error) {
	i := p.reads
	p.reads++
	if i >= len(p.active) {
		i = len(p.active) - 1
	}
	return p.active[i], nil
}

func (p *fakePool) PositionsForOwner(ctx context.Context, owner solana.PublicKey) ([]domain.PositionSnapshot, error) {
	return nil, nil
}

func (p *fakePool) QuoteCreationCost(ctx context.Context, req dlmm.OpenRequest) (dlmm.CreationCost, error) {
	return dlmm.CreationCost{PositionRent: 50_000_000}, nil
}

func (p *fakePool) BuildOpen(ctx context.Context, req dlmm.OpenRequest) (dlmm.TxPlan, solana.PublicKey, error) {
	return dlmm.TxPlan{}, solana.PublicKey{}, nil
}

func (p *fakePool) BuildOpenMulti(ctx context.Context, req dlmm.OpenRequest) ([]dlmm.PositionTxGroup, error) {
	return nil, nil
}

func (p *fakePool) BuildCloseAll(ctx context.Context, snap domain.PositionSnapshot) ([]dlmm.TxPlan, error) {
	return nil, nil
}

type fakeChain struct {
	lamports uint64
	tokens   map[solana.PublicKey]uint64
	unwraps  int
}

func (c *fakeChain) Wallet() solana.PublicKey { return solana.PublicKey{7} }

func (c *fakeChain) LamportsBalance(ctx context.Context) (uint64, error) { return c.lamports, nil }

func (c *fakeChain) TokenBalance(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	return c.tokens[mint], nil
}

func (c *fakeChain) UnwrapWSOL(ctx context.Context) error {
	c.unwraps++
	return nil
}

func (c *fakeChain) WaitSettle(ctx context.Context) error { return nil }

type fakeBalancer struct {
	calls int
}

func (b *fakeBalancer) Balance(ctx context.Context, p balancer.Params, log *domain.ExecutionLog) (balancer.Result, error) {
	b.calls++
	return balancer.Result{Plan: balancer.Plan{Skip: true, Reason: "test"}}, nil
}

type fakeBuilder struct {
	errs     []error // popped per attempt; nil entry means success
	attempts []domain.DepositPlan
	tiers    []fees.Tier
}

func (b *fakeBuilder) Open(ctx context.Context, req dlmm.OpenRequest, tier fees.Tier, log *domain.ExecutionLog) (builder.Result, error) {
	b.attempts = append(b.attempts, req.Plan)
	b.tiers = append(b.tiers, tier)
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		if err != nil {
			return builder.Result{}, err
		}
	}
	return builder.Result{
		PositionKey: solana.PublicKey{9},
		Signature:   solana.Signature{9},
		AmountX:     req.Plan.AmountX,
		AmountY:     req.Plan.AmountY,
	}, nil
}

type fakeKeeper struct {
	deposits []domain.Amounts
}

func (k *fakeKeeper) EnsureBaseline(ctx context.Context, wallet, pool string, pair accounting.Pair, deposited domain.Amounts) (domain.Baseline, error) {
	k.deposits = append(k.deposits, deposited)
	return domain.Baseline{}, nil
}

type fixedPrices struct{}

func (fixedPrices) USDPrice(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	if mint == mintSOL {
		return decimal.NewFromInt(100), nil
	}
	return decimal.NewFromInt(1), nil
}

func (f fixedPrices) USDPrices(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]decimal.Decimal, error) {
	out := make(map[solana.PublicKey]decimal.Decimal, len(mints))
	for _, m := range mints {
		out[m], _ = f.USDPrice(ctx, m)
	}
	return out, nil
}

type fixture struct {
	pool   *fakePool
	chain  *fakeChain
	bal    *fakeBalancer
	build  *fakeBuilder
	keeper *fakeKeeper
	engine *Engine
}

func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		pool: &fakePool{active: []int32{100}},
		chain: &fakeChain{
			lamports: 2_000_000_000,
			tokens: map[solana.PublicKey]uint64{
				mintSOL: 1_200_000_000,
				mintUSD: 100_000_000,
			},
		},
		bal:    &fakeBalancer{},
		build:  &fakeBuilder{},
		keeper: &fakeKeeper{},
	}
	policy := retrier.Policy{
		MaxAttempts: 3,
		SlippageBps: []int{50, 100, 300},
		FeeTiers:    fees.Ladder(fees.TierMedium, 3),
	}
	f.engine = New(f.pool, f.chain, allocator.New(logger), budget.New(30, logger),
		f.bal, f.build, f.keeper, fixedPrices{}, policy,
		Settings{MinFeeReserveLamports: 10_000_000, FeeBufferLamports: 1_000_000, BalanceSlippageBps: 50},
		logger)
	return f
}

func openParams() domain.OpenParams {
	return domain.OpenParams{
		Budget:   domain.Budget{Lamports: 1_000_000_000},
		Ratio:    &domain.Ratio{X: 0.5, Y: 0.5},
		BinSpan:  20,
		Strategy: domain.StrategySpot,
	}
}

func TestOpenTwoSided(t *testing.T) {
	f := newFixture()

	res, err := f.engine.Open(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if res.PositionKey.IsZero() {
		t.Error("missing position key")
	}
	if res.BinCount != 20 {
		t.Errorf("bin count = %d, want 20", res.BinCount)
	}
	if f.bal.calls != 1 {
		t.Errorf("balancer calls = %d, want 1", f.bal.calls)
	}
	if len(f.keeper.deposits) != 1 {
		t.Fatalf("baseline writes = %d, want 1", len(f.keeper.deposits))
	}

	plan := f.build.attempts[0]
	// Budget 1 SOL capped, fee+rent carved out, ratio half, haircut: the
	// SOL side must land strictly under half the budget.
	if plan.AmountX == 0 || plan.AmountX > 500_000_000 {
		t.Errorf("sol-side amount = %d, want (0, 500_000_000]", plan.AmountX)
	}
	if plan.AmountY == 0 {
		t.Error("quote side must be funded in a two-sided open")
	}
}

func TestOpenOneSidedDepositsOneAsset(t *testing.T) {
	f := newFixture()
	p := openParams()
	p.Ratio = nil
	p.OneSided = &domain.OneSidedOptions{Direction: domain.SideY}
	f.chain.tokens[mintSOL] = 0

	_, err := f.engine.Open(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	plan := f.build.attempts[0]
	if plan.AmountX != 0 {
		t.Errorf("x amount = %d, want 0 for a Y-side deposit", plan.AmountX)
	}
	if plan.AmountY == 0 {
		t.Error("y amount must be non-zero")
	}
	// Y occupies the active bin and the span below it.
	if plan.MinBin != 81 || plan.MaxBin != 100 {
		t.Errorf("range = [%d, %d], want [81, 100]", plan.MinBin, plan.MaxBin)
	}
	if f.bal.calls != 0 {
		t.Error("one-sided open must not swap")
	}
}

func TestOpenProvidedBalancesSkipBalancer(t *testing.T) {
	f := newFixture()
	p := openParams()
	p.ProvidedBalances = &domain.Amounts{X: 500_000_000, Y: 50_000_000}

	_, err := f.engine.Open(context.Background(), p, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if f.bal.calls != 0 {
		t.Error("provided balances must not be re-balanced")
	}
	plan := f.build.attempts[0]
	if plan.AmountX > 500_000_000 || plan.AmountY > 50_000_000 {
		t.Errorf("amounts %d/%d exceed the provided snapshot", plan.AmountX, plan.AmountY)
	}
}

func TestOpenRetriesEscalateLadders(t *testing.T) {
	f := newFixture()
	f.build.errs = []error{
		domain.Codedf(domain.CodeVenueTransient, "solana.send", "blockhash not found"),
		nil,
	}

	_, err := f.engine.Open(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(f.build.attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(f.build.attempts))
	}
	if f.build.attempts[0].SlippageBps != 50 || f.build.attempts[1].SlippageBps != 100 {
		t.Errorf("slippage ladder = %d, %d, want 50, 100",
			f.build.attempts[0].SlippageBps, f.build.attempts[1].SlippageBps)
	}
	if f.build.tiers[1] == f.build.tiers[0] {
		t.Error("fee tier must escalate between attempts")
	}
}

func TestOpenReanchorsWhenActiveBinMoves(t *testing.T) {
	f := newFixture()
	// One read at sizing, one per attempt: the bin moves before the retry.
	f.pool.active = []int32{100, 100, 110}
	f.build.errs = []error{
		domain.Codedf(domain.CodeVenueTransient, "meteora.add", "bin slippage exceeded"),
		nil,
	}

	_, err := f.engine.Open(context.Background(), openParams(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(f.build.attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(f.build.attempts))
	}
	if f.pool.reads != 3 {
		t.Errorf("active bin reads = %d, want a fresh read per attempt", f.pool.reads)
	}

	first := f.build.attempts[0]
	if first.MinBin != 91 || first.MaxBin != 110 || first.ActiveBin != 100 {
		t.Errorf("first attempt = [%d, %d] at %d, want [91, 110] at 100",
			first.MinBin, first.MaxBin, first.ActiveBin)
	}

	// The retry must carry the same below/above counts around the new bin,
	// not resubmit the stale range.
	second := f.build.attempts[1]
	if second.MinBin != 101 || second.MaxBin != 120 || second.ActiveBin != 110 {
		t.Errorf("second attempt = [%d, %d] at %d, want [101, 120] at 110",
			second.MinBin, second.MaxBin, second.ActiveBin)
	}
}

func TestOpenNonRetryableStopsImmediately(t *testing.T) {
	f := newFixture()
	f.build.errs = []error{
		domain.Codedf(domain.CodeValidation, "meteora.open", "plan spans too many bins"),
	}

	_, err := f.engine.Open(context.Background(), openParams(), nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(f.build.attempts) != 1 {
		t.Errorf("attempts = %d, want 1 for a non-retryable error", len(f.build.attempts))
	}
	if f.chain.unwraps != 1 {
		t.Errorf("wsol unwraps = %d, want 1 on the failure path", f.chain.unwraps)
	}
}

func TestOpenRejectsBadSpan(t *testing.T) {
	f := newFixture()
	p := openParams()
	p.BinSpan = 0

	_, err := f.engine.Open(context.Background(), p, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if domain.CodeOf(err) != domain.CodeValidation {
		t.Errorf("code = %s", domain.CodeOf(err))
	}
}

package balancer

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/platform/jupiter"
)

var (
	mintX = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	mintY = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

func testPair() Pair {
	return Pair{MintX: mintX, MintY: mintY, DecimalsX: 9, DecimalsY: 6}
}

type fakePrices struct {
	prices map[solana.PublicKey]decimal.Decimal
}

func (f fakePrices) USDPrice(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	return f.prices[mint], nil
}

func (f fakePrices) USDPrices(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]decimal.Decimal, error) {
	return f.prices, nil
}

type fakeSwapper struct {
	calls []struct {
		in, out solana.PublicKey
		amount  uint64
	}
}

func (f *fakeSwapper) Swap(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps int) (jupiter.SwapReceipt, error) {
	f.calls = append(f.calls, struct {
		in, out solana.PublicKey
		amount  uint64
	}{in, out, amount})
	return jupiter.SwapReceipt{AmountIn: amount, AmountOut: amount}, nil
}

func testBalancer(t *testing.T, swapper Swapper) *Balancer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(fakePrices{}, swapper, decimal.NewFromFloat(0.05), logger)
}

func TestComputePlanBalanced(t *testing.T) {
	b := testBalancer(t, nil)

	// 1 SOL at $100 and 100 USDC at $1 against a 50/50 target: dead even.
	plan, err := b.ComputePlan(Params{
		Pair:     testPair(),
		Balances: domain.Amounts{X: 1_000_000_000, Y: 100_000_000},
		Ratio:    domain.Ratio{X: 0.5, Y: 0.5},
	}, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	if !plan.Skip {
		t.Errorf("expected skip, got swap of %d", plan.AmountIn)
	}
}

func TestComputePlanBelowThreshold(t *testing.T) {
	b := testBalancer(t, nil)

	// Three cents of imbalance is not worth a swap.
	plan, err := b.ComputePlan(Params{
		Pair:     testPair(),
		Balances: domain.Amounts{X: 1_000_000_000, Y: 100_030_000},
		Ratio:    domain.Ratio{X: 0.5, Y: 0.5},
	}, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	if !plan.Skip {
		t.Errorf("expected skip below threshold, got swap of %d", plan.AmountIn)
	}
}

func TestComputePlanDeficientX(t *testing.T) {
	b := testBalancer(t, nil)

	// All value in Y against a 50/50 target: Y pays half its value into X.
	plan, err := b.ComputePlan(Params{
		Pair:                  testPair(),
		Balances:              domain.Amounts{X: 0, Y: 200_000_000},
		Ratio:                 domain.Ratio{X: 0.5, Y: 0.5},
		FeeReserveLamports:    100_000_000,
		MinFeeReserveLamports: 10_000_000,
	}, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	if plan.Skip {
		t.Fatalf("expected swap, skipped: %s", plan.Reason)
	}
	if plan.FromMint != mintY || plan.ToMint != mintX {
		t.Errorf("swap direction = %s -> %s, want Y -> X", plan.FromMint, plan.ToMint)
	}
	if plan.AmountIn != 100_000_000 {
		t.Errorf("amount in = %d, want 100_000_000 (half of Y)", plan.AmountIn)
	}
}

func TestComputePlanCappedByPayingBalance(t *testing.T) {
	b := testBalancer(t, nil)

	// Budget implies a bigger swap than Y holds; cap at the balance.
	plan, err := b.ComputePlan(Params{
		Pair:                  testPair(),
		Balances:              domain.Amounts{X: 0, Y: 10_000_000},
		Ratio:                 domain.Ratio{X: 0.5, Y: 0.5},
		BudgetUSD:             decimal.NewFromInt(1000),
		FeeReserveLamports:    100_000_000,
		MinFeeReserveLamports: 10_000_000,
	}, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	if plan.Skip {
		t.Fatalf("expected swap, skipped: %s", plan.Reason)
	}
	if plan.AmountIn > 10_000_000 {
		t.Errorf("amount in = %d exceeds paying balance", plan.AmountIn)
	}
}

func TestComputePlanOneSidedTargetSkips(t *testing.T) {
	b := testBalancer(t, nil)

	plan, err := b.ComputePlan(Params{
		Pair:     testPair(),
		Balances: domain.Amounts{X: 0, Y: 200_000_000},
		Ratio:    domain.Ratio{X: 1, Y: 0},
	}, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	if !plan.Skip {
		t.Error("one-sided target must skip swapping")
	}
}

func TestComputePlanInsufficientFeeReserveSkips(t *testing.T) {
	b := testBalancer(t, nil)

	plan, err := b.ComputePlan(Params{
		Pair:                  testPair(),
		Balances:              domain.Amounts{X: 0, Y: 200_000_000},
		Ratio:                 domain.Ratio{X: 0.5, Y: 0.5},
		FeeReserveLamports:    1_000,
		MinFeeReserveLamports: 10_000_000,
	}, decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	if !plan.Skip {
		t.Error("low fee reserve must skip, not fail")
	}
}

func TestBalanceExecutesSwap(t *testing.T) {
	swapper := &fakeSwapper{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prices := fakePrices{prices: map[solana.PublicKey]decimal.Decimal{
		mintX: decimal.NewFromInt(100),
		mintY: decimal.NewFromInt(1),
	}}
	b := New(prices, swapper, decimal.NewFromFloat(0.05), logger)

	log := domain.NewExecutionLog()
	res, err := b.Balance(context.Background(), Params{
		Pair:                  testPair(),
		Balances:              domain.Amounts{X: 0, Y: 200_000_000},
		Ratio:                 domain.Ratio{X: 0.5, Y: 0.5},
		FeeReserveLamports:    100_000_000,
		MinFeeReserveLamports: 10_000_000,
		SlippageBps:           50,
	}, log)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if res.Receipt == nil {
		t.Fatal("expected a swap receipt")
	}
	if len(swapper.calls) != 1 {
		t.Fatalf("swap calls = %d, want 1", len(swapper.calls))
	}
	if swapper.calls[0].in != mintY {
		t.Errorf("paying mint = %s, want Y", swapper.calls[0].in)
	}
	if len(log.Signatures()) != 1 {
		t.Errorf("execution log signatures = %d, want 1", len(log.Signatures()))
	}
}

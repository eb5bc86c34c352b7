// Package balancer reshapes wallet token composition toward a deposit
// plan's target ratio before liquidity is added. It computes the USD
// imbalance between the two assets and, when it is worth fixing, swaps the
// surplus side into the deficient side through the aggregator.
package balancer

import (
	"context"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/platform/jupiter"
	"github.com/solquant/dlmmbot/internal/platform/pricing"
)

// Swapper executes an exact-in swap. Satisfied by jupiter.Executor.
type Swapper interface {
	Swap(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps int) (jupiter.SwapReceipt, error)
}

// Pair describes the two assets being balanced.
type Pair struct {
	MintX, MintY         solana.PublicKey
	DecimalsX, DecimalsY uint8
}

// Params is one balancing request.
type Params struct {
	Pair     Pair
	Balances domain.Amounts
	Ratio    domain.Ratio
	// BudgetUSD, when positive, caps the total value considered deployable.
	BudgetUSD decimal.Decimal
	// FeeReserveLamports is the wallet SOL left over for transaction fees.
	// Below MinFeeReserveLamports, balancing is skipped rather than risking
	// a swap that strands the wallet without fee headroom.
	FeeReserveLamports    uint64
	MinFeeReserveLamports uint64
	SlippageBps           int
}

// Plan is the computed swap decision.
type Plan struct {
	// Skip is true when no swap should run; Reason says why.
	Skip   bool
	Reason string

	// FromMint/ToMint/AmountIn describe the swap when Skip is false.
	FromMint solana.PublicKey
	ToMint   solana.PublicKey
	AmountIn uint64
	DeltaUSD decimal.Decimal
}

// Result reports what the balancer did.
type Result struct {
	Plan    Plan
	Receipt *jupiter.SwapReceipt
}

// Balancer sizes and executes composition swaps.
type Balancer struct {
	prices       pricing.Source
	swapper      Swapper
	thresholdUSD decimal.Decimal
	logger       *slog.Logger
}

// New creates a Balancer. thresholdUSD is the minimum imbalance worth a
// swap; deltas under it are left alone.
func New(prices pricing.Source, swapper Swapper, thresholdUSD decimal.Decimal, logger *slog.Logger) *Balancer {
	return &Balancer{
		prices:       prices,
		swapper:      swapper,
		thresholdUSD: thresholdUSD,
		logger:       logger.With(slog.String("component", "balancer")),
	}
}

// tokenValue converts a raw amount to USD at the given per-whole-token price.
func tokenValue(raw uint64, decimals uint8, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromUint64(raw).Shift(-int32(decimals)).Mul(price)
}

// usdToRaw converts a USD value back to raw token units at the given price.
func usdToRaw(usd decimal.Decimal, decimals uint8, price decimal.Decimal) uint64 {
	if price.IsZero() {
		return 0
	}
	raw := usd.Div(price).Shift(int32(decimals))
	if raw.IsNegative() {
		return 0
	}
	v := raw.BigInt()
	if !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

// ComputePlan decides whether a swap is needed and sizes it. Pure: no
// network calls besides the injected prices.
func (b *Balancer) ComputePlan(p Params, priceX, priceY decimal.Decimal) (Plan, error) {
	if err := p.Ratio.Validate(); err != nil {
		return Plan{}, err
	}
	// One-sided targets never swap; the deposit side is chosen from the
	// actual balances downstream.
	if p.Ratio.X == 0 || p.Ratio.Y == 0 {
		return Plan{Skip: true, Reason: "one-sided target"}, nil
	}
	if priceX.IsZero() || priceY.IsZero() {
		return Plan{}, domain.Codedf(domain.CodePriceUnavailable, "balancer", "zero price for pair asset")
	}

	valueX := tokenValue(p.Balances.X, p.Pair.DecimalsX, priceX)
	valueY := tokenValue(p.Balances.Y, p.Pair.DecimalsY, priceY)
	total := valueX.Add(valueY)
	if p.BudgetUSD.IsPositive() && total.GreaterThan(p.BudgetUSD) {
		total = p.BudgetUSD
	}

	targetX := total.Mul(decimal.NewFromFloat(p.Ratio.X))
	deltaX := targetX.Sub(valueX)

	if deltaX.Abs().LessThan(b.thresholdUSD) {
		return Plan{Skip: true, Reason: "imbalance below threshold", DeltaUSD: deltaX}, nil
	}

	if p.FeeReserveLamports < p.MinFeeReserveLamports {
		return Plan{Skip: true, Reason: "insufficient fee reserve, using balances as-is", DeltaUSD: deltaX}, nil
	}

	plan := Plan{DeltaUSD: deltaX}
	if deltaX.IsPositive() {
		// X is deficient: Y pays.
		swapUSD := deltaX
		if surplus := valueY.Sub(total.Mul(decimal.NewFromFloat(p.Ratio.Y))); swapUSD.GreaterThan(surplus) {
			swapUSD = surplus
		}
		plan.FromMint, plan.ToMint = p.Pair.MintY, p.Pair.MintX
		plan.AmountIn = usdToRaw(swapUSD, p.Pair.DecimalsY, priceY)
		if plan.AmountIn > p.Balances.Y {
			plan.AmountIn = p.Balances.Y
		}
	} else {
		// Y is deficient: X pays.
		swapUSD := deltaX.Neg()
		if surplus := valueX.Sub(targetX); swapUSD.GreaterThan(surplus) {
			swapUSD = surplus
		}
		plan.FromMint, plan.ToMint = p.Pair.MintX, p.Pair.MintY
		plan.AmountIn = usdToRaw(swapUSD, p.Pair.DecimalsX, priceX)
		if plan.AmountIn > p.Balances.X {
			plan.AmountIn = p.Balances.X
		}
	}

	if plan.AmountIn == 0 {
		return Plan{Skip: true, Reason: "swap rounds to zero", DeltaUSD: deltaX}, nil
	}
	return plan, nil
}

// Balance fetches prices, computes the plan, and executes it. A skipped plan
// is a success with a nil receipt.
func (b *Balancer) Balance(ctx context.Context, p Params, log *domain.ExecutionLog) (Result, error) {
	prices, err := b.prices.USDPrices(ctx, []solana.PublicKey{p.Pair.MintX, p.Pair.MintY})
	if err != nil {
		return Result{}, err
	}
	priceX, okX := prices[p.Pair.MintX]
	priceY, okY := prices[p.Pair.MintY]
	if !okX || !okY {
		return Result{}, domain.Codedf(domain.CodePriceUnavailable, "balancer", "missing price for pair asset")
	}

	plan, err := b.ComputePlan(p, priceX, priceY)
	if err != nil {
		return Result{}, err
	}
	if plan.Skip {
		b.logger.Info("balancing skipped", slog.String("reason", plan.Reason), slog.String("delta_usd", plan.DeltaUSD.StringFixed(4)))
		log.Note("balance_skipped: " + plan.Reason)
		return Result{Plan: plan}, nil
	}

	b.logger.Info("balancing composition",
		slog.String("delta_usd", plan.DeltaUSD.StringFixed(4)),
		slog.String("from", plan.FromMint.String()),
		slog.String("to", plan.ToMint.String()),
		slog.Uint64("amount_in", plan.AmountIn),
	)

	receipt, err := b.swapper.Swap(ctx, plan.FromMint, plan.ToMint, plan.AmountIn, p.SlippageBps)
	if err != nil {
		return Result{Plan: plan}, err
	}
	log.TxSent(receipt.Signature.String(), "balance_swap")
	return Result{Plan: plan, Receipt: &receipt}, nil
}

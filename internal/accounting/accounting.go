// Package accounting tracks the money: lifetime claimed fees per asset and
// profit/loss of the managed position against the hold counterfactuals of
// the immutable first-open baseline.
package accounting

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/platform/pricing"
)

// Store persists the baseline and the lifetime claimed-fee counters.
// Claimed-fee totals only ever grow; the store enforces that with atomic
// increments.
type Store interface {
	LoadBaseline(ctx context.Context, wallet, pool string) (*domain.Baseline, error)
	SaveBaseline(ctx context.Context, b domain.Baseline) error
	AddClaimedFees(ctx context.Context, wallet, pool string, feeX, feeY uint64) error
	LifetimeClaimedFees(ctx context.Context, wallet, pool string) (feeX, feeY uint64, err error)
}

// Pair carries what valuation needs to price raw amounts.
type Pair struct {
	MintX, MintY         solana.PublicKey
	DecimalsX, DecimalsY uint8
}

// Tracker is the accounting entry point.
type Tracker struct {
	store  Store
	prices pricing.Source
	logger *slog.Logger
}

// New creates a Tracker.
func New(store Store, prices pricing.Source, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		prices: prices,
		logger: logger.With(slog.String("component", "accounting")),
	}
}

// EnsureBaseline loads the baseline for this wallet+pool, recording one from
// the given deposit if none exists yet. The baseline is taken exactly once;
// later opens and rebalances never replace it.
func (t *Tracker) EnsureBaseline(ctx context.Context, wallet, pool string, pair Pair, deposited domain.Amounts) (domain.Baseline, error) {
	existing, err := t.store.LoadBaseline(ctx, wallet, pool)
	if err != nil {
		return domain.Baseline{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	priceX, priceY, err := t.pairPrices(ctx, pair)
	if err != nil {
		return domain.Baseline{}, err
	}

	b := domain.Baseline{
		Wallet:  wallet,
		Pool:    pool,
		AmountX: deposited.X,
		AmountY: deposited.Y,
		PriceX:  priceX,
		PriceY:  priceY,
		TotalUSD: tokenValue(deposited.X, pair.DecimalsX, priceX).
			Add(tokenValue(deposited.Y, pair.DecimalsY, priceY)),
		TakenAt: time.Now().UTC(),
	}
	if err := t.store.SaveBaseline(ctx, b); err != nil {
		return domain.Baseline{}, err
	}
	t.logger.Info("baseline recorded",
		slog.Uint64("amount_x", b.AmountX),
		slog.Uint64("amount_y", b.AmountY),
		slog.String("total_usd", b.TotalUSD.StringFixed(2)),
	)
	return b, nil
}

// RecordClaimedFees adds a claim to the lifetime totals.
func (t *Tracker) RecordClaimedFees(ctx context.Context, wallet, pool string, feeX, feeY uint64) error {
	if feeX == 0 && feeY == 0 {
		return nil
	}
	return t.store.AddClaimedFees(ctx, wallet, pool, feeX, feeY)
}

// Report values the position against the baseline's three hold
// counterfactuals at current prices. A missing price fails the report; it
// never values anything at zero.
func (t *Tracker) Report(ctx context.Context, wallet, pool string, pair Pair, snap domain.PositionSnapshot) (domain.PnLReport, error) {
	baseline, err := t.store.LoadBaseline(ctx, wallet, pool)
	if err != nil {
		return domain.PnLReport{}, err
	}
	if baseline == nil {
		return domain.PnLReport{}, domain.Codedf(domain.CodeNotFound, "accounting.report",
			"no baseline for wallet %s pool %s", wallet, pool)
	}

	claimedX, claimedY, err := t.store.LifetimeClaimedFees(ctx, wallet, pool)
	if err != nil {
		return domain.PnLReport{}, err
	}

	priceX, priceY, err := t.pairPrices(ctx, pair)
	if err != nil {
		return domain.PnLReport{}, err
	}

	return buildReport(*baseline, pair, snap, claimedX, claimedY, priceX, priceY), nil
}

// pairPrices fetches both asset prices concurrently. Each leg fails the
// whole fetch; valuation with a guessed price is worse than no valuation.
func (t *Tracker) pairPrices(ctx context.Context, pair Pair) (priceX, priceY decimal.Decimal, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var e error
		priceX, e = t.prices.USDPrice(gctx, pair.MintX)
		return e
	})
	g.Go(func() error {
		var e error
		priceY, e = t.prices.USDPrice(gctx, pair.MintY)
		return e
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if priceX.IsZero() || priceY.IsZero() {
		return decimal.Zero, decimal.Zero, domain.Codedf(domain.CodePriceUnavailable, "accounting.prices",
			"zero price for pair asset")
	}
	return priceX, priceY, nil
}

// buildReport is the pure valuation core.
func buildReport(baseline domain.Baseline, pair Pair, snap domain.PositionSnapshot, claimedX, claimedY uint64, priceX, priceY decimal.Decimal) domain.PnLReport {
	positionUSD := tokenValue(snap.AmountX, pair.DecimalsX, priceX).
		Add(tokenValue(snap.AmountY, pair.DecimalsY, priceY))
	unclaimedUSD := tokenValue(snap.FeeX, pair.DecimalsX, priceX).
		Add(tokenValue(snap.FeeY, pair.DecimalsY, priceY))
	claimedUSD := tokenValue(claimedX, pair.DecimalsX, priceX).
		Add(tokenValue(claimedY, pair.DecimalsY, priceY))
	totalUSD := positionUSD.Add(unclaimedUSD).Add(claimedUSD)

	baseX := tokenValue(baseline.AmountX, pair.DecimalsX, decimal.NewFromInt(1)) // whole tokens of X
	baseY := tokenValue(baseline.AmountY, pair.DecimalsY, decimal.NewFromInt(1))

	// Hold the original mix: the initial token amounts at current prices.
	holdMix := baseX.Mul(priceX).Add(baseY.Mul(priceY))
	// Hold all-X: the initial USD value converted to X at baseline prices,
	// held to now.
	holdX := decimal.Zero
	if baseline.PriceX.IsPositive() {
		holdX = baseline.TotalUSD.Div(baseline.PriceX).Mul(priceX)
	}
	// Hold all-Y, same construction.
	holdY := decimal.Zero
	if baseline.PriceY.IsPositive() {
		holdY = baseline.TotalUSD.Div(baseline.PriceY).Mul(priceY)
	}

	return domain.PnLReport{
		PositionUSD:     positionUSD,
		UnclaimedFeeUSD: unclaimedUSD,
		ClaimedFeeUSD:   claimedUSD,
		TotalUSD:        totalUSD,
		VsHoldMix:       compare("hold_mix", totalUSD, holdMix, baseline.TotalUSD),
		VsHoldX:         compare("hold_x", totalUSD, holdX, baseline.TotalUSD),
		VsHoldY:         compare("hold_y", totalUSD, holdY, baseline.TotalUSD),
	}
}

// compare expresses the delta in percent of the initial deposit, so the
// three counterfactuals share one scale.
func compare(label string, totalUSD, holdUSD, depositUSD decimal.Decimal) domain.PnLComparison {
	delta := totalUSD.Sub(holdUSD)
	pct := decimal.Zero
	if depositUSD.IsPositive() {
		pct = delta.Div(depositUSD).Mul(decimal.NewFromInt(100))
	}
	return domain.PnLComparison{
		Label:    label,
		HoldUSD:  holdUSD,
		DeltaUSD: delta,
		DeltaPct: pct,
	}
}

func tokenValue(raw uint64, decimals uint8, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromUint64(raw).Shift(-int32(decimals)).Mul(price)
}

// Package rebalance recenters a drifted position: snapshot, close, settle,
// decide what happens to the claimed fees, and reopen around the new active
// bin. The pre-close snapshot is the source of truth for the reopen size;
// wallet reads after the close would pick up unrelated funds.
package rebalance

import (
	"context"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/accounting"
	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/fees"
	"github.com/solquant/dlmmbot/internal/platform/dlmm"
	"github.com/solquant/dlmmbot/internal/platform/jupiter"
	"github.com/solquant/dlmmbot/internal/platform/pricing"
)

// Chain lands the close transactions and paces indexer reads. Satisfied by
// the solana platform client.
type Chain interface {
	Wallet() solana.PublicKey
	AssembleTx(ctx context.Context, instrs []solana.Instruction, extraSigners ...solana.PrivateKey) (*solana.Transaction, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	WaitSettle(ctx context.Context) error
}

// Opener reopens the position. Satisfied by the engine.
type Opener interface {
	Open(ctx context.Context, p domain.OpenParams, log *domain.ExecutionLog) (domain.OpenResult, error)
}

// Swapper converts fees between the pair assets. Satisfied by
// jupiter.Executor.
type Swapper interface {
	Swap(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps int) (jupiter.SwapReceipt, error)
}

// Options configures fee conversion and close submission.
type Options struct {
	// MinSwapUSD is the smallest fee value worth converting; below it the
	// fee is reported unswapped instead.
	MinSwapUSD decimal.Decimal
	// SwapSlippageBps is the slippage used for fee-conversion swaps.
	SwapSlippageBps int
	// ComputeUnits is the per-transaction compute budget for close txs.
	ComputeUnits uint32
}

// Orchestrator drives the rebalance state machine.
type Orchestrator struct {
	pool    dlmm.Pool
	chain   Chain
	opener  Opener
	swapper Swapper
	prices  pricing.Source
	tracker *accounting.Tracker
	fees    *fees.Estimator
	opts    Options
	logger  *slog.Logger
}

// New creates an Orchestrator.
func New(pool dlmm.Pool, chain Chain, opener Opener, swapper Swapper, prices pricing.Source, tracker *accounting.Tracker, estimator *fees.Estimator, opts Options, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		pool:    pool,
		chain:   chain,
		opener:  opener,
		swapper: swapper,
		prices:  prices,
		tracker: tracker,
		fees:    estimator,
		opts:    opts,
		logger:  logger.With(slog.String("component", "rebalance")),
	}
}

// Rebalance closes the identified position and reopens it around the current
// active bin. A position depleted by the close yields a nil new key and nil
// signature: a valid terminal state.
func (o *Orchestrator) Rebalance(ctx context.Context, params domain.RebalanceParams, tier fees.Tier, log *domain.ExecutionLog) (domain.RebalanceResult, error) {
	if err := params.Context.FeeMode.Validate(); err != nil {
		return domain.RebalanceResult{}, err
	}

	snap, err := o.findPosition(ctx, params.PositionKey)
	if err != nil {
		return domain.RebalanceResult{}, err
	}
	o.logger.Info("position snapshotted",
		slog.String("key", snap.Key.String()),
		slog.Int("min_bin", int(snap.MinBin)),
		slog.Int("max_bin", int(snap.MaxBin)),
		slog.Uint64("amount_x", snap.AmountX),
		slog.Uint64("amount_y", snap.AmountY),
		slog.Uint64("fee_x", snap.FeeX),
		slog.Uint64("fee_y", snap.FeeY),
	)

	if err := o.closePosition(ctx, snap, tier, log); err != nil {
		return domain.RebalanceResult{}, err
	}
	if err := o.chain.WaitSettle(ctx); err != nil {
		return domain.RebalanceResult{}, err
	}

	mintX, mintY := o.pool.Mints()
	_, decY := o.pool.Decimals()

	if err := o.tracker.RecordClaimedFees(ctx, o.chain.Wallet().String(), o.pool.Address().String(), snap.FeeX, snap.FeeY); err != nil {
		// Accounting failures must not strand an already-closed position.
		o.logger.Error("recording claimed fees failed", slog.Any("error", err))
		log.Note("claimed_fee_recording_failed")
	}

	claimedUSD, err := o.valueFees(ctx, snap.FeeX, snap.FeeY)
	if err != nil {
		o.logger.Warn("claimed fee valuation unavailable", slog.Any("error", err))
		claimedUSD = decimal.Zero
	}

	amounts, unswappedUSD, err := o.applyFeeMode(ctx, params.Context.FeeMode, snap, mintX, mintY, decY, log)
	if err != nil {
		return domain.RebalanceResult{}, err
	}

	result := domain.RebalanceResult{
		ClaimedFeesUSD:   claimedUSD,
		UnswappedFeesUSD: unswappedUSD,
		Log:              log,
	}

	// A position fully depleted by price movement closes to nothing.
	if amounts.IsZero() {
		o.logger.Info("position depleted, not reopening")
		log.Note("depleted_terminal_state")
		return result, nil
	}

	openParams := o.reopenParams(params, amounts)
	opened, err := o.opener.Open(ctx, openParams, log)
	if err != nil {
		return domain.RebalanceResult{}, err
	}

	result.NewPositionKey = &opened.PositionKey
	result.Signature = &opened.Signature
	return result, nil
}

// findPosition locates the logical position whose canonical key or any
// underlying account matches.
func (o *Orchestrator) findPosition(ctx context.Context, key solana.PublicKey) (domain.PositionSnapshot, error) {
	snaps, err := o.pool.PositionsForOwner(ctx, o.chain.Wallet())
	if err != nil {
		return domain.PositionSnapshot{}, err
	}
	for _, snap := range snaps {
		if snap.Key == key {
			return snap, nil
		}
		for _, u := range snap.Underlying {
			if u == key {
				return snap, nil
			}
		}
	}
	return domain.PositionSnapshot{}, domain.Codedf(domain.CodeNotFound, "rebalance.find",
		"position %s not found for owner", key)
}

// closePosition lands the remove+claim+close transactions sequentially, each
// with a priority fee.
func (o *Orchestrator) closePosition(ctx context.Context, snap domain.PositionSnapshot, tier fees.Tier, log *domain.ExecutionLog) error {
	plans, err := o.pool.BuildCloseAll(ctx, snap)
	if err != nil {
		return err
	}

	price := o.fees.MicroLamportsPerCU(ctx, tier)
	for _, plan := range plans {
		instrs := append(fees.BudgetInstructions(o.opts.ComputeUnits, price), plan.Instructions...)
		tx, err := o.chain.AssembleTx(ctx, instrs, plan.Signers...)
		if err != nil {
			return err
		}
		sig, err := o.chain.SendAndConfirm(ctx, tx)
		if err != nil {
			return err
		}
		log.TxSent(sig.String(), plan.Label)
	}
	return nil
}

// applyFeeMode folds claimed fees into the reopen amounts per the configured
// mode. For convert mode the quote-side fee is swapped into the base asset
// when it clears the minimum-swap threshold, else reported unswapped.
func (o *Orchestrator) applyFeeMode(ctx context.Context, mode domain.FeeMode, snap domain.PositionSnapshot, mintX, mintY solana.PublicKey, decY uint8, log *domain.ExecutionLog) (domain.Amounts, decimal.Decimal, error) {
	amounts := domain.Amounts{X: snap.AmountX, Y: snap.AmountY}
	unswapped := decimal.Zero

	switch mode {
	case domain.FeeCompoundBoth:
		amounts.X += snap.FeeX
		amounts.Y += snap.FeeY
	case domain.FeeCompoundX:
		amounts.X += snap.FeeX
	case domain.FeeCompoundY:
		amounts.Y += snap.FeeY
	case domain.FeeKeep:
		// Fees stay in the wallet.
	case domain.FeeConvert:
		amounts.X += snap.FeeX
		if snap.FeeY == 0 {
			break
		}
		priceY, err := o.prices.USDPrice(ctx, mintY)
		if err != nil {
			return domain.Amounts{}, decimal.Zero, err
		}
		feeYUSD := decimal.NewFromUint64(snap.FeeY).Shift(-int32(decY)).Mul(priceY)
		if feeYUSD.LessThan(o.opts.MinSwapUSD) {
			o.logger.Info("fee below swap threshold, leaving unconverted",
				slog.String("fee_usd", feeYUSD.StringFixed(4)))
			log.Note("fee_unswapped_below_threshold")
			unswapped = feeYUSD
			break
		}
		receipt, err := o.swapper.Swap(ctx, mintY, mintX, snap.FeeY, o.opts.SwapSlippageBps)
		if err != nil {
			return domain.Amounts{}, decimal.Zero, err
		}
		log.TxSent(receipt.Signature.String(), "fee_convert_swap")
		amounts.X += receipt.AmountOut
		if err := o.chain.WaitSettle(ctx); err != nil {
			return domain.Amounts{}, decimal.Zero, err
		}
	}
	return amounts, unswapped, nil
}

// reopenParams translates the original open intent plus the close snapshot
// into the reopen request.
func (o *Orchestrator) reopenParams(params domain.RebalanceParams, amounts domain.Amounts) domain.OpenParams {
	rc := params.Context

	strategy := rc.RebalanceStrategy
	if strategy == "" {
		strategy = rc.Strategy
	}

	open := domain.OpenParams{
		Budget:           rc.Budget,
		BinSpan:          rc.BinSpan,
		Strategy:         strategy,
		ProvidedBalances: &amounts,
	}

	if rc.Swapless {
		// Keep whatever composition the close produced, with the drift
		// direction as the declared side. The allocator overrides the
		// declaration from actual balances and logs the mismatch.
		open.OneSided = &domain.OneSidedOptions{Direction: params.Direction}
		if rc.OneSided != nil {
			open.OneSided = rc.OneSided
		}
	} else {
		open.Ratio = rc.Ratio
	}
	return open
}

func (o *Orchestrator) valueFees(ctx context.Context, feeX, feeY uint64) (decimal.Decimal, error) {
	if feeX == 0 && feeY == 0 {
		return decimal.Zero, nil
	}
	mintX, mintY := o.pool.Mints()
	decX, decY := o.pool.Decimals()

	prices, err := o.prices.USDPrices(ctx, []solana.PublicKey{mintX, mintY})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.NewFromUint64(feeX).Shift(-int32(decX)).Mul(prices[mintX])
	return total.Add(decimal.NewFromUint64(feeY).Shift(-int32(decY)).Mul(prices[mintY])), nil
}

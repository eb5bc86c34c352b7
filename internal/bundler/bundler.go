// Package bundler lands multi-transaction flows atomically through the
// block-engine relay, paying a tip scaled to the bundle size. Bundling is an
// optimization: any relay failure falls back to sequential sends, which
// reach the same final state.
package bundler

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/fees"
	"github.com/solquant/dlmmbot/internal/platform/dlmm"
	"github.com/solquant/dlmmbot/internal/platform/jito"
)

// Bundles hold at most this many transactions; larger flows are chunked.
const maxBundleTxs = 5

// Relay is the block-engine surface the bundler needs. Satisfied by
// jito.Client.
type Relay interface {
	TipAccount() solana.PublicKey
	TipPercentiles() jito.TipPercentiles
	SendBundle(ctx context.Context, txs []*solana.Transaction) (string, error)
	WaitLanded(ctx context.Context, bundleID string, timeout time.Duration) (jito.BundleStatus, error)
}

// Chain assembles and lands transactions. Satisfied by the solana platform
// client.
type Chain interface {
	Wallet() solana.PublicKey
	AssembleTx(ctx context.Context, instrs []solana.Instruction, extraSigners ...solana.PrivateKey) (*solana.Transaction, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Options configures tip sizing and polling.
type Options struct {
	// TipFloorLamports and TipCeilingLamports clamp the computed tip.
	TipFloorLamports   uint64
	TipCeilingLamports uint64
	// LandTimeout bounds how long to wait for a bundle before falling back.
	LandTimeout time.Duration
}

// Bundler submits transaction sequences as bundles with sequential fallback.
type Bundler struct {
	relay Relay
	chain Chain
	fees  *fees.Estimator

	tipFloor    uint64
	tipCeiling  uint64
	landTimeout time.Duration

	computeUnits uint32

	logger *slog.Logger
}

// New creates a Bundler. computeUnits is the per-transaction compute budget
// used on the sequential fallback path.
func New(relay Relay, chain Chain, estimator *fees.Estimator, computeUnits uint32, opts Options, logger *slog.Logger) *Bundler {
	if opts.LandTimeout <= 0 {
		opts.LandTimeout = 30 * time.Second
	}
	return &Bundler{
		relay:        relay,
		chain:        chain,
		fees:         estimator,
		tipFloor:     opts.TipFloorLamports,
		tipCeiling:   opts.TipCeilingLamports,
		landTimeout:  opts.LandTimeout,
		computeUnits: computeUnits,
		logger:       logger.With(slog.String("component", "bundler")),
	}
}

// tierPct maps fee priority to the tip percentile read from the tip market.
var tierPct = map[fees.Tier]float64{
	fees.TierLow:     0.25,
	fees.TierMedium:  0.50,
	fees.TierHigh:    0.75,
	fees.TierExtreme: 0.95,
}

// Tip returns the lamport tip for a bundle of txCount transactions at the
// given priority: the tip-market percentile scaled by sqrt(txCount), clamped
// to [floor, ceiling].
func (b *Bundler) Tip(tier fees.Tier, txCount int) uint64 {
	pct, ok := tierPct[tier]
	if !ok {
		pct = 0.50
	}
	base := b.relay.TipPercentiles().At(pct)
	tip := uint64(float64(base) * math.Sqrt(float64(txCount)))
	if tip < b.tipFloor {
		tip = b.tipFloor
	}
	if b.tipCeiling > 0 && tip > b.tipCeiling {
		tip = b.tipCeiling
	}
	return tip
}

// Execute lands the plans. Sequences of 2..5 transactions go through the
// relay as one atomic bundle; anything else, a nil relay, and any relay
// failure land sequentially with per-transaction priority fees.
func (b *Bundler) Execute(ctx context.Context, plans []dlmm.TxPlan, tier fees.Tier, log *domain.ExecutionLog) error {
	if len(plans) == 0 {
		return nil
	}
	if b.relay == nil || len(plans) < 2 || len(plans) > maxBundleTxs {
		return b.executeSequential(ctx, plans, tier, log)
	}

	if err := b.executeBundle(ctx, plans, tier, log); err != nil {
		b.logger.Warn("bundle failed, falling back to sequential sends", slog.Any("error", err))
		log.Note("bundle_fallback_sequential")
		return b.executeSequential(ctx, plans, tier, log)
	}
	return nil
}

func (b *Bundler) executeBundle(ctx context.Context, plans []dlmm.TxPlan, tier fees.Tier, log *domain.ExecutionLog) error {
	tip := b.Tip(tier, len(plans))

	txs := make([]*solana.Transaction, 0, len(plans))
	for i, plan := range plans {
		instrs := plan.Instructions
		if i == len(plans)-1 {
			tipIx := system.NewTransferInstruction(tip, b.chain.Wallet(), b.relay.TipAccount()).Build()
			instrs = append(instrs, tipIx)
		}
		tx, err := b.chain.AssembleTx(ctx, instrs, plan.Signers...)
		if err != nil {
			return err
		}
		txs = append(txs, tx)
	}

	bundleID, err := b.relay.SendBundle(ctx, txs)
	if err != nil {
		return err
	}
	b.logger.Info("bundle sent",
		slog.String("bundle_id", bundleID),
		slog.Int("txs", len(txs)),
		slog.Uint64("tip_lamports", tip),
	)

	if _, err := b.relay.WaitLanded(ctx, bundleID, b.landTimeout); err != nil {
		return err
	}

	for i, tx := range txs {
		if len(tx.Signatures) > 0 {
			log.TxSent(tx.Signatures[0].String(), plans[i].Label)
		}
	}
	return nil
}

func (b *Bundler) executeSequential(ctx context.Context, plans []dlmm.TxPlan, tier fees.Tier, log *domain.ExecutionLog) error {
	price := b.fees.MicroLamportsPerCU(ctx, tier)
	for _, plan := range plans {
		instrs := append(fees.BudgetInstructions(b.computeUnits, price), plan.Instructions...)
		tx, err := b.chain.AssembleTx(ctx, instrs, plan.Signers...)
		if err != nil {
			return err
		}
		sig, err := b.chain.SendAndConfirm(ctx, tx)
		if err != nil {
			return err
		}
		log.TxSent(sig.String(), plan.Label)
	}
	return nil
}

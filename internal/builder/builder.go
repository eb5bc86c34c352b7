// Package builder turns a deposit plan into landed transactions. Plans
// within the venue's per-transaction bin limit go through the single-tx
// path with one shrink-and-rebuild on insufficient funds; wider plans split
// into multiple position accounts and walk an ascending slippage ladder,
// aborting the whole attempt to the next tier on a bin-slippage violation.
package builder

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/fees"
	"github.com/solquant/dlmmbot/internal/platform/dlmm"
)

// Chain assembles and lands individual transactions. Satisfied by the
// solana platform client.
type Chain interface {
	AssembleTx(ctx context.Context, instrs []solana.Instruction, extraSigners ...solana.PrivateKey) (*solana.Transaction, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// MultiExecutor lands a sequence of transactions that should ideally land
// together. Satisfied by the bundler, which falls back to sequential sends.
type MultiExecutor interface {
	Execute(ctx context.Context, plans []dlmm.TxPlan, tier fees.Tier, log *domain.ExecutionLog) error
}

// Result is a landed open.
type Result struct {
	// PositionKey is the canonical (first) position account.
	PositionKey solana.PublicKey
	// Positions lists every created position account.
	Positions []solana.PublicKey
	// Signature is the first landed transaction.
	Signature solana.Signature
	// AmountX/AmountY are what was actually deposited after any shrink.
	AmountX uint64
	AmountY uint64
}

// Builder drives the open state machine.
type Builder struct {
	pool  dlmm.Pool
	chain Chain
	multi MultiExecutor
	fees  *fees.Estimator

	shrinkBps      int
	slippageLadder []int
	computeUnits   uint32

	logger *slog.Logger
}

// Options configures a Builder.
type Options struct {
	// ShrinkBps is the one-shot margin removed from both deposit amounts
	// when a single-tx open fails on insufficient funds.
	ShrinkBps int
	// SlippageLadder is the ascending bps sequence multi-tx attempts walk.
	SlippageLadder []int
	// ComputeUnits is the per-transaction compute budget.
	ComputeUnits uint32
}

// New creates a Builder.
func New(pool dlmm.Pool, chain Chain, multi MultiExecutor, estimator *fees.Estimator, opts Options, logger *slog.Logger) *Builder {
	return &Builder{
		pool:           pool,
		chain:          chain,
		multi:          multi,
		fees:           estimator,
		shrinkBps:      opts.ShrinkBps,
		slippageLadder: opts.SlippageLadder,
		computeUnits:   opts.ComputeUnits,
		logger:         logger.With(slog.String("component", "builder")),
	}
}

// Open sizes the plan and lands it.
func (b *Builder) Open(ctx context.Context, req dlmm.OpenRequest, tier fees.Tier, log *domain.ExecutionLog) (Result, error) {
	if err := req.Plan.Validate(); err != nil {
		return Result{}, err
	}

	if req.Plan.BinCount() <= b.pool.MaxBinsPerTx() {
		return b.openSingle(ctx, req, tier, log)
	}
	return b.openMulti(ctx, req, tier, log)
}

// openSingle lands the whole plan in one transaction. An insufficient-funds
// failure traced to a token transfer gets one shrink-and-rebuild before the
// error surfaces.
func (b *Builder) openSingle(ctx context.Context, req dlmm.OpenRequest, tier fees.Tier, log *domain.ExecutionLog) (Result, error) {
	shrunk := false
	for {
		plan, positionKey, err := b.pool.BuildOpen(ctx, req)
		if err != nil {
			return Result{}, err
		}

		sig, err := b.sendPlan(ctx, plan, tier, log)
		if err == nil {
			return Result{
				PositionKey: positionKey,
				Positions:   []solana.PublicKey{positionKey},
				Signature:   sig,
				AmountX:     req.Plan.AmountX,
				AmountY:     req.Plan.AmountY,
			}, nil
		}

		if shrunk || domain.CodeOf(err) != domain.CodeInsufficientFunds || !tracedToTransfer(err) {
			return Result{}, err
		}
		shrunk = true

		req.Plan.AmountX = shrink(req.Plan.AmountX, b.shrinkBps)
		req.Plan.AmountY = shrink(req.Plan.AmountY, b.shrinkBps)
		b.logger.Warn("shrinking deposit after insufficient funds",
			slog.Int("shrink_bps", b.shrinkBps),
			slog.Uint64("amount_x", req.Plan.AmountX),
			slog.Uint64("amount_y", req.Plan.AmountY),
		)
		log.Note("shrink_and_rebuild")
	}
}

// openMulti splits the plan across several position accounts and lands the
// initialize and add-liquidity sequence, escalating slippage tiers on
// bin-slippage violations. The whole attempt restarts at each tier.
func (b *Builder) openMulti(ctx context.Context, req dlmm.OpenRequest, tier fees.Tier, log *domain.ExecutionLog) (Result, error) {
	ladder := b.slippageLadder
	if len(ladder) == 0 {
		ladder = []int{req.Plan.SlippageBps}
	}

	var lastErr error
	for _, slippageBps := range ladder {
		req.Plan.SlippageBps = slippageBps

		groups, err := b.pool.BuildOpenMulti(ctx, req)
		if err != nil {
			return Result{}, err
		}

		var plans []dlmm.TxPlan
		positions := make([]solana.PublicKey, 0, len(groups))
		for _, g := range groups {
			positions = append(positions, g.Position)
			plans = append(plans, g.Initialize)
			plans = append(plans, g.AddLiquidity...)
		}

		err = b.multi.Execute(ctx, plans, tier, log)
		if err == nil {
			res := Result{
				PositionKey: positions[0],
				Positions:   positions,
				AmountX:     req.Plan.AmountX,
				AmountY:     req.Plan.AmountY,
			}
			if sigs := log.Signatures(); len(sigs) > 0 {
				if sig, serr := solana.SignatureFromBase58(sigs[0]); serr == nil {
					res.Signature = sig
				}
			}
			return res, nil
		}

		if !isSlippageViolation(err) {
			return Result{}, err
		}
		lastErr = err
		b.logger.Warn("bin slippage violation, escalating tier",
			slog.Int("slippage_bps", slippageBps),
			slog.Any("error", err),
		)
		log.Note("slippage_escalation")
	}
	return Result{}, domain.Coded(domain.CodeVenueTransient, "builder.multi", lastErr)
}

func (b *Builder) sendPlan(ctx context.Context, plan dlmm.TxPlan, tier fees.Tier, log *domain.ExecutionLog) (solana.Signature, error) {
	price := b.fees.MicroLamportsPerCU(ctx, tier)
	instrs := append(fees.BudgetInstructions(b.computeUnits, price), plan.Instructions...)

	tx, err := b.chain.AssembleTx(ctx, instrs, plan.Signers...)
	if err != nil {
		return solana.Signature{}, err
	}
	sig, err := b.chain.SendAndConfirm(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	log.TxSent(sig.String(), plan.Label)
	return sig, nil
}

func shrink(amount uint64, bps int) uint64 {
	return amount - amount*uint64(bps)/10_000
}

// tracedToTransfer reports whether an insufficient-funds failure came from a
// token or lamport transfer inside the transaction, as opposed to the fee
// payer running dry before submission.
func tracedToTransfer(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "transfer") ||
		strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "insufficient lamports")
}

// isSlippageViolation matches the venue's bin-slippage rejection.
func isSlippageViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "slippage") || strings.Contains(msg, "exceededbinslippage")
}

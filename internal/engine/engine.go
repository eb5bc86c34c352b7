// Package engine is the caller-facing surface: open a position from a
// budget and intent, or hand a drifted one to the rebalance orchestrator.
// It sequences the allocator, budget enforcer, balancer, and builder into
// one attempt function and lets the retrier escalate fee and slippage tiers
// across attempts.
package engine

import (
	"context"
	"fmt"
	"log/slog"

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
	"github.com/solquant/dlmmbot/internal/platform/pricing"
	solchain "github.com/solquant/dlmmbot/internal/platform/solana"
	"github.com/solquant/dlmmbot/internal/retrier"
)

// Chain is the wallet-side surface the engine needs. Satisfied by the
// solana platform client.
type Chain interface {
	Wallet() solana.PublicKey
	LamportsBalance(ctx context.Context) (uint64, error)
	TokenBalance(ctx context.Context, mint solana.PublicKey) (uint64, error)
	UnwrapWSOL(ctx context.Context) error
	WaitSettle(ctx context.Context) error
}

// OpenExecutor lands a sized deposit plan. Satisfied by builder.Builder.
type OpenExecutor interface {
	Open(ctx context.Context, req dlmm.OpenRequest, tier fees.Tier, log *domain.ExecutionLog) (builder.Result, error)
}

// CompositionBalancer reshapes wallet composition toward a ratio. Satisfied
// by balancer.Balancer.
type CompositionBalancer interface {
	Balance(ctx context.Context, p balancer.Params, log *domain.ExecutionLog) (balancer.Result, error)
}

// BaselineKeeper records the first-open baseline. Satisfied by
// accounting.Tracker.
type BaselineKeeper interface {
	EnsureBaseline(ctx context.Context, wallet, pool string, pair accounting.Pair, deposited domain.Amounts) (domain.Baseline, error)
}

// Rebalancer drives the close-and-reopen flow. Satisfied by
// rebalance.Orchestrator; attached after construction because the
// orchestrator needs the engine as its opener.
type Rebalancer interface {
	Rebalance(ctx context.Context, params domain.RebalanceParams, tier fees.Tier, log *domain.ExecutionLog) (domain.RebalanceResult, error)
}

// Settings tunes the open flow.
type Settings struct {
	// MinFeeReserveLamports is the SOL the balancer must see before it
	// dares to swap.
	MinFeeReserveLamports uint64
	// FeeBufferLamports is added to the quoted creation cost when carving
	// fee headroom out of the SOL-side deposit.
	FeeBufferLamports uint64
	// BalanceSlippageBps is the slippage for composition swaps.
	BalanceSlippageBps int
}

// Engine implements the caller contract.
type Engine struct {
	pool     dlmm.Pool
	chain    Chain
	alloc    *allocator.Allocator
	enforcer *budget.Enforcer
	bal      CompositionBalancer
	build    OpenExecutor
	keeper   BaselineKeeper
	prices   pricing.Source
	policy   retrier.Policy
	settings Settings
	rebal    Rebalancer

	logger *slog.Logger
}

// New creates an Engine. The rebalancer is attached separately with
// AttachRebalancer once it has been constructed around this engine.
func New(pool dlmm.Pool, chain Chain, alloc *allocator.Allocator, enforcer *budget.Enforcer, bal CompositionBalancer, build OpenExecutor, keeper BaselineKeeper, prices pricing.Source, policy retrier.Policy, settings Settings, logger *slog.Logger) *Engine {
	return &Engine{
		pool:     pool,
		chain:    chain,
		alloc:    alloc,
		enforcer: enforcer,
		bal:      bal,
		build:    build,
		keeper:   keeper,
		prices:   prices,
		policy:   policy,
		settings: settings,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// AttachRebalancer wires the rebalance orchestrator after construction.
func (e *Engine) AttachRebalancer(r Rebalancer) { e.rebal = r }

// Open opens a position per the caller's intent. The execution log carries
// every sent signature and reserve decision; on failure the wallet is left
// without wrapped-SOL residue.
func (e *Engine) Open(ctx context.Context, p domain.OpenParams, log *domain.ExecutionLog) (domain.OpenResult, error) {
	if log == nil {
		log = domain.NewExecutionLog()
	}

	result, err := e.open(ctx, p, log)
	if err != nil {
		if unwrapErr := e.chain.UnwrapWSOL(ctx); unwrapErr != nil {
			e.logger.Warn("wsol unwrap after failure", slog.Any("error", unwrapErr))
		}
		return domain.OpenResult{}, err
	}
	return result, nil
}

func (e *Engine) open(ctx context.Context, p domain.OpenParams, log *domain.ExecutionLog) (domain.OpenResult, error) {
	if err := validateOpen(p); err != nil {
		return domain.OpenResult{}, err
	}

	mintX, mintY := e.pool.Mints()
	decX, decY := e.pool.Decimals()

	balances, err := e.readBalances(ctx, p, mintX, mintY)
	if err != nil {
		return domain.OpenResult{}, err
	}

	activeBin, err := e.pool.ActiveBin(ctx)
	if err != nil {
		return domain.OpenResult{}, err
	}

	alloc, err := e.allocate(ctx, p, activeBin, balances, mintX, mintY, decX, decY)
	if err != nil {
		return domain.OpenResult{}, err
	}
	if alloc.Note != "" {
		log.Note(alloc.Note)
	}

	// Composition swaps only make sense against live wallet balances; a
	// provided snapshot is deposited with the composition it already has.
	if p.Ratio != nil && p.ProvidedBalances == nil {
		balances, err = e.balance(ctx, p, balances, mintX, mintY, decX, decY, log)
		if err != nil {
			return domain.OpenResult{}, err
		}
	}

	plan, err := e.size(ctx, p, alloc, activeBin, balances, mintX, mintY, log)
	if err != nil {
		return domain.OpenResult{}, err
	}

	var built builder.Result
	err = retrier.Do(ctx, e.policy, e.logger, func(ctx context.Context, attempt retrier.Attempt) error {
		// The active bin may have moved since sizing, or between attempts.
		// Re-anchor the range around the current bin instead of resubmitting
		// the stale one.
		current, attemptErr := e.pool.ActiveBin(ctx)
		if attemptErr != nil {
			return attemptErr
		}
		if current != plan.ActiveBin {
			shifted := allocator.Reanchor(allocator.Range{Min: plan.MinBin, Max: plan.MaxBin}, plan.ActiveBin, current)
			e.logger.Info("active bin moved, re-anchoring range",
				slog.Int("old_active", int(plan.ActiveBin)),
				slog.Int("new_active", int(current)),
				slog.Int("min_bin", int(shifted.Min)),
				slog.Int("max_bin", int(shifted.Max)),
			)
			log.Note(fmt.Sprintf("reanchored [%d, %d] -> [%d, %d] on active bin move %d -> %d",
				plan.MinBin, plan.MaxBin, shifted.Min, shifted.Max, plan.ActiveBin, current))
			plan.MinBin, plan.MaxBin = shifted.Min, shifted.Max
			plan.ActiveBin = current
			if plan.EntirelyAbove() {
				plan.AmountY = 0
			}
			if plan.EntirelyBelow() {
				plan.AmountX = 0
			}
		}

		plan.SlippageBps = attempt.SlippageBps
		built, attemptErr = e.build.Open(ctx, dlmm.OpenRequest{Owner: e.chain.Wallet(), Plan: plan}, attempt.FeeTier, log)
		return attemptErr
	})
	if err != nil {
		return domain.OpenResult{}, err
	}

	deposited := domain.Amounts{X: built.AmountX, Y: built.AmountY}
	if _, err := e.keeper.EnsureBaseline(ctx, e.chain.Wallet().String(), e.pool.Address().String(), accounting.Pair{
		MintX: mintX, MintY: mintY, DecimalsX: decX, DecimalsY: decY,
	}, deposited); err != nil {
		// The position is live; a baseline write failure must not undo it.
		e.logger.Error("baseline write failed", slog.Any("error", err))
		log.Note("baseline_write_failed")
	}

	e.logger.Info("position opened",
		slog.String("position", built.PositionKey.String()),
		slog.Int("bins", plan.BinCount()),
		slog.Uint64("amount_x", built.AmountX),
		slog.Uint64("amount_y", built.AmountY),
	)
	return domain.OpenResult{
		PositionKey: built.PositionKey,
		Signature:   built.Signature,
		MinBin:      plan.MinBin,
		MaxBin:      plan.MaxBin,
		BinCount:    plan.BinCount(),
		Deposited:   deposited,
		Log:         log,
	}, nil
}

// Rebalance recenters an existing position.
func (e *Engine) Rebalance(ctx context.Context, params domain.RebalanceParams, log *domain.ExecutionLog) (domain.RebalanceResult, error) {
	if e.rebal == nil {
		return domain.RebalanceResult{}, domain.Codedf(domain.CodeValidation, "engine.rebalance", "no rebalancer attached")
	}
	if log == nil {
		log = domain.NewExecutionLog()
	}

	tier := fees.TierMedium
	if len(e.policy.FeeTiers) > 0 {
		tier = e.policy.FeeTiers[0]
	}

	result, err := e.rebal.Rebalance(ctx, params, tier, log)
	if err != nil {
		if unwrapErr := e.chain.UnwrapWSOL(ctx); unwrapErr != nil {
			e.logger.Warn("wsol unwrap after failure", slog.Any("error", unwrapErr))
		}
		return domain.RebalanceResult{}, err
	}
	return result, nil
}

func validateOpen(p domain.OpenParams) error {
	if err := p.Budget.Validate(); err != nil {
		return err
	}
	if p.BinSpan < 1 {
		return domain.Codedf(domain.CodeValidation, "engine.open", "bin span must be >= 1, got %d", p.BinSpan)
	}
	if err := p.Strategy.Validate(); err != nil {
		return err
	}
	if p.Ratio != nil {
		if err := p.Ratio.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) readBalances(ctx context.Context, p domain.OpenParams, mintX, mintY solana.PublicKey) (domain.Amounts, error) {
	if p.ProvidedBalances != nil {
		return *p.ProvidedBalances, nil
	}
	x, err := e.chain.TokenBalance(ctx, mintX)
	if err != nil {
		return domain.Amounts{}, err
	}
	y, err := e.chain.TokenBalance(ctx, mintY)
	if err != nil {
		return domain.Amounts{}, err
	}
	return domain.Amounts{X: x, Y: y}, nil
}

func (e *Engine) allocate(ctx context.Context, p domain.OpenParams, activeBin int32, balances domain.Amounts, mintX, mintY solana.PublicKey, decX, decY uint8) (allocator.Result, error) {
	var oneSided *allocator.OneSided
	if p.OneSided != nil {
		valueX, valueY, err := e.usdValues(ctx, balances, mintX, mintY, decX, decY)
		if err != nil {
			return allocator.Result{}, err
		}
		oneSided = &allocator.OneSided{
			Declared:  p.OneSided.Direction,
			Balances:  balances,
			ValueXUSD: valueX,
			ValueYUSD: valueY,
		}
	}
	return e.alloc.Allocate(activeBin, p.BinSpan, p.Ratio, oneSided)
}

func (e *Engine) balance(ctx context.Context, p domain.OpenParams, balances domain.Amounts, mintX, mintY solana.PublicKey, decX, decY uint8, log *domain.ExecutionLog) (domain.Amounts, error) {
	lamports, err := e.chain.LamportsBalance(ctx)
	if err != nil {
		return domain.Amounts{}, err
	}

	budgetUSD := decimal.Zero
	if p.Budget.Lamports > 0 {
		if solPrice, perr := e.prices.USDPrice(ctx, solchain.WrappedSOLMint); perr == nil {
			budgetUSD = decimal.NewFromUint64(p.Budget.Lamports).Shift(-9).Mul(solPrice)
		}
	}

	res, err := e.bal.Balance(ctx, balancer.Params{
		Pair:                  balancer.Pair{MintX: mintX, MintY: mintY, DecimalsX: decX, DecimalsY: decY},
		Balances:              balances,
		Ratio:                 *p.Ratio,
		BudgetUSD:             budgetUSD,
		FeeReserveLamports:    lamports,
		MinFeeReserveLamports: e.settings.MinFeeReserveLamports,
		SlippageBps:           e.settings.BalanceSlippageBps,
	}, log)
	if err != nil {
		return domain.Amounts{}, err
	}
	if res.Receipt == nil {
		return balances, nil
	}

	// The swap changed the wallet; re-read rather than trusting arithmetic.
	if err := e.chain.WaitSettle(ctx); err != nil {
		return domain.Amounts{}, err
	}
	return e.readBalances(ctx, domain.OpenParams{}, mintX, mintY)
}

// size applies the budget caps per side and produces the deposit plan.
func (e *Engine) size(ctx context.Context, p domain.OpenParams, alloc allocator.Result, activeBin int32, balances domain.Amounts, mintX, mintY solana.PublicKey, log *domain.ExecutionLog) (domain.DepositPlan, error) {
	cost, err := e.pool.QuoteCreationCost(ctx, dlmm.OpenRequest{
		Owner: e.chain.Wallet(),
		Plan: domain.DepositPlan{
			MinBin: alloc.Range.Min, MaxBin: alloc.Range.Max, ActiveBin: activeBin,
		},
	})
	if err != nil {
		return domain.DepositPlan{}, err
	}
	feeAndRent := cost.Total() + e.settings.FeeBufferLamports

	solSide, hasSOL := e.solSide(mintX, mintY)

	amounts := domain.Amounts{}
	for _, side := range []domain.Side{domain.SideX, domain.SideY} {
		if alloc.DepositSide != nil && *alloc.DepositSide != side {
			continue
		}

		wallet := balances.Get(side)
		caps := budget.Caps{
			WalletBalance: &wallet,
			RatioShare:    1,
			MustBeNonZero: alloc.DepositSide != nil && *alloc.DepositSide == side,
		}
		if hasSOL && side == solSide {
			caps.FeeAndRent = feeAndRent
			if p.Budget.Lamports > 0 {
				budgetCap := p.Budget.Lamports
				caps.Budget = &budgetCap
				caps.MustBeNonZero = true
			}
		}
		if p.Ratio != nil {
			caps.RatioShare = p.Ratio.Share(side)
		}

		enforced, err := e.enforcer.Enforce(wallet, caps, log)
		if err != nil {
			return domain.DepositPlan{}, err
		}
		amounts.Set(side, enforced)
	}

	plan := domain.DepositPlan{
		AmountX:   amounts.X,
		AmountY:   amounts.Y,
		MinBin:    alloc.Range.Min,
		MaxBin:    alloc.Range.Max,
		ActiveBin: activeBin,
		Strategy:  p.Strategy,
	}
	if len(e.policy.SlippageBps) > 0 {
		plan.SlippageBps = e.policy.SlippageBps[0]
	}

	// A range entirely on one side of the active bin deposits only that
	// side's asset, whatever the balances say.
	if plan.EntirelyAbove() {
		plan.AmountY = 0
	}
	if plan.EntirelyBelow() {
		plan.AmountX = 0
	}

	if plan.AmountX == 0 && plan.AmountY == 0 {
		return domain.DepositPlan{}, domain.Codedf(domain.CodeInsufficientFunds, "engine.size", "nothing to deposit after caps")
	}
	return plan, nil
}

func (e *Engine) solSide(mintX, mintY solana.PublicKey) (domain.Side, bool) {
	switch solchain.WrappedSOLMint {
	case mintX:
		return domain.SideX, true
	case mintY:
		return domain.SideY, true
	}
	return "", false
}

func (e *Engine) usdValues(ctx context.Context, balances domain.Amounts, mintX, mintY solana.PublicKey, decX, decY uint8) (decimal.Decimal, decimal.Decimal, error) {
	if balances.IsZero() {
		return decimal.Zero, decimal.Zero, nil
	}
	prices, err := e.prices.USDPrices(ctx, []solana.PublicKey{mintX, mintY})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	valueX := decimal.NewFromUint64(balances.X).Shift(-int32(decX)).Mul(prices[mintX])
	valueY := decimal.NewFromUint64(balances.Y).Shift(-int32(decY)).Mul(prices[mintY])
	return valueX, valueY, nil
}

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/solquant/dlmmbot/internal/accounting"
	"github.com/solquant/dlmmbot/internal/domain"
)

// runLockTTL bounds how long a crashed runner can hold a pool hostage.
const runLockTTL = 10 * time.Minute

// pricingRateLimit caps price-API calls per window across all runners
// sharing the Redis limiter.
const (
	pricingRateLimit  = 120
	pricingRateWindow = time.Minute
)

// OpenMode opens one position from the configured budget and intent, records
// the execution log, and exits.
func (a *App) OpenMode(ctx context.Context, deps *Deps) error {
	unlock, err := a.acquireRunLock(ctx, deps)
	if err != nil {
		return err
	}
	defer unlock()

	log := domain.NewExecutionLog()
	res, err := deps.Engine.Open(ctx, a.openParams(), log)
	a.persistLog(ctx, deps, "open", log)
	if err != nil {
		a.notifyFailure(ctx, deps, "open", err)
		return err
	}

	a.logger.InfoContext(ctx, "open complete",
		slog.String("position", res.PositionKey.String()),
		slog.Int("min_bin", int(res.MinBin)),
		slog.Int("max_bin", int(res.MaxBin)),
		slog.Uint64("deposited_x", res.Deposited.X),
		slog.Uint64("deposited_y", res.Deposited.Y),
		slog.String("signature", res.Signature.String()),
	)
	if err := deps.Notifier.PositionOpened(ctx, a.cfg.Pool.Address, res); err != nil {
		a.logger.Warn("open notification failed", slog.Any("error", err))
	}
	return nil
}

// RebalanceMode recenters the wallet's position in the configured pool once
// and exits. The position is discovered on-chain; there is nothing to
// rebalance without one.
func (a *App) RebalanceMode(ctx context.Context, deps *Deps) error {
	unlock, err := a.acquireRunLock(ctx, deps)
	if err != nil {
		return err
	}
	defer unlock()

	snap, err := a.findPosition(ctx, deps)
	if err != nil {
		return err
	}
	direction, _ := a.drift(ctx, deps, snap)

	log := domain.NewExecutionLog()
	res, err := deps.Engine.Rebalance(ctx, a.rebalanceParams(snap, direction), log)
	a.persistLog(ctx, deps, "rebalance", log)
	if err != nil {
		a.notifyFailure(ctx, deps, "rebalance", err)
		return err
	}

	a.logRebalance(ctx, res)
	if err := deps.Notifier.Rebalanced(ctx, a.cfg.Pool.Address, res); err != nil {
		a.logger.Warn("rebalance notification failed", slog.Any("error", err))
	}
	return nil
}

// MonitorMode is the long-running loop: ensure a position exists, watch the
// active bin against its range, and rebalance after the configured number of
// consecutive out-of-range checks.
func (a *App) MonitorMode(ctx context.Context, deps *Deps) error {
	ticker := time.NewTicker(a.cfg.Monitor.Interval.Duration)
	defer ticker.Stop()

	outOfRange := 0
	for {
		if err := a.monitorTick(ctx, deps, &outOfRange); err != nil {
			// A failed tick is retried on the next interval; only context
			// cancellation stops the loop.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("monitor tick failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *App) monitorTick(ctx context.Context, deps *Deps, outOfRange *int) error {
	snaps, err := deps.Pool.PositionsForOwner(ctx, deps.Chain.Wallet())
	if err != nil {
		return err
	}

	if len(snaps) == 0 {
		a.logger.Info("no position in pool, opening")
		return a.OpenMode(ctx, deps)
	}

	snap := snaps[0]
	direction, active := a.drift(ctx, deps, snap)

	if direction == "" {
		if *outOfRange > 0 {
			a.logger.Info("active bin back in range", slog.Int("active_bin", int(active)))
		}
		*outOfRange = 0
		return nil
	}

	*outOfRange++
	a.logger.Info("active bin out of range",
		slog.Int("active_bin", int(active)),
		slog.Int("min_bin", int(snap.MinBin)),
		slog.Int("max_bin", int(snap.MaxBin)),
		slog.Int("consecutive", *outOfRange),
		slog.Int("required", a.cfg.Monitor.OutOfRangeChecks),
	)
	if *outOfRange < a.cfg.Monitor.OutOfRangeChecks {
		return nil
	}
	*outOfRange = 0

	unlock, err := a.acquireRunLock(ctx, deps)
	if err != nil {
		return err
	}
	defer unlock()

	log := domain.NewExecutionLog()
	res, err := deps.Engine.Rebalance(ctx, a.rebalanceParams(snap, direction), log)
	a.persistLog(ctx, deps, "rebalance", log)
	if err != nil {
		a.notifyFailure(ctx, deps, "rebalance", err)
		return err
	}

	a.logRebalance(ctx, res)
	if err := deps.Notifier.Rebalanced(ctx, a.cfg.Pool.Address, res); err != nil {
		a.logger.Warn("rebalance notification failed", slog.Any("error", err))
	}
	return nil
}

// StatusMode prints the position value and P&L against the three hold
// baselines, then exits.
func (a *App) StatusMode(ctx context.Context, deps *Deps) error {
	snap, err := a.findPosition(ctx, deps)
	if err != nil {
		return err
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.Wait(ctx, "pricing", pricingRateLimit, pricingRateWindow); err != nil {
			return err
		}
	}

	report, err := deps.Tracker.Report(ctx, deps.Chain.Wallet().String(), a.cfg.Pool.Address, a.pair(deps), snap)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "position status",
		slog.String("position", snap.Key.String()),
		slog.Int("min_bin", int(snap.MinBin)),
		slog.Int("max_bin", int(snap.MaxBin)),
		slog.String("position_usd", report.PositionUSD.StringFixed(2)),
		slog.String("unclaimed_fee_usd", report.UnclaimedFeeUSD.StringFixed(2)),
		slog.String("claimed_fee_usd", report.ClaimedFeeUSD.StringFixed(2)),
		slog.String("total_usd", report.TotalUSD.StringFixed(2)),
	)
	for _, cmp := range []domain.PnLComparison{report.VsHoldMix, report.VsHoldX, report.VsHoldY} {
		a.logger.InfoContext(ctx, "hold comparison",
			slog.String("baseline", cmp.Label),
			slog.String("hold_usd", cmp.HoldUSD.StringFixed(2)),
			slog.String("delta_usd", cmp.DeltaUSD.StringFixed(2)),
			slog.String("delta_pct", cmp.DeltaPct.StringFixed(2)),
		)
	}

	if deps.Archiver != nil {
		if path, err := deps.Archiver.ArchiveReport(ctx, a.cfg.Pool.Address, report); err != nil {
			a.logger.Warn("report archive failed", slog.Any("error", err))
		} else {
			a.logger.Info("report archived", slog.String("path", path))
		}
	}
	return nil
}

// acquireRunLock serializes pool mutation across runners. Without Redis the
// process is assumed to be the only runner.
func (a *App) acquireRunLock(ctx context.Context, deps *Deps) (func(), error) {
	if deps.RunLock == nil {
		return func() {}, nil
	}
	return deps.RunLock.Acquire(ctx, deps.Pool.Address(), runLockTTL)
}

// findPosition returns the wallet's position in the configured pool.
func (a *App) findPosition(ctx context.Context, deps *Deps) (domain.PositionSnapshot, error) {
	snaps, err := deps.Pool.PositionsForOwner(ctx, deps.Chain.Wallet())
	if err != nil {
		return domain.PositionSnapshot{}, err
	}
	if len(snaps) == 0 {
		return domain.PositionSnapshot{}, domain.Codedf(domain.CodeNotFound, "app.find_position",
			"wallet holds no position in pool %s", a.cfg.Pool.Address)
	}
	return snaps[0], nil
}

// drift reports which side the active bin has drifted past, or "" while the
// position is still in range. Bins below the active bin hold only the quote
// asset, so an active bin above the range means the position is fully in Y,
// and below the range fully in X.
func (a *App) drift(ctx context.Context, deps *Deps, snap domain.PositionSnapshot) (domain.Side, int32) {
	active, err := deps.Pool.ActiveBin(ctx)
	if err != nil {
		a.logger.Warn("active bin read failed", slog.Any("error", err))
		return "", 0
	}
	switch {
	case active > snap.MaxBin:
		return domain.SideY, active
	case active < snap.MinBin:
		return domain.SideX, active
	}
	return "", active
}

func (a *App) openParams() domain.OpenParams {
	pos := a.cfg.Position
	p := domain.OpenParams{
		Budget:   domain.Budget{Lamports: pos.BudgetLamports},
		BinSpan:  pos.BinSpan,
		Strategy: domain.Strategy(pos.Strategy),
	}
	if pos.Swapless {
		p.OneSided = &domain.OneSidedOptions{Direction: domain.SideX}
	} else if pos.RatioX >= 0 {
		p.Ratio = &domain.Ratio{X: pos.RatioX, Y: 1 - pos.RatioX}
	}
	return p
}

func (a *App) rebalanceParams(snap domain.PositionSnapshot, direction domain.Side) domain.RebalanceParams {
	pos := a.cfg.Position
	rc := domain.RebalanceContext{
		Budget:            domain.Budget{Lamports: pos.BudgetLamports},
		BinSpan:           pos.BinSpan,
		Strategy:          domain.Strategy(pos.Strategy),
		RebalanceStrategy: domain.Strategy(pos.RebalanceStrategy),
		Swapless:          pos.Swapless,
		FeeMode:           domain.FeeMode(pos.FeeMode),
	}
	if !pos.Swapless && pos.RatioX >= 0 {
		rc.Ratio = &domain.Ratio{X: pos.RatioX, Y: 1 - pos.RatioX}
	}
	if direction == "" {
		direction = domain.SideX
	}
	return domain.RebalanceParams{
		PositionKey: snap.Key,
		Context:     rc,
		Direction:   direction,
	}
}

func (a *App) logRebalance(ctx context.Context, res domain.RebalanceResult) {
	if res.NewPositionKey == nil {
		a.logger.InfoContext(ctx, "rebalance complete, position depleted",
			slog.String("claimed_fees_usd", res.ClaimedFeesUSD.StringFixed(4)))
		return
	}
	a.logger.InfoContext(ctx, "rebalance complete",
		slog.String("new_position", res.NewPositionKey.String()),
		slog.String("claimed_fees_usd", res.ClaimedFeesUSD.StringFixed(4)),
		slog.String("unswapped_fees_usd", res.UnswappedFeesUSD.StringFixed(4)),
	)
}

// persistLog writes the execution log to every configured sink. Persistence
// failures are reported but never fail the operation that produced the log.
func (a *App) persistLog(ctx context.Context, deps *Deps, operation string, log *domain.ExecutionLog) {
	if len(log.Events) == 0 {
		return
	}
	wallet := deps.Chain.Wallet().String()
	if deps.LogStore != nil {
		if err := deps.LogStore.Save(ctx, wallet, a.cfg.Pool.Address, operation, log); err != nil {
			a.logger.Warn("execution log store failed", slog.Any("error", err))
		}
	}
	if deps.Archiver != nil {
		if _, err := deps.Archiver.ArchiveLog(ctx, a.cfg.Pool.Address, operation, log); err != nil {
			a.logger.Warn("execution log archive failed", slog.Any("error", err))
		}
	}
}

func (a *App) notifyFailure(ctx context.Context, deps *Deps, operation string, opErr error) {
	if err := deps.Notifier.OperationFailed(ctx, a.cfg.Pool.Address, operation, opErr); err != nil {
		a.logger.Warn("failure notification failed", slog.Any("error", err))
	}
}

// pair builds the accounting pair descriptor for the configured pool.
func (a *App) pair(deps *Deps) accounting.Pair {
	mintX, mintY := deps.Pool.Mints()
	decX, decY := deps.Pool.Decimals()
	return accounting.Pair{MintX: mintX, MintY: mintY, DecimalsX: decX, DecimalsY: decY}
}

// Package fees resolves a priority-fee bid (micro-lamports per compute unit)
// for a pending transaction. Live estimates come from the RPC node's recent
// prioritization fees; a static per-tier table covers the case where the
// estimation call is unavailable.
package fees

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

// Tier is a named priority level. Higher tiers bid a higher percentile of
// the recent fee distribution.
type Tier string

const (
	TierLow     Tier = "low"
	TierMedium  Tier = "medium"
	TierHigh    Tier = "high"
	TierExtreme Tier = "extreme"
)

// ParseTier converts a config string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierLow, TierMedium, TierHigh, TierExtreme:
		return Tier(s), nil
	}
	return "", fmt.Errorf("fees: unknown tier %q", s)
}

// Escalate returns the next tier up, saturating at extreme.
func (t Tier) Escalate() Tier {
	switch t {
	case TierLow:
		return TierMedium
	case TierMedium:
		return TierHigh
	default:
		return TierExtreme
	}
}

// percentile of the recent fee distribution sampled per tier.
var tierPercentile = map[Tier]float64{
	TierLow:     0.25,
	TierMedium:  0.50,
	TierHigh:    0.75,
	TierExtreme: 0.95,
}

// fallbackTable is used when the RPC estimate is unavailable or empty.
// Values are micro-lamports per compute unit.
var fallbackTable = map[Tier]uint64{
	TierLow:     1_000,
	TierMedium:  10_000,
	TierHigh:    100_000,
	TierExtreme: 500_000,
}

// Ladder returns n tiers ascending from start, saturating at extreme. The
// retrier walks this ladder across attempts.
func Ladder(start Tier, n int) []Tier {
	tiers := make([]Tier, 0, n)
	t := start
	for i := 0; i < n; i++ {
		tiers = append(tiers, t)
		t = t.Escalate()
	}
	return tiers
}

// RecentFeeSource supplies the recent prioritization fee samples, in
// micro-lamports per compute unit. Implemented by the solana platform client.
type RecentFeeSource interface {
	RecentPriorityFees(ctx context.Context) ([]uint64, error)
}

// Estimator resolves a fee bid for a tier.
type Estimator struct {
	src    RecentFeeSource
	logger *slog.Logger
}

// NewEstimator creates an Estimator over the given fee source.
func NewEstimator(src RecentFeeSource, logger *slog.Logger) *Estimator {
	return &Estimator{
		src:    src,
		logger: logger.With(slog.String("component", "fee_estimator")),
	}
}

// MicroLamportsPerCU returns the bid for the given tier. It never fails:
// with no source, or when the live estimate is unavailable, the static
// fallback table answers.
func (e *Estimator) MicroLamportsPerCU(ctx context.Context, tier Tier) uint64 {
	if e.src == nil {
		return fallbackTable[tier]
	}
	samples, err := e.src.RecentPriorityFees(ctx)
	if err != nil || len(samples) == 0 {
		if err != nil {
			e.logger.WarnContext(ctx, "fee estimation unavailable, using static table",
				slog.String("tier", string(tier)),
				slog.String("error", err.Error()),
			)
		}
		return fallbackTable[tier]
	}

	sorted := make([]uint64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * tierPercentile[tier])
	bid := sorted[idx]
	// A quiet fee market can report all zeros; the fallback table still
	// applies a minimum so transactions are not deprioritized entirely.
	if bid == 0 {
		bid = fallbackTable[TierLow]
	}
	return bid
}

// BudgetInstructions builds the compute-budget instruction pair (unit limit
// + unit price) that prefixes every submitted transaction.
func BudgetInstructions(units uint32, microLamportsPerCU uint64) []solana.Instruction {
	return []solana.Instruction{
		computebudget.NewSetComputeUnitLimitInstruction(units).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(microLamportsPerCU).Build(),
	}
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Baseline is the immutable first-open snapshot used as the reference point
// for all profit/loss comparisons. It is taken exactly once, persisted, and
// never mutated by rebalances: rebalancing changes the position, not the
// baseline.
type Baseline struct {
	Wallet string
	Pool   string

	AmountX uint64
	AmountY uint64

	PriceX decimal.Decimal
	PriceY decimal.Decimal

	TotalUSD decimal.Decimal
	TakenAt  time.Time
}

// PnLComparison is one counterfactual: what the initial deposit would be
// worth now under a hold strategy, against the position's current value.
type PnLComparison struct {
	Label    string
	HoldUSD  decimal.Decimal
	DeltaUSD decimal.Decimal
	DeltaPct decimal.Decimal
}

// PnLReport values the current position plus all fees against the baseline
// under three hold counterfactuals.
type PnLReport struct {
	PositionUSD     decimal.Decimal
	UnclaimedFeeUSD decimal.Decimal
	ClaimedFeeUSD   decimal.Decimal
	TotalUSD        decimal.Decimal

	VsHoldMix PnLComparison
	VsHoldX   PnLComparison
	VsHoldY   PnLComparison
}

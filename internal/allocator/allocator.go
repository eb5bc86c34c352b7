// Package allocator computes the inclusive bin range a deposit should cover,
// given the current active bin, the span to cover, and either a target asset
// ratio or a one-sided (swapless) directive.
//
// Venue convention: bin ids increase with price, the X asset fills bins
// above the active bin, and the Y asset fills bins below it. The active bin
// itself can hold both assets.
package allocator

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/domain"
)

// Range is an inclusive bin range.
type Range struct {
	Min int32
	Max int32
}

// BinCount returns the inclusive width of the range.
func (r Range) BinCount() int { return int(r.Max-r.Min) + 1 }

// Contains reports whether bin falls inside the range.
func (r Range) Contains(bin int32) bool { return bin >= r.Min && bin <= r.Max }

// OneSided asks for a swapless single-sided range. Declared is the caller's
// direction; the side actually used is decided from the balances on hand
// after a close, because the declared direction can disagree with what the
// close actually left in the wallet.
type OneSided struct {
	Declared domain.Side
	Balances domain.Amounts

	// USD values of the two balances, used to break ties when both sides
	// are non-zero.
	ValueXUSD decimal.Decimal
	ValueYUSD decimal.Decimal
}

// Result is the resolved allocation. DepositSide is set only in one-sided
// mode. Note carries a non-fatal observation (e.g. a declared-direction
// mismatch) for the caller's execution log.
type Result struct {
	Range       Range
	DepositSide *domain.Side
	Note        string
}

// Allocator computes deposit bin ranges.
type Allocator struct {
	logger *slog.Logger
}

// New creates an Allocator.
func New(logger *slog.Logger) *Allocator {
	return &Allocator{logger: logger.With(slog.String("component", "allocator"))}
}

// Allocate resolves the bin range for a deposit. Exactly one of ratio and
// oneSided must describe the intent: oneSided wins when non-nil, a nil ratio
// with a nil oneSided defaults to an even split.
//
// The returned range always contains exactly span bins.
func (a *Allocator) Allocate(activeBin int32, span int, ratio *domain.Ratio, oneSided *OneSided) (Result, error) {
	if span < 1 {
		return Result{}, domain.Codedf(domain.CodeValidation, "allocator", "span must be >= 1, got %d", span)
	}

	if oneSided != nil {
		return a.allocateOneSided(activeBin, span, oneSided)
	}

	r := domain.Ratio{X: 0.5, Y: 0.5}
	if ratio != nil {
		if err := ratio.Validate(); err != nil {
			return Result{}, err
		}
		r = *ratio
	}

	// Split the non-active bins proportionally. The Y share sizes the bins
	// below the active bin by floor; the remainder goes above, so the
	// active bin is never double-counted and the span is exact. Extreme
	// ratios degenerate naturally: Y=0 puts everything above, X=0 below.
	nonActive := span - 1
	below := int(math.Floor(r.Y * float64(nonActive)))
	above := nonActive - below

	return Result{Range: Range{
		Min: activeBin - int32(below),
		Max: activeBin + int32(above),
	}}, nil
}

// allocateOneSided picks the deposit side from the actual balances: prefer
// the only non-zero side, fall back to USD dominance when both are funded.
// A mismatch against the declared direction is noted, not an error.
func (a *Allocator) allocateOneSided(activeBin int32, span int, os *OneSided) (Result, error) {
	var side domain.Side
	switch {
	case os.Balances.X == 0 && os.Balances.Y == 0:
		return Result{}, domain.Codedf(domain.CodeInsufficientFunds, "allocator",
			"one-sided allocation with both balances zero")
	case os.Balances.Y == 0:
		side = domain.SideX
	case os.Balances.X == 0:
		side = domain.SideY
	default:
		side = domain.SideX
		if os.ValueYUSD.GreaterThan(os.ValueXUSD) {
			side = domain.SideY
		}
	}

	res := Result{DepositSide: &side}
	if side != os.Declared {
		res.Note = fmt.Sprintf(
			"one-sided direction %s overridden to %s by balances (x=%d, y=%d)",
			os.Declared, side, os.Balances.X, os.Balances.Y)
		a.logger.Warn("one-sided direction mismatch",
			slog.String("declared", string(os.Declared)),
			slog.String("resolved", string(side)),
			slog.Uint64("balance_x", os.Balances.X),
			slog.Uint64("balance_y", os.Balances.Y),
		)
	}

	// X fills the higher bins, Y the lower ones; the active bin is included
	// on both sides so a one-sided deposit still earns in the current bin.
	if side == domain.SideX {
		res.Range = Range{Min: activeBin, Max: activeBin + int32(span) - 1}
	} else {
		res.Range = Range{Min: activeBin - int32(span) + 1, Max: activeBin}
	}
	return res, nil
}

// Reanchor shifts a range computed against oldActive so that it keeps the
// same below/above bin counts around newActive. Used when the active bin
// moves between allocation and submission: the stale range is re-centered
// instead of resubmitted.
func Reanchor(r Range, oldActive, newActive int32) Range {
	if oldActive == newActive {
		return r
	}
	below := oldActive - r.Min
	above := r.Max - oldActive
	return Range{Min: newActive - below, Max: newActive + above}
}

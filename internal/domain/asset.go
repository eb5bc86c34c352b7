package domain

import "fmt"

// Side identifies one of the pool's two assets. By this venue's bin-ordering
// convention the X asset fills bins above the active bin and the Y asset
// fills bins below it.
type Side string

const (
	SideX Side = "x"
	SideY Side = "y"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideX {
		return SideY
	}
	return SideX
}

// Amounts holds a per-side pair of token amounts in integer base units.
type Amounts struct {
	X uint64
	Y uint64
}

// Get returns the amount on the given side.
func (a Amounts) Get(s Side) uint64 {
	if s == SideX {
		return a.X
	}
	return a.Y
}

// Set overwrites the amount on the given side.
func (a *Amounts) Set(s Side, v uint64) {
	if s == SideX {
		a.X = v
	} else {
		a.Y = v
	}
}

// IsZero reports whether both sides are zero.
func (a Amounts) IsZero() bool { return a.X == 0 && a.Y == 0 }

// Ratio is a target split between the two assets, as fractions that must sum
// to 1. A ratio of {X: 1} or {Y: 1} is an extreme, single-asset target.
type Ratio struct {
	X float64
	Y float64
}

// Validate checks that both shares are in [0, 1] and sum to 1 within a small
// tolerance.
func (r Ratio) Validate() error {
	if r.X < 0 || r.X > 1 || r.Y < 0 || r.Y > 1 {
		return Codedf(CodeValidation, "ratio", "shares must be within [0,1], got x=%v y=%v", r.X, r.Y)
	}
	sum := r.X + r.Y
	if sum < 0.999 || sum > 1.001 {
		return Codedf(CodeValidation, "ratio", "shares must sum to 1, got %v", sum)
	}
	return nil
}

// Share returns the fraction allocated to the given side.
func (r Ratio) Share(s Side) float64 {
	if s == SideX {
		return r.X
	}
	return r.Y
}

// Strategy selects how liquidity is distributed across the bins of a range.
type Strategy string

const (
	StrategySpot   Strategy = "spot"
	StrategyCurve  Strategy = "curve"
	StrategyBidAsk Strategy = "bidask"
)

// Validate rejects unknown strategies.
func (s Strategy) Validate() error {
	switch s {
	case StrategySpot, StrategyCurve, StrategyBidAsk:
		return nil
	}
	return Codedf(CodeValidation, "strategy", "unknown strategy %q", string(s))
}

// Budget is the user-specified deposit ceiling, expressed in base units of
// the wallet's base asset. It is a ceiling, not a target: the enforced
// deposit may be less but never more.
type Budget struct {
	Lamports uint64
	Ratio    *Ratio
}

// Validate rejects a zero budget and an invalid ratio split.
func (b Budget) Validate() error {
	if b.Lamports == 0 {
		return Codedf(CodeValidation, "budget", "budget must be positive")
	}
	if b.Ratio != nil {
		if err := b.Ratio.Validate(); err != nil {
			return fmt.Errorf("budget: %w", err)
		}
	}
	return nil
}

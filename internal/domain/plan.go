package domain

// DepositPlan is the ephemeral, fully-resolved request for one open attempt:
// how much of each asset goes into which bin range, with which distribution
// strategy, at which slippage tolerance.
type DepositPlan struct {
	AmountX uint64
	AmountY uint64

	MinBin    int32
	MaxBin    int32
	ActiveBin int32

	Strategy    Strategy
	SlippageBps int
}

// BinCount returns the inclusive width of the plan's bin range.
func (p DepositPlan) BinCount() int {
	return int(p.MaxBin-p.MinBin) + 1
}

// EntirelyAbove reports whether the whole range sits above the active bin.
func (p DepositPlan) EntirelyAbove() bool { return p.MinBin > p.ActiveBin }

// EntirelyBelow reports whether the whole range sits below the active bin.
func (p DepositPlan) EntirelyBelow() bool { return p.MaxBin < p.ActiveBin }

// Validate enforces the deposit-plan invariants: a non-empty range, at least
// one positive amount, and the single-sided rule (a range entirely above the
// active bin may deposit only X, entirely below only Y). The venue rejects
// the wrong side outright, so we fail before building a transaction the
// chain would bounce.
func (p DepositPlan) Validate() error {
	if p.MaxBin < p.MinBin {
		return Codedf(CodeValidation, "plan", "inverted bin range [%d, %d]", p.MinBin, p.MaxBin)
	}
	if p.AmountX == 0 && p.AmountY == 0 {
		return Codedf(CodeValidation, "plan", "both deposit amounts are zero")
	}
	if p.SlippageBps <= 0 {
		return Codedf(CodeValidation, "plan", "slippage must be positive, got %d bps", p.SlippageBps)
	}
	if err := p.Strategy.Validate(); err != nil {
		return err
	}
	if p.EntirelyAbove() && p.AmountY != 0 {
		return Codedf(CodeValidation, "plan",
			"range [%d, %d] is above active bin %d but plan deposits Y", p.MinBin, p.MaxBin, p.ActiveBin)
	}
	if p.EntirelyBelow() && p.AmountX != 0 {
		return Codedf(CodeValidation, "plan",
			"range [%d, %d] is below active bin %d but plan deposits X", p.MinBin, p.MaxBin, p.ActiveBin)
	}
	return nil
}

package domain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// OneSidedOptions requests a swapless deposit on a single side of the active
// bin. Direction is the caller's declared side; after a close the engine may
// override it from actual balances and log the mismatch rather than fail.
type OneSidedOptions struct {
	Direction Side
}

// FeeMode decides what happens to claimed fees during a rebalance.
type FeeMode string

const (
	// FeeCompoundBoth folds both assets' claimed fees into the reopen.
	FeeCompoundBoth FeeMode = "compound_both"
	// FeeCompoundX folds only the X-side fees into the reopen.
	FeeCompoundX FeeMode = "compound_x"
	// FeeCompoundY folds only the Y-side fees into the reopen.
	FeeCompoundY FeeMode = "compound_y"
	// FeeKeep leaves claimed fees in the wallet untouched.
	FeeKeep FeeMode = "keep"
	// FeeConvert swaps the non-base side's fees into the base asset when
	// their USD value clears the minimum-swap threshold.
	FeeConvert FeeMode = "convert"
)

// Validate rejects unknown fee modes.
func (m FeeMode) Validate() error {
	switch m {
	case FeeCompoundBoth, FeeCompoundX, FeeCompoundY, FeeKeep, FeeConvert:
		return nil
	}
	return Codedf(CodeValidation, "fee_mode", "unknown fee mode %q", string(m))
}

// RebalanceContext carries the original open parameters forward so a reopen
// can reproduce the user's intent even though it is triggered by price
// movement rather than explicit instruction.
type RebalanceContext struct {
	Budget   Budget
	Ratio    *Ratio
	BinSpan  int
	Strategy Strategy

	// RebalanceStrategy is the distribution used on reopen; it may differ
	// from the original open strategy.
	RebalanceStrategy Strategy

	// Swapless preserves whatever composition resulted from the close
	// instead of re-balancing toward Ratio.
	Swapless bool
	OneSided *OneSidedOptions

	FeeMode FeeMode
}

// OpenParams is the caller-facing request to open a position.
type OpenParams struct {
	Budget   Budget
	Ratio    *Ratio
	BinSpan  int
	Strategy Strategy
	OneSided *OneSidedOptions

	// ProvidedBalances, when non-nil, is used as the deposit source instead
	// of a wallet read. The rebalance orchestrator passes the close snapshot
	// here so unrelated wallet funds never contaminate the reopen size.
	ProvidedBalances *Amounts
}

// OpenResult is the outcome of a successful open.
type OpenResult struct {
	PositionKey solana.PublicKey
	Signature   solana.Signature

	MinBin   int32
	MaxBin   int32
	BinCount int

	Deposited Amounts

	Log *ExecutionLog
}

// RebalanceParams identifies the position to recenter and how.
type RebalanceParams struct {
	PositionKey solana.PublicKey
	Context     RebalanceContext

	// Direction hints which side's drift triggered the rebalance.
	Direction Side
}

// RebalanceResult is the outcome of a rebalance. A nil NewPositionKey with a
// nil Signature means the position was depleted after close: a valid
// terminal state, not an error.
type RebalanceResult struct {
	NewPositionKey *solana.PublicKey
	Signature      *solana.Signature

	ClaimedFeesUSD   decimal.Decimal
	UnswappedFeesUSD decimal.Decimal

	Log *ExecutionLog
}

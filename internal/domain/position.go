package domain

import "github.com/gagliardetto/solana-go"

// PositionSnapshot is the single normalized view of one logical liquidity
// position. The venue SDK returns position data in several shapes depending
// on the call site; the dlmm adapter folds all of them into this type and
// every internal component consumes only this.
//
// A large position (bin count beyond the venue's per-transaction limit) is
// materialized on chain as several underlying position accounts; the first
// one's key is the canonical identifier.
type PositionSnapshot struct {
	Key        solana.PublicKey
	Pool       solana.PublicKey
	Underlying []solana.PublicKey

	MinBin int32
	MaxBin int32

	// Amounts held across all bins, in integer base units.
	AmountX uint64
	AmountY uint64

	// Accrued and unclaimed fees.
	FeeX uint64
	FeeY uint64
}

// BinCount returns the inclusive width of the position's bin range.
func (s PositionSnapshot) BinCount() int {
	return int(s.MaxBin-s.MinBin) + 1
}

// Contains reports whether bin falls inside the position's range.
func (s PositionSnapshot) Contains(bin int32) bool {
	return bin >= s.MinBin && bin <= s.MaxBin
}

// Depleted reports whether the position holds nothing on either side. A
// depleted position is a valid terminal state, not an error.
func (s PositionSnapshot) Depleted() bool {
	return s.AmountX == 0 && s.AmountY == 0
}

// Amounts returns the per-side holdings as an Amounts pair.
func (s PositionSnapshot) Amounts() Amounts {
	return Amounts{X: s.AmountX, Y: s.AmountY}
}

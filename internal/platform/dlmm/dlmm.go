// Package dlmm is the boundary to the concentrated-liquidity venue. It
// defines the Pool interface the engine consumes, the transaction-plan types
// instruction builders return, and the single normalization point that folds
// the venue's assorted position-data shapes into domain.PositionSnapshot.
package dlmm

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/solquant/dlmmbot/internal/domain"
)

// TxPlan is one venue transaction before assembly: its instructions, the
// extra keypairs that must co-sign (new position accounts), and a label for
// the execution log.
type TxPlan struct {
	Label        string
	Instructions []solana.Instruction
	Signers      []solana.PrivateKey
}

// PositionTxGroup is the transaction sequence for one underlying position of
// a multi-position open: a single initialize followed by one or more
// add-liquidity batches.
type PositionTxGroup struct {
	Position     solana.PublicKey
	Initialize   TxPlan
	AddLiquidity []TxPlan
}

// OpenRequest asks the venue for the instruction sets that realize a deposit
// plan for the given owner.
type OpenRequest struct {
	Owner solana.PublicKey
	Plan  domain.DepositPlan
}

// CreationCost quotes the one-time lamport cost of opening: position-account
// rent plus initialization fees for any bins not yet materialized on chain.
type CreationCost struct {
	PositionRent    uint64
	BinArrayInit    uint64
}

// Total returns the full creation cost.
func (c CreationCost) Total() uint64 { return c.PositionRent + c.BinArrayInit }

// Pool is the venue handle. Implementations live under this package (the
// meteora subpackage); everything above consumes only this interface and the
// normalized snapshot type.
type Pool interface {
	// Address returns the pool account.
	Address() solana.PublicKey
	// Mints returns the X and Y asset mints.
	Mints() (x, y solana.PublicKey)
	// Decimals returns the X and Y mint decimals.
	Decimals() (x, y uint8)
	// MaxBinsPerTx is the venue's per-transaction bin-count limit.
	MaxBinsPerTx() int

	// ActiveBin reads the bin containing the current market price.
	ActiveBin(ctx context.Context) (int32, error)

	// PositionsForOwner enumerates the owner's positions in this pool as
	// normalized snapshots, one per logical position.
	PositionsForOwner(ctx context.Context, owner solana.PublicKey) ([]domain.PositionSnapshot, error)

	// QuoteCreationCost prices the one-time accounts an open would create.
	QuoteCreationCost(ctx context.Context, req OpenRequest) (CreationCost, error)

	// BuildOpen builds the single-transaction open for a plan within the
	// per-transaction bin limit, returning the new position's key.
	BuildOpen(ctx context.Context, req OpenRequest) (TxPlan, solana.PublicKey, error)

	// BuildOpenMulti splits a plan wider than the bin limit across several
	// position accounts.
	BuildOpenMulti(ctx context.Context, req OpenRequest) ([]PositionTxGroup, error)

	// BuildCloseAll removes 100% of liquidity with claim-and-close for
	// every underlying position of the snapshot.
	BuildCloseAll(ctx context.Context, snap domain.PositionSnapshot) ([]TxPlan, error)
}

// Package budget clamps a requested deposit amount to what is actually safe
// to spend: the user's budget ceiling, wallet headroom for fees and rent,
// the ratio-implied share, and a fixed safety haircut. Every reduction is
// reported as a reserve event so the caller can reconcile what happened to
// the budget.
package budget

import (
	"log/slog"

	"github.com/solquant/dlmmbot/internal/domain"
)

// Caps bundles the constraints applied to one side's deposit amount.
type Caps struct {
	// Budget is the user ceiling in the same base units as the amount; nil
	// means this side is not budget-capped (the non-base side is capped by
	// its wallet balance instead).
	Budget *uint64

	// WalletBalance, when non-nil, bounds the deposit by what the wallet
	// actually holds.
	WalletBalance *uint64

	// FeeAndRent is the estimated transaction fee plus rent-exemption cost
	// for any new accounts. It is carved out of the deposit so the wallet
	// can always pay for the submission itself.
	FeeAndRent uint64

	// RatioShare is this side's share of the budget implied by the target
	// ratio, in (0, 1]. 1 means no ratio cap.
	RatioShare float64

	// MustBeNonZero marks a side whose collapse to zero is a failure rather
	// than a valid single-sided outcome.
	MustBeNonZero bool
}

// Enforcer applies deposit caps in a fixed order and reports every clamp.
type Enforcer struct {
	haircutBps int
	logger     *slog.Logger
}

// New creates an Enforcer with the given haircut in basis points. The
// haircut absorbs rounding and price drift over the position's life and is
// applied exactly once, after all other caps.
func New(haircutBps int, logger *slog.Logger) *Enforcer {
	return &Enforcer{
		haircutBps: haircutBps,
		logger:     logger.With(slog.String("component", "budget")),
	}
}

// Enforce clamps requested according to caps, in order: user budget, wallet
// balance minus fee/rent headroom, ratio share of budget, haircut. Each
// reduction is appended to log as a reserve event with the exact amount
// removed. When a must-be-nonzero side collapses to zero the operation
// fails with an insufficient-funds code instead of silently depositing
// nothing.
func (e *Enforcer) Enforce(requested uint64, caps Caps, log *domain.ExecutionLog) (uint64, error) {
	amount := requested

	// (a) User budget is a hard ceiling.
	if caps.Budget != nil && amount > *caps.Budget {
		e.reserve(log, amount-*caps.Budget, "budget_cap")
		amount = *caps.Budget
	}

	// (b) Fee and rent headroom. The estimated submission cost comes out of
	// the deposit itself, and the result may never exceed what the wallet
	// holds after paying it.
	if caps.FeeAndRent > 0 {
		if amount <= caps.FeeAndRent {
			e.reserve(log, amount, "fee_rent_headroom")
			amount = 0
		} else {
			e.reserve(log, caps.FeeAndRent, "fee_rent_headroom")
			amount -= caps.FeeAndRent
		}
	}
	if caps.WalletBalance != nil {
		safe := uint64(0)
		if *caps.WalletBalance > caps.FeeAndRent {
			safe = *caps.WalletBalance - caps.FeeAndRent
		}
		if amount > safe {
			e.reserve(log, amount-safe, "wallet_balance")
			amount = safe
		}
	}

	// (c) Ratio-implied share of the budget.
	if caps.Budget != nil && caps.RatioShare > 0 && caps.RatioShare < 1 {
		share := uint64(float64(*caps.Budget) * caps.RatioShare)
		if amount > share {
			e.reserve(log, amount-share, "ratio_cap")
			amount = share
		}
	}

	// (d) Fixed haircut, once.
	if e.haircutBps > 0 && amount > 0 {
		cut := amount * uint64(e.haircutBps) / 10_000
		if cut > 0 {
			e.reserve(log, cut, "haircut")
			amount -= cut
		}
	}

	if caps.MustBeNonZero && amount == 0 {
		return 0, domain.Codedf(domain.CodeInsufficientFunds, "budget",
			"deposit collapsed to zero after caps (requested %d)", requested)
	}

	if amount != requested {
		e.logger.Debug("deposit clamped",
			slog.Uint64("requested", requested),
			slog.Uint64("enforced", amount),
		)
	}
	return amount, nil
}

func (e *Enforcer) reserve(log *domain.ExecutionLog, amount uint64, reason string) {
	if log != nil {
		log.Reserve(amount, reason)
	}
}

// Package retrier wraps an operation in bounded retries, advancing slippage
// tolerance and priority-fee tier together across attempts. Retry policy is
// an explicit value consumed by one generic executor; domain code never
// implements its own retry loops.
package retrier

import (
	"context"
	"log/slog"
	"time"

	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/fees"
)

// Policy describes how one logical operation is retried. SlippageBps and
// FeeTiers are ladders indexed by attempt number; when an attempt number
// runs past the end of a ladder the last entry is reused.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	SlippageBps []int
	FeeTiers    []fees.Tier
}

// Attempt carries the escalation state for one try.
type Attempt struct {
	Number      int // 1-based
	SlippageBps int
	FeeTier     fees.Tier
}

func (p Policy) attempt(n int) Attempt {
	a := Attempt{Number: n + 1}
	if len(p.SlippageBps) > 0 {
		i := min(n, len(p.SlippageBps)-1)
		a.SlippageBps = p.SlippageBps[i]
	}
	if len(p.FeeTiers) > 0 {
		i := min(n, len(p.FeeTiers)-1)
		a.FeeTier = p.FeeTiers[i]
	}
	return a
}

// nonRetryable lists the error codes that must never cause a second
// submission: bad input stays bad, and an already-exists or missing
// position will not appear by trying again.
var nonRetryable = map[domain.Code]bool{
	domain.CodeValidation:    true,
	domain.CodeAlreadyExists: true,
	domain.CodeNotFound:      true,
}

// Retryable reports whether an error's code permits another attempt.
func Retryable(err error) bool {
	return !nonRetryable[domain.CodeOf(err)]
}

// Do runs fn up to p.MaxAttempts times, strictly sequentially: each attempt
// may mutate on-chain state the next depends on, so attempts never overlap.
// It returns nil on the first success, the last error once attempts are
// exhausted, and immediately on a non-retryable code.
func Do(ctx context.Context, p Policy, logger *slog.Logger, fn func(context.Context, Attempt) error) error {
	log := logger.With(slog.String("component", "retrier"))

	var lastErr error
	for n := 0; n < p.MaxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		att := p.attempt(n)
		err := fn(ctx, att)
		if err == nil {
			return nil
		}
		lastErr = err

		code := domain.CodeOf(err)
		if nonRetryable[code] {
			log.WarnContext(ctx, "non-retryable failure",
				slog.Int("attempt", att.Number),
				slog.String("code", string(code)),
				slog.String("error", err.Error()),
			)
			return err
		}

		if n == p.MaxAttempts-1 {
			break
		}

		log.WarnContext(ctx, "attempt failed, escalating",
			slog.Int("attempt", att.Number),
			slog.String("code", string(code)),
			slog.Int("next_slippage_bps", p.attempt(n+1).SlippageBps),
			slog.String("next_fee_tier", string(p.attempt(n+1).FeeTier)),
			slog.String("error", err.Error()),
		)

		if p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}
	}
	return lastErr
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

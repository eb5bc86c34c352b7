package jupiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	solchain "github.com/solquant/dlmmbot/internal/platform/solana"
)

// maxQuoteAge is how old a quote may be before Execute re-fetches it instead
// of submitting against stale route data.
const maxQuoteAge = 10 * time.Second

// SwapReceipt reports a landed swap.
type SwapReceipt struct {
	Signature solana.Signature
	AmountIn  uint64
	AmountOut uint64
}

// Executor turns quotes into landed swaps: fetch, build, sign with the
// wallet, submit, confirm. A stale quote is re-fetched rather than submitted.
type Executor struct {
	api    *Client
	chain  *solchain.Client
	logger *slog.Logger
}

// NewExecutor creates an Executor over the API client and the chain wallet.
func NewExecutor(api *Client, chain *solchain.Client, logger *slog.Logger) *Executor {
	return &Executor{
		api:    api,
		chain:  chain,
		logger: logger.With(slog.String("component", "jupiter_executor")),
	}
}

// Swap performs an exact-in swap and waits for confirmation.
func (e *Executor) Swap(ctx context.Context, in, out solana.PublicKey, amount uint64, slippageBps int) (SwapReceipt, error) {
	quote, err := e.api.GetQuote(ctx, in, out, amount, slippageBps)
	if err != nil {
		return SwapReceipt{}, err
	}
	return e.execute(ctx, quote, in, out, amount, slippageBps)
}

func (e *Executor) execute(ctx context.Context, quote Quote, in, out solana.PublicKey, amount uint64, slippageBps int) (SwapReceipt, error) {
	if quote.Age() > maxQuoteAge {
		fresh, err := e.api.GetQuote(ctx, in, out, amount, slippageBps)
		if err != nil {
			return SwapReceipt{}, err
		}
		quote = fresh
	}

	tx, err := e.api.BuildSwapTx(ctx, quote, e.chain.Wallet())
	if err != nil {
		return SwapReceipt{}, err
	}
	if err := e.chain.SignExternal(tx); err != nil {
		return SwapReceipt{}, err
	}

	sig, err := e.chain.SendAndConfirm(ctx, tx)
	if err != nil {
		return SwapReceipt{}, err
	}

	e.logger.Info("swap landed",
		slog.String("signature", sig.String()),
		slog.String("in_mint", in.String()),
		slog.String("out_mint", out.String()),
		slog.Uint64("amount_in", amount),
		slog.Uint64("quoted_out", quote.OutAmountUint()),
	)
	return SwapReceipt{
		Signature: sig,
		AmountIn:  amount,
		AmountOut: quote.OutAmountUint(),
	}, nil
}

// Package solana wraps the blockchain RPC endpoint: balances, transaction
// assembly and confirmation, rent quotes, and wrapped-native cleanup. All
// other components spend through this client so balance refresh points stay
// in one place.
package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solquant/dlmmbot/internal/domain"
)

// WrappedSOLMint is the mint of the wrapped native asset.
var WrappedSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// Client is the RPC wrapper used by every component that reads or mutates
// chain state.
type Client struct {
	rpc        *rpc.Client
	wallet     solana.PrivateKey
	commitment rpc.CommitmentType

	confirmTimeout time.Duration
	settleDelay    time.Duration

	logger *slog.Logger
}

// Options configures a Client.
type Options struct {
	Endpoint       string
	Commitment     string
	ConfirmTimeout time.Duration
	SettleDelay    time.Duration
}

// NewClient creates a Client around the given endpoint and signing wallet.
func NewClient(opts Options, wallet solana.PrivateKey, logger *slog.Logger) *Client {
	commitment := rpc.CommitmentConfirmed
	switch opts.Commitment {
	case "processed":
		commitment = rpc.CommitmentProcessed
	case "finalized":
		commitment = rpc.CommitmentFinalized
	}
	return &Client{
		rpc:            rpc.New(opts.Endpoint),
		wallet:         wallet,
		commitment:     commitment,
		confirmTimeout: opts.ConfirmTimeout,
		settleDelay:    opts.SettleDelay,
		logger:         logger.With(slog.String("component", "solana")),
	}
}

// Wallet returns the signing wallet's public key.
func (c *Client) Wallet() solana.PublicKey { return c.wallet.PublicKey() }

// RPC exposes the underlying RPC client for account-decoding callers.
func (c *Client) RPC() *rpc.Client { return c.rpc }

// LamportsBalance returns the wallet's native balance.
func (c *Client) LamportsBalance(ctx context.Context) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, c.wallet.PublicKey(), c.commitment)
	if err != nil {
		return 0, domain.Coded(domain.CodeVenueTransient, "solana.balance", err)
	}
	return out.Value, nil
}

// TokenBalance returns the wallet's balance for the given mint, in base
// units. A missing token account reads as zero, not as an error. The native
// mint answers with the lamport balance so budget math works on SOL pairs
// without a wrapped account existing yet.
func (c *Client) TokenBalance(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	if mint.Equals(WrappedSOLMint) {
		return c.LamportsBalance(ctx)
	}

	ata, _, err := solana.FindAssociatedTokenAddress(c.wallet.PublicKey(), mint)
	if err != nil {
		return 0, domain.Coded(domain.CodeValidation, "solana.token_balance", err)
	}
	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, c.commitment)
	if err != nil {
		if strings.Contains(err.Error(), "could not find account") {
			return 0, nil
		}
		return 0, domain.Coded(domain.CodeVenueTransient, "solana.token_balance", err)
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("solana: parse token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

// RentExemption quotes the rent-exempt minimum for an account of the given
// size. Used to price the one-time cost of new token/position accounts.
func (c *Client) RentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, dataSize, c.commitment)
	if err != nil {
		return 0, domain.Coded(domain.CodeVenueTransient, "solana.rent", err)
	}
	return lamports, nil
}

// RecentPriorityFees samples the node's recent prioritization fees, in
// micro-lamports per compute unit. Implements fees.RecentFeeSource.
func (c *Client) RecentPriorityFees(ctx context.Context) ([]uint64, error) {
	out, err := c.rpc.GetRecentPrioritizationFees(ctx, nil)
	if err != nil {
		return nil, domain.Coded(domain.CodeVenueTransient, "solana.priority_fees", err)
	}
	fees := make([]uint64, 0, len(out))
	for _, f := range out {
		fees = append(fees, f.PrioritizationFee)
	}
	return fees, nil
}

// AssembleTx builds and signs a transaction from the given instructions with
// a fresh blockhash, paid and signed by the wallet plus any extra signers
// (e.g. new position keypairs).
func (c *Client) AssembleTx(ctx context.Context, instrs []solana.Instruction, extraSigners ...solana.PrivateKey) (*solana.Transaction, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return nil, domain.Coded(domain.CodeVenueTransient, "solana.blockhash", err)
	}

	tx, err := solana.NewTransaction(instrs, recent.Value.Blockhash,
		solana.TransactionPayer(c.wallet.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("solana: build transaction: %w", err)
	}

	signers := map[solana.PublicKey]solana.PrivateKey{
		c.wallet.PublicKey(): c.wallet,
	}
	for _, s := range extraSigners {
		signers[s.PublicKey()] = s
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if pk, ok := signers[key]; ok {
			return &pk
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("solana: sign transaction: %w", err)
	}
	return tx, nil
}

// SignExternal signs a transaction that was assembled elsewhere (e.g. by the
// swap aggregator) with the wallet key. The transaction keeps whatever
// blockhash it arrived with.
func (c *Client) SignExternal(tx *solana.Transaction) error {
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key == c.wallet.PublicKey() {
			return &c.wallet
		}
		return nil
	}); err != nil {
		return fmt.Errorf("solana: sign external transaction: %w", err)
	}
	return nil
}

// SendAndConfirm submits a signed transaction and polls until the configured
// commitment is reached or the confirm timeout elapses.
func (c *Client) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, classifySendError(err)
	}

	c.logger.Debug("transaction sent", slog.String("signature", sig.String()))

	if err := c.confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *Client) confirm(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(c.confirmTimeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			if time.Now().After(deadline) {
				return domain.Coded(domain.CodeVenueTransient, "solana.confirm", err)
			}
			continue
		}
		if len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				return domain.Codedf(domain.CodeVenueTransient, "solana.confirm",
					"transaction %s failed on chain: %v", sig, st.Err)
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}
		if time.Now().After(deadline) {
			return domain.Codedf(domain.CodeVenueTransient, "solana.confirm",
				"transaction %s not confirmed within %s", sig, c.confirmTimeout)
		}
	}
}

// classifySendError maps common RPC submission failures onto the error
// taxonomy. Insufficient-lamports failures surface distinctly so the builder
// can run its one-shot shrink.
func classifySendError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "insufficient lamports"),
		strings.Contains(msg, "insufficient funds"):
		return domain.Coded(domain.CodeInsufficientFunds, "solana.send", err)
	case strings.Contains(msg, "already processed"),
		strings.Contains(msg, "AlreadyProcessed"):
		return domain.Coded(domain.CodeAlreadyExists, "solana.send", err)
	default:
		return domain.Coded(domain.CodeVenueTransient, "solana.send", err)
	}
}

// UnwrapWSOL closes the wallet's wrapped-SOL token account, returning any
// wrapped residue to the native balance. Called on every failure path so
// the wallet is left in a safe state; a missing account is a no-op.
func (c *Client) UnwrapWSOL(ctx context.Context) error {
	ata, _, err := solana.FindAssociatedTokenAddress(c.wallet.PublicKey(), WrappedSOLMint)
	if err != nil {
		return fmt.Errorf("solana: derive wsol account: %w", err)
	}
	if _, err := c.rpc.GetAccountInfo(ctx, ata); err != nil {
		// No wrapped account, nothing to unwrap.
		return nil
	}

	ix := token.NewCloseAccountInstruction(
		ata,
		c.wallet.PublicKey(),
		c.wallet.PublicKey(),
		nil,
	).Build()

	tx, err := c.AssembleTx(ctx, []solana.Instruction{ix})
	if err != nil {
		return err
	}
	sig, err := c.SendAndConfirm(ctx, tx)
	if err != nil {
		return err
	}
	c.logger.Info("unwrapped wsol residue", slog.String("signature", sig.String()))
	return nil
}

// WaitSettle pauses for the configured indexer settle delay. Inserted after
// claims and swaps so external indexers catch up before amounts are re-read.
func (c *Client) WaitSettle(ctx context.Context) error {
	if c.settleDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.settleDelay):
		return nil
	}
}

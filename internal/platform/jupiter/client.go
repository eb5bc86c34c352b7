// Package jupiter is the REST client for the Jupiter swap aggregator, used
// to rebalance wallet token composition toward a deposit plan's ratio.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solquant/dlmmbot/internal/domain"
)

// Client talks to the Jupiter quote and swap endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Jupiter client.
//
// baseURL is the API root, e.g. "https://quote-api.jup.ag/v6".
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "jupiter")),
	}
}

// Quote is a priced route for an exact-in swap.
type Quote struct {
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	// OtherAmountThreshold is the minimum out after slippage.
	OtherAmountThreshold string          `json:"otherAmountThreshold"`
	PriceImpactPct       string          `json:"priceImpactPct"`
	SlippageBps          int             `json:"slippageBps"`
	RoutePlan            json.RawMessage `json:"routePlan"`

	fetchedAt time.Time
}

// OutAmountUint returns the quoted output amount.
func (q Quote) OutAmountUint() uint64 {
	v, _ := strconv.ParseUint(q.OutAmount, 10, 64)
	return v
}

// Age returns how long ago the quote was fetched.
func (q Quote) Age() time.Duration { return time.Since(q.fetchedAt) }

// GetQuote fetches an exact-in quote.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int) (Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint.String())
	params.Set("outputMint", outputMint.String())
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))
	params.Set("swapMode", "ExactIn")

	body, err := c.doGet(ctx, "/quote?"+params.Encode())
	if err != nil {
		return Quote{}, domain.Coded(domain.CodeVenueTransient, "jupiter.quote", err)
	}

	var q Quote
	if err := json.Unmarshal(body, &q); err != nil {
		return Quote{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	q.fetchedAt = time.Now()

	c.logger.Debug("quote",
		slog.String("in", q.InAmount),
		slog.String("out", q.OutAmount),
		slog.String("impact_pct", q.PriceImpactPct),
	)
	return q, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// BuildSwapTx exchanges a quote for a signable transaction. The returned
// transaction carries a recent blockhash from Jupiter's side; callers must
// sign and submit it promptly or re-quote.
func (c *Client) BuildSwapTx(ctx context.Context, quote Quote, user solana.PublicKey) (*solana.Transaction, error) {
	raw, err := json.Marshal(quote)
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal quote: %w", err)
	}
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:           raw,
		UserPublicKey:           user.String(),
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: marshal swap request: %w", err)
	}

	body, err := c.doPost(ctx, "/swap", payload)
	if err != nil {
		return nil, domain.Coded(domain.CodeVenueTransient, "jupiter.swap", err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jupiter: decode swap response: %w", err)
	}

	txBytes, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromBytes(txBytes)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse swap transaction: %w", err)
	}
	return tx, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) doPost(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

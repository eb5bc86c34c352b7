// Package jito submits transaction bundles to a Jito block-engine relay and
// tracks the tip market so bundle tips track current auction pressure.
package jito

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/solquant/dlmmbot/internal/domain"
)

// Well-known tip accounts of the mainnet block engine. One is picked per
// bundle round-robin.
var tipAccounts = []solana.PublicKey{
	solana.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
	solana.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe"),
	solana.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solana.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
	solana.MustPublicKeyFromBase58("DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh"),
	solana.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solana.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solana.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
}

// BundleStatus is the relay's view of a submitted bundle.
type BundleStatus struct {
	BundleID string
	// Landed reports whether the bundle's transactions are on chain at or
	// above the confirmed commitment.
	Landed bool
	// Dropped reports whether the relay has given up on the bundle.
	Dropped bool
	Slot    uint64
}

// Client is the block-engine relay client.
type Client struct {
	relayURL   string
	httpClient *http.Client
	logger     *slog.Logger

	tipCounter atomic.Uint64
	tips       *tipStream
}

// NewClient creates a relay client.
//
// relayURL is the block-engine endpoint, e.g.
// "https://mainnet.block-engine.jito.wtf/api/v1/bundles".
// tipStreamURL may be empty, in which case tips fall back to the floor.
func NewClient(relayURL, tipStreamURL string, logger *slog.Logger) *Client {
	l := logger.With(slog.String("component", "jito"))
	return &Client{
		relayURL: relayURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: l,
		tips:   newTipStream(tipStreamURL, l),
	}
}

// Start begins tracking the tip market. Safe to call with an empty stream
// URL; tip reads then return the static floor.
func (c *Client) Start(ctx context.Context) {
	c.tips.start(ctx)
}

// TipAccount returns the next tip account round-robin.
func (c *Client) TipAccount() solana.PublicKey {
	n := c.tipCounter.Add(1)
	return tipAccounts[n%uint64(len(tipAccounts))]
}

// TipPercentiles returns the latest observed tip percentiles in lamports.
func (c *Client) TipPercentiles() TipPercentiles {
	return c.tips.latest()
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

// SendBundle submits up to five signed transactions for atomic inclusion and
// returns the relay's bundle id.
func (c *Client) SendBundle(ctx context.Context, txs []*solana.Transaction) (string, error) {
	if len(txs) == 0 || len(txs) > 5 {
		return "", domain.Codedf(domain.CodeValidation, "jito.send", "bundle must hold 1-5 transactions, got %d", len(txs))
	}

	encoded := make([]string, 0, len(txs))
	for _, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("jito: marshal transaction: %w", err)
		}
		encoded = append(encoded, base64.StdEncoding.EncodeToString(raw))
	}

	result, err := c.call(ctx, "sendBundle", []interface{}{encoded, map[string]string{"encoding": "base64"}})
	if err != nil {
		return "", domain.Coded(domain.CodeVenueTransient, "jito.send", err)
	}

	var bundleID string
	if err := json.Unmarshal(result, &bundleID); err != nil {
		return "", fmt.Errorf("jito: decode bundle id: %w", err)
	}

	c.logger.Info("bundle submitted",
		slog.String("bundle_id", bundleID),
		slog.Int("txs", len(txs)),
	)
	return bundleID, nil
}

type bundleStatusesResult struct {
	Value []struct {
		BundleID           string `json:"bundle_id"`
		ConfirmationStatus string `json:"confirmation_status"`
		Slot               uint64 `json:"slot"`
		Err                struct {
			Ok interface{} `json:"Ok"`
		} `json:"err"`
	} `json:"value"`
}

// GetBundleStatus polls the relay for a bundle's inclusion state.
func (c *Client) GetBundleStatus(ctx context.Context, bundleID string) (BundleStatus, error) {
	result, err := c.call(ctx, "getBundleStatuses", []interface{}{[]string{bundleID}})
	if err != nil {
		return BundleStatus{}, domain.Coded(domain.CodeVenueTransient, "jito.status", err)
	}

	var out bundleStatusesResult
	if err := json.Unmarshal(result, &out); err != nil {
		return BundleStatus{}, fmt.Errorf("jito: decode bundle statuses: %w", err)
	}
	if len(out.Value) == 0 {
		// Unknown to the relay yet; callers keep polling until timeout.
		return BundleStatus{BundleID: bundleID}, nil
	}

	v := out.Value[0]
	status := BundleStatus{BundleID: v.BundleID, Slot: v.Slot}
	switch v.ConfirmationStatus {
	case "confirmed", "finalized":
		status.Landed = true
	case "failed":
		status.Dropped = true
	}
	return status, nil
}

// WaitLanded polls until the bundle lands, the relay drops it, or the
// deadline passes.
func (c *Client) WaitLanded(ctx context.Context, bundleID string, timeout time.Duration) (BundleStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		status, err := c.GetBundleStatus(ctx, bundleID)
		if err == nil {
			if status.Landed {
				return status, nil
			}
			if status.Dropped {
				return status, domain.Codedf(domain.CodeBundleFailed, "jito.wait", "bundle %s dropped by relay", bundleID)
			}
		}

		select {
		case <-ctx.Done():
			return BundleStatus{BundleID: bundleID}, domain.Codedf(domain.CodeBundleFailed, "jito.wait",
				"bundle %s did not land within %s", bundleID, timeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, body)
	}

	var out rpcResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result, nil
}

// Package pricing fetches USD prices for mints from the aggregator price
// API. Prices feed swap sizing and P&L valuation; both paths refuse to guess,
// so a missing price is a coded error rather than a zero.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/domain"
)

// Source resolves USD prices for mints.
type Source interface {
	// USDPrice returns the USD price of one whole token of the mint.
	USDPrice(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error)
	// USDPrices resolves several mints in one call.
	USDPrices(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]decimal.Decimal, error)
}

// Client is the REST client for the aggregator price API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a price client.
//
// baseURL is the price API root, e.g. "https://api.jup.ag/price/v2".
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With(slog.String("component", "pricing")),
	}
}

type priceResponse struct {
	Data map[string]*struct {
		Price string `json:"price"`
	} `json:"data"`
}

// USDPrice returns the USD price of one whole token of the mint.
func (c *Client) USDPrice(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	prices, err := c.USDPrices(ctx, []solana.PublicKey{mint})
	if err != nil {
		return decimal.Zero, err
	}
	p, ok := prices[mint]
	if !ok {
		return decimal.Zero, domain.Codedf(domain.CodePriceUnavailable, "pricing", "no price for mint %s", mint)
	}
	return p, nil
}

// USDPrices resolves several mints in one call. Mints the API has no price
// for are omitted from the result; callers that require every price check
// presence themselves.
func (c *Client) USDPrices(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]decimal.Decimal, error) {
	if len(mints) == 0 {
		return map[solana.PublicKey]decimal.Decimal{}, nil
	}

	ids := make([]string, 0, len(mints))
	for _, m := range mints {
		ids = append(ids, m.String())
	}
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pricing: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Codedf(domain.CodePriceUnavailable, "pricing", "http request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Codedf(domain.CodePriceUnavailable, "pricing", "read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.Codedf(domain.CodePriceUnavailable, "pricing", "http %d", resp.StatusCode)
	}

	var out priceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("pricing: decode response: %w", err)
	}

	result := make(map[solana.PublicKey]decimal.Decimal, len(mints))
	for _, m := range mints {
		entry := out.Data[m.String()]
		if entry == nil {
			continue
		}
		p, err := decimal.NewFromString(entry.Price)
		if err != nil {
			c.logger.Warn("unparseable price", slog.String("mint", m.String()), slog.String("raw", entry.Price))
			continue
		}
		result[m] = p
	}
	return result, nil
}

package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/solquant/dlmmbot/internal/platform/pricing"
)

// priceTTL bounds how stale a cached USD price may be. Swap sizing and P&L
// valuation both tolerate a few seconds of drift.
const priceTTL = 10 * time.Second

// PriceCache is a pricing.Source that serves mint prices from Redis and
// falls through to the upstream source on a miss. Each price is stored as a
// hash at "usd_price:{mint}" with fields "price" and "ts".
type PriceCache struct {
	rdb      *redis.Client
	upstream pricing.Source
	logger   *slog.Logger
}

// NewPriceCache wraps an upstream price source with the Redis cache.
func NewPriceCache(c *Client, upstream pricing.Source, logger *slog.Logger) *PriceCache {
	return &PriceCache{
		rdb:      c.rdb,
		upstream: upstream,
		logger:   logger.With(slog.String("component", "price_cache")),
	}
}

func priceKey(mint solana.PublicKey) string {
	return "usd_price:" + mint.String()
}

// USDPrice returns the USD price of one whole token of the mint.
func (pc *PriceCache) USDPrice(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, error) {
	prices, err := pc.USDPrices(ctx, []solana.PublicKey{mint})
	if err != nil {
		return decimal.Zero, err
	}
	return prices[mint], nil
}

// USDPrices resolves mints from the cache, fetching only the misses from the
// upstream source and writing them back with a TTL. Cache errors degrade to
// upstream fetches rather than failing the lookup.
func (pc *PriceCache) USDPrices(ctx context.Context, mints []solana.PublicKey) (map[solana.PublicKey]decimal.Decimal, error) {
	result := make(map[solana.PublicKey]decimal.Decimal, len(mints))
	var misses []solana.PublicKey

	for _, mint := range mints {
		p, ok, err := pc.get(ctx, mint)
		if err != nil {
			pc.logger.Warn("price cache read failed", slog.String("mint", mint.String()), slog.Any("error", err))
			misses = append(misses, mint)
			continue
		}
		if !ok {
			misses = append(misses, mint)
			continue
		}
		result[mint] = p
	}

	if len(misses) == 0 {
		return result, nil
	}

	fresh, err := pc.upstream.USDPrices(ctx, misses)
	if err != nil {
		return nil, err
	}
	for mint, p := range fresh {
		result[mint] = p
		if err := pc.set(ctx, mint, p); err != nil {
			pc.logger.Warn("price cache write failed", slog.String("mint", mint.String()), slog.Any("error", err))
		}
	}
	return result, nil
}

func (pc *PriceCache) get(ctx context.Context, mint solana.PublicKey) (decimal.Decimal, bool, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(mint)).Result()
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis: get price %s: %w", mint, err)
	}
	raw, ok := vals["price"]
	if !ok {
		return decimal.Zero, false, nil
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis: parse price %s: %w", mint, err)
	}
	return p, true, nil
}

func (pc *PriceCache) set(ctx context.Context, mint solana.PublicKey, p decimal.Decimal) error {
	key := priceKey(mint)
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price": p.String(),
		"ts":    time.Now().UnixNano(),
	})
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", mint, err)
	}
	return nil
}

// Compile-time interface check.
var _ pricing.Source = (*PriceCache)(nil)

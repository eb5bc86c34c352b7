package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solquant/dlmmbot/internal/domain"
)

// BaselineStore persists first-open baselines and lifetime claimed fees. It
// implements accounting.Store.
type BaselineStore struct {
	pool *pgxpool.Pool
}

// NewBaselineStore creates a BaselineStore backed by the given connection pool.
func NewBaselineStore(pool *pgxpool.Pool) *BaselineStore {
	return &BaselineStore{pool: pool}
}

const baselineSelectCols = `wallet, pool, amount_x, amount_y, price_x, price_y, total_usd, taken_at`

func scanBaselineRow(row pgx.Row) (domain.Baseline, error) {
	var b domain.Baseline
	var amountX, amountY int64

	err := row.Scan(
		&b.Wallet, &b.Pool,
		&amountX, &amountY,
		&b.PriceX, &b.PriceY,
		&b.TotalUSD, &b.TakenAt,
	)
	if err != nil {
		return domain.Baseline{}, err
	}
	b.AmountX = uint64(amountX)
	b.AmountY = uint64(amountY)
	return b, nil
}

// LoadBaseline returns the stored baseline for the wallet/pool pair, or nil
// when none has been taken yet.
func (s *BaselineStore) LoadBaseline(ctx context.Context, wallet, pool string) (*domain.Baseline, error) {
	query := fmt.Sprintf("SELECT %s FROM baselines WHERE wallet = $1 AND pool = $2", baselineSelectCols)

	b, err := scanBaselineRow(s.pool.QueryRow(ctx, query, wallet, pool))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load baseline: %w", err)
	}
	return &b, nil
}

// SaveBaseline inserts the baseline. A conflicting row is left untouched: the
// first recorded baseline wins, always.
func (s *BaselineStore) SaveBaseline(ctx context.Context, b domain.Baseline) error {
	const query = `
		INSERT INTO baselines (wallet, pool, amount_x, amount_y, price_x, price_y, total_usd, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (wallet, pool) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		b.Wallet, b.Pool,
		int64(b.AmountX), int64(b.AmountY),
		b.PriceX, b.PriceY,
		b.TotalUSD, b.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save baseline: %w", err)
	}
	return nil
}

// AddClaimedFees accumulates claimed fee amounts into the lifetime totals.
func (s *BaselineStore) AddClaimedFees(ctx context.Context, wallet, pool string, feeX, feeY uint64) error {
	const query = `
		INSERT INTO claimed_fees (wallet, pool, fee_x, fee_y, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (wallet, pool) DO UPDATE SET
			fee_x = claimed_fees.fee_x + EXCLUDED.fee_x,
			fee_y = claimed_fees.fee_y + EXCLUDED.fee_y,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, wallet, pool, int64(feeX), int64(feeY))
	if err != nil {
		return fmt.Errorf("postgres: add claimed fees: %w", err)
	}
	return nil
}

// LifetimeClaimedFees returns the accumulated claimed fees, zero when the
// pair has never claimed.
func (s *BaselineStore) LifetimeClaimedFees(ctx context.Context, wallet, pool string) (uint64, uint64, error) {
	const query = `SELECT fee_x, fee_y FROM claimed_fees WHERE wallet = $1 AND pool = $2`

	var feeX, feeY int64
	err := s.pool.QueryRow(ctx, query, wallet, pool).Scan(&feeX, &feeY)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: lifetime claimed fees: %w", err)
	}
	return uint64(feeX), uint64(feeY), nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solquant/dlmmbot/internal/domain"
)

// ExecutionLogStore persists the per-operation event trail as JSONB rows for
// later inspection.
type ExecutionLogStore struct {
	pool *pgxpool.Pool
}

// NewExecutionLogStore creates an ExecutionLogStore backed by the given pool.
func NewExecutionLogStore(pool *pgxpool.Pool) *ExecutionLogStore {
	return &ExecutionLogStore{pool: pool}
}

// Save records one operation's execution log.
func (s *ExecutionLogStore) Save(ctx context.Context, wallet, pool, operation string, log *domain.ExecutionLog) error {
	payload, err := json.Marshal(log.Events)
	if err != nil {
		return fmt.Errorf("postgres: marshal execution log: %w", err)
	}

	const query = `
		INSERT INTO execution_logs (wallet, pool, operation, payload)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, query, wallet, pool, operation, payload); err != nil {
		return fmt.Errorf("postgres: save execution log: %w", err)
	}
	return nil
}

// StoredLog is one persisted execution log row.
type StoredLog struct {
	ID        int64
	Wallet    string
	Pool      string
	Operation string
	Events    []domain.Event
	CreatedAt time.Time
}

// Recent returns the latest logs for a wallet/pool pair, newest first.
func (s *ExecutionLogStore) Recent(ctx context.Context, wallet, pool string, limit int) ([]StoredLog, error) {
	const query = `
		SELECT id, wallet, pool, operation, payload, created_at
		FROM execution_logs
		WHERE wallet = $1 AND pool = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, wallet, pool, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query execution logs: %w", err)
	}
	defer rows.Close()

	var logs []StoredLog
	for rows.Next() {
		var l StoredLog
		var payload []byte
		if err := rows.Scan(&l.ID, &l.Wallet, &l.Pool, &l.Operation, &payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan execution log: %w", err)
		}
		if err := json.Unmarshal(payload, &l.Events); err != nil {
			return nil, fmt.Errorf("postgres: decode execution log %d: %w", l.ID, err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate execution logs: %w", err)
	}
	return logs, nil
}

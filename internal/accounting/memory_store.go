package accounting

import (
	"context"
	"sync"

	"github.com/solquant/dlmmbot/internal/domain"
)

// MemoryStore is a process-local Store for running without a database.
// Baselines recorded here do not survive a restart, so P&L reports reset
// with the process.
type MemoryStore struct {
	mu        sync.Mutex
	baselines map[string]domain.Baseline
	feesX     map[string]uint64
	feesY     map[string]uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		baselines: make(map[string]domain.Baseline),
		feesX:     make(map[string]uint64),
		feesY:     make(map[string]uint64),
	}
}

func storeKey(wallet, pool string) string { return wallet + ":" + pool }

// LoadBaseline returns the stored baseline, or nil when none exists.
func (s *MemoryStore) LoadBaseline(ctx context.Context, wallet, pool string) (*domain.Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.baselines[storeKey(wallet, pool)]; ok {
		return &b, nil
	}
	return nil, nil
}

// SaveBaseline stores the baseline unless one already exists; the first
// recorded baseline wins.
func (s *MemoryStore) SaveBaseline(ctx context.Context, b domain.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(b.Wallet, b.Pool)
	if _, ok := s.baselines[key]; !ok {
		s.baselines[key] = b
	}
	return nil
}

// AddClaimedFees accumulates claimed fees into the lifetime totals.
func (s *MemoryStore) AddClaimedFees(ctx context.Context, wallet, pool string, feeX, feeY uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(wallet, pool)
	s.feesX[key] += feeX
	s.feesY[key] += feeY
	return nil
}

// LifetimeClaimedFees returns the accumulated claimed fees.
func (s *MemoryStore) LifetimeClaimedFees(ctx context.Context, wallet, pool string) (uint64, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(wallet, pool)
	return s.feesX[key], s.feesY[key], nil
}

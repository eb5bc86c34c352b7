package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/solquant/dlmmbot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RunLock serializes position mutation per pool across bot instances. Open
// and rebalance both snapshot on-chain state before mutating it; two runners
// interleaving on the same pool would each act on a stale snapshot, so only
// one may hold the pool at a time.
type RunLock struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewRunLock creates a RunLock backed by the given Client.
func NewRunLock(c *Client) *RunLock {
	return &RunLock{
		rdb:      c.rdb,
		unlockSc: redis.NewScript(unlockLua),
	}
}

func runLockKey(pool solana.PublicKey) string {
	return "run_lock:" + pool.String()
}

// Acquire attempts to obtain the mutation lock for a pool with the given
// TTL. On success it returns an unlock function that must be called to
// release the lock; the function is safe to call more than once.
func (rl *RunLock) Acquire(ctx context.Context, pool solana.PublicKey, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	key := runLockKey(pool)

	ok, err := rl.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire run lock %s: %w", pool, err)
	}
	if !ok {
		return nil, domain.Codedf(domain.CodeAlreadyExists, "redis.run_lock",
			"another runner holds pool %s", pool)
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Background context so unlock succeeds even if the caller's context
		// is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = rl.unlockSc.Run(unlockCtx, rl.rdb, []string{key}, token).Err()
	}

	return unlock, nil
}

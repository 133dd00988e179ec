package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Budget is a distributed cost cap shared across sandbox instances running
// against the same run or tenant, keyed the same way FingerprintStore keys
// its windows. Grounded on the teacher's RedisDedupeStore (internal/
// orchestrator/dedupe.go): a thin *redis.Client wrapper built from an addr,
// pinged at construction.
type Budget struct {
	client *redis.Client
	limit  float64
}

// NewBudget connects to addr and returns a Budget capped at limitUSD.
func NewBudget(addr string, limitUSD float64) (*Budget, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: budget redis ping: %w", err)
	}
	return &Budget{client: client, limit: limitUSD}, nil
}

func (b *Budget) key(scopeID string) string {
	return "budget:" + scopeID + ":spend_usd"
}

// TryCharge atomically adds costUSD to scopeID's running spend and reports
// whether the new total is still within the configured limit. Callers
// should treat a false result as "stop spending for this scope", not roll
// back the charge — the spend already happened by the time cost is known.
func (b *Budget) TryCharge(ctx context.Context, scopeID string, costUSD float64) (withinLimit bool, total float64, err error) {
	total, err = b.client.IncrByFloat(ctx, b.key(scopeID), costUSD).Result()
	if err != nil {
		return false, 0, fmt.Errorf("cache: budget incrby: %w", err)
	}
	return total <= b.limit, total, nil
}

// Spend returns scopeID's current running spend without charging anything.
func (b *Budget) Spend(ctx context.Context, scopeID string) (float64, error) {
	val, err := b.client.Get(ctx, b.key(scopeID)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: budget get: %w", err)
	}
	return val, nil
}

// Close closes the underlying Redis client.
func (b *Budget) Close() error {
	return b.client.Close()
}

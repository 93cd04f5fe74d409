package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcollect/arcollect/internal/shared"
)

// Cache keeps computed scores in Redis so repeated dashboard reads do not
// re-aggregate the ledger. Entries expire on TTL and are invalidated on
// payment, so staleness is bounded.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache builds Cache instance.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached score for a customer, or nil on miss.
func (c *Cache) Get(ctx context.Context, customerID int64) (*PriorityScore, error) {
	raw, err := c.client.Get(ctx, shared.ScoreCacheKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var score PriorityScore
	if err := json.Unmarshal(raw, &score); err != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		return nil, nil
	}
	return &score, nil
}

// Set stores the score under the customer's cache key.
func (c *Cache) Set(ctx context.Context, score *PriorityScore) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, shared.ScoreCacheKey(score.CustomerID), raw, c.ttl).Err()
}

// Invalidate drops the cached score, typically after a payment changes the
// underlying ledger state.
func (c *Cache) Invalidate(ctx context.Context, customerID int64) error {
	return c.client.Del(ctx, shared.ScoreCacheKey(customerID)).Err()
}

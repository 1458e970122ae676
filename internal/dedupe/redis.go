// Package dedupe provides a Redis-backed fast-path guard for operations that
// are already protected by a SQL source of truth: a short-TTL SETNX lets a
// daemon replica skip redundant work without a round trip to Postgres,
// following the teacher's internal/orchestrator/dedupe.go RedisDedupeStore.
package dedupe

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Guard claims a short-lived lock for a key. Acquire returns true the first
// time a key is claimed within ttl and false on every subsequent call until
// the TTL expires, so callers can treat Redis as an optimisation layer in
// front of a durable check rather than a correctness boundary.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}

// Redis is a Guard backed by a single redis.Client, using SETNX semantics
// via SetNX.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) (*Redis, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("dedupe: redis ping failed: %w", err)
	}
	return &Redis{client: c}, nil
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// ReviewDebounceKey formats a per-(episode, calendar day) debounce key under
// the memoryd: prefix. The orchestrator's review handler builds its own
// unprefixed key of the same shape and does not call this helper.
func ReviewDebounceKey(episodeID string, day string) string {
	return fmt.Sprintf("memoryd:review-debounce:%s:%s", episodeID, day)
}

// ConsolidationGuardKey formats a per-conversation consolidation guard key
// under the memoryd: prefix. The orchestrator's consolidation handler
// builds its own unprefixed key of the same shape and does not call this
// helper.
func ConsolidationGuardKey(conversationID string) string {
	return fmt.Sprintf("memoryd:consolidation-guard:%s", conversationID)
}

var _ Guard = (*Redis)(nil)

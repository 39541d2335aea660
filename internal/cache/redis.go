// Redis-backed variant of the plain precompute cache, letting a
// long-running MCS search share dedup state across restarted processes.
// Grounded on the teacher's internal/infra/redis_adapter.go (go-redis v9
// client construction, SAdd/SIsMember set operations). The in-memory Cache
// remains the variant exercised when no Redis address is configured.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	doneSetKey      = "sts:mcs:done"
	defaultTimeout  = 2 * time.Second
)

// RedisCache is a plain (non-power-set) PrecomputeCache backed by a Redis
// set of canonicalized label-sequence fingerprints, so AlreadyDone survives
// a process restart.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedis connects to addr and returns a RedisCache. Ping failures are
// returned so the caller can fall back to the in-memory Cache.
func NewRedis(addr string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  defaultTimeout,
		WriteTimeout: defaultTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// AlreadyDone reports whether this exact label sequence has been recorded
// by any process sharing this Redis instance.
func (c *RedisCache) AlreadyDone(labels []string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	ok, err := c.rdb.SIsMember(ctx, doneSetKey, fingerprint(labels)).Result()
	if err != nil {
		return false // conservative: a Redis hiccup never blocks minimization
	}
	return ok
}

// Update records labels as tested.
func (c *RedisCache) Update(labels []string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	c.rdb.SAdd(ctx, doneSetKey, fingerprint(labels))
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error { return c.rdb.Close() }

// Reset clears every recorded fingerprint, used between unrelated
// minimization runs sharing the same Redis instance.
func (c *RedisCache) Reset() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return c.rdb.Del(ctx, doneSetKey).Err()
}

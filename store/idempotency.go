// store/idempotency.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyPrefix = "idempotency:"
	lockPrefix        = "idempotency-lock:"

	// memorySweepInterval bounds how often writes scan for expired entries.
	memorySweepInterval = time.Minute
)

// CachedResponse is a stored reply for a request carrying an Idempotency-Key.
type CachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// IdempotencyCache remembers replies to mutating requests so a retried
// confirm, capture or refund is answered without touching the provider again.
type IdempotencyCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
	// Acquire marks key as in flight. It returns false if another request holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisIdempotencyCache keeps replies in Redis so every proxy instance sees them.
type RedisIdempotencyCache struct {
	client *redis.Client
}

func NewRedisIdempotencyCache(client *redis.Client) *RedisIdempotencyCache {
	return &RedisIdempotencyCache{client: client}
}

func (c *RedisIdempotencyCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	data, err := c.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func (c *RedisIdempotencyCache) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, idempotencyPrefix+key, data, ttl).Err()
}

func (c *RedisIdempotencyCache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, lockPrefix+key, "1", ttl).Result()
}

func (c *RedisIdempotencyCache) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, lockPrefix+key).Err()
}

type memoryEntry struct {
	resp      *CachedResponse
	expiresAt time.Time
}

// MemoryIdempotencyCache is the single-instance fallback when REDIS_URL is unset.
type MemoryIdempotencyCache struct {
	entries   map[string]memoryEntry
	locks     map[string]time.Time
	lastSweep time.Time
	mu        sync.Mutex
	now       func() time.Time
}

func NewMemoryIdempotencyCache() *MemoryIdempotencyCache {
	return &MemoryIdempotencyCache{
		entries: make(map[string]memoryEntry),
		locks:   make(map[string]time.Time),
		now:     time.Now,
	}
}

func (c *MemoryIdempotencyCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, nil
	}
	resp := *entry.resp
	return &resp, nil
}

func (c *MemoryIdempotencyCache) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	stored := *resp
	c.entries[key] = memoryEntry{resp: &stored, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryIdempotencyCache) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()
	if until, held := c.locks[key]; held && c.now().Before(until) {
		return false, nil
	}
	c.locks[key] = c.now().Add(ttl)
	return true, nil
}

func (c *MemoryIdempotencyCache) Release(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.locks, key)
	return nil
}

// sweepLocked drops expired replies and locks left behind by requests that
// never released them. Keys are rarely read twice, so Get alone cannot keep
// the maps bounded.
func (c *MemoryIdempotencyCache) sweepLocked() {
	now := c.now()
	if now.Sub(c.lastSweep) < memorySweepInterval {
		return
	}
	c.lastSweep = now
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	for key, until := range c.locks {
		if !now.Before(until) {
			delete(c.locks, key)
		}
	}
}

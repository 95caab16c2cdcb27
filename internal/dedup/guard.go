// Package dedup guards against processing the same call report twice. The
// voice platform retries webhooks, so every report is claimed by call ID
// before any side effect runs.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDuplicate is returned by Claim when the key was already claimed.
var ErrDuplicate = errors.New("duplicate call report")

const keyPrefix = "quill:call:"

// Guard claims a key for a limited time.
type Guard interface {
	Claim(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// RedisGuard shares claims between replicas through Redis SET NX.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedisGuard(opts RedisOptions) *RedisGuard {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &RedisGuard{client: rdb, ttl: opts.TTL}
}

func (g *RedisGuard) Ping(ctx context.Context) error {
	if err := g.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (g *RedisGuard) Claim(ctx context.Context, key string) error {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

// Release drops a claim so a failed report can be retried.
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// MemoryGuard is the single-process Guard used when Redis is not configured.
type MemoryGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]time.Time),
	}
}

func (g *MemoryGuard) Claim(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.items[key]; ok && now.Before(exp) {
		return ErrDuplicate
	}
	g.items[key] = now.Add(g.ttl)

	// Sweep expired claims now and then so the map stays bounded.
	if len(g.items)%256 == 0 {
		for k, exp := range g.items {
			if !now.Before(exp) {
				delete(g.items, k)
			}
		}
	}
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.items, key)
	return nil
}

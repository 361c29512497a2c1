package cache

import (
	"context"
	"encoding/json"
	"time"
)

// remoteTier is the L2 behind a LayeredCache.
type remoteTier interface {
	setRaw(ctx context.Context, key string, data []byte, expiration time.Duration) error
	getRawTTL(ctx context.Context, key string) ([]byte, time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Close() error
}

// LayeredCache implements two-level cache (L1: Memory, L2: Redis).
type LayeredCache struct {
	memCache   *MemoryCache
	redisCache remoteTier
}

// NewLayeredCache creates a layered cache over an existing memory cache and Redis.
func NewLayeredCache(memCache *MemoryCache, redisCache *RedisCache) *LayeredCache {
	return &LayeredCache{
		memCache:   memCache,
		redisCache: redisCache,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	// Write-through: Redis first, then memory
	if err := lc.redisCache.setRaw(ctx, key, data, expiration); err != nil {
		return err
	}
	lc.memCache.setRaw(key, data, expiration)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	_, err := lc.GetWithTier(ctx, key, dest)
	return err
}

// GetWithTier reads L1 then L2, promoting L2 hits into memory for the rest of
// their Redis lifetime. A miss reports TierRedis, the last tier consulted.
func (lc *LayeredCache) GetWithTier(ctx context.Context, key string, dest interface{}) (string, error) {
	if data, ok := lc.memCache.getRaw(key); ok {
		return TierMemory, json.Unmarshal(data, dest)
	}

	data, ttl, err := lc.redisCache.getRawTTL(ctx, key)
	if err != nil {
		return TierRedis, err
	}
	lc.memCache.setRaw(key, data, ttl)
	return TierRedis, json.Unmarshal(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	return lc.redisCache.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	if err := lc.memCache.DeleteByPattern(ctx, pattern); err != nil {
		return err
	}
	return lc.redisCache.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.memCache.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.redisCache.Exists(ctx, keys...)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	_ = lc.memCache.Close()
	return lc.redisCache.Close()
}

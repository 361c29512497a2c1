package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service is the storage contract behind the query cache. Values are JSON encoded
// by every implementation so a hit decodes into a fresh, value-equal copy.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern removes keys matching a glob pattern (Redis MATCH syntax).
	DeleteByPattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Close() error
}

// Tiered is implemented by caches that can report which tier served the last read.
type Tiered interface {
	GetWithTier(ctx context.Context, key string, dest interface{}) (string, error)
}

const (
	TierMemory = "memory"
	TierRedis  = "redis"
)

package querycache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ChartFeed/internal/domain/models"
	"ChartFeed/internal/domain/repository"
	"ChartFeed/pkg/cache"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/metrics"
)

// Cache memoizes aggregated range queries. Entries live until their series is
// invalidated or the backing store evicts them; concurrent misses for one key
// run compute once.
type Cache struct {
	store   cache.Service
	ttl     time.Duration
	metrics repository.Metrics
	logger  *applogger.Logger
	group   singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

type Option func(*Cache)

// WithTTL bounds entry lifetime. Zero (default) keeps entries until invalidation.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func WithMetrics(m repository.Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(l *applogger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(store cache.Service, opts ...Option) *Cache {
	c := &Cache{
		store:       store,
		metrics:     metrics.Nop{},
		logger:      applogger.Nop(),
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the cached bars for key or runs compute and stores its result.
// Compute errors are returned as is and nothing is stored.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func() ([]models.Bar, error)) ([]models.Bar, error) {
	return c.GetOrComputeAt(ctx, key, c.Generation(key.SeriesID), compute)
}

// GetOrComputeAt is GetOrCompute for a compute that reads a series snapshot taken
// after Generation returned gen. The result is stored only while gen is current.
func (c *Cache) GetOrComputeAt(ctx context.Context, key Key, gen uint64, compute func() ([]models.Bar, error)) ([]models.Bar, error) {
	k := key.String()

	if bars, ok := c.lookup(ctx, k); ok {
		return bars, nil
	}

	// keyed by generation so callers arriving after an invalidation never join a stale flight
	v, err, shared := c.group.Do(fmt.Sprintf("%s#%d", k, gen), func() (interface{}, error) {
		// a concurrent leader may have stored the entry between our lookup and Do
		if bars, ok := c.peek(ctx, k); ok {
			return bars, nil
		}

		bars, err := compute()
		if err != nil {
			return nil, err
		}
		if bars == nil {
			bars = []models.Bar{}
		}
		if gen != c.Generation(key.SeriesID) {
			c.logger.Debug("querycache.compute stale_snapshot", applogger.String("key", k))
			return bars, nil
		}
		if err := c.store.Set(ctx, k, bars, c.ttl); err != nil {
			c.metrics.RecordError("query_cache_write")
			c.logger.Warn("querycache.set write_failed", applogger.String("key", k), applogger.Error(err))
			return bars, nil
		}
		if gen != c.Generation(key.SeriesID) {
			// invalidated while storing; drop what we just wrote
			_ = c.store.Delete(ctx, k)
			c.logger.Debug("querycache.compute stale_result", applogger.String("key", k))
		}
		return bars, nil
	})
	if err != nil {
		return nil, err
	}

	bars := v.([]models.Bar)
	if shared {
		bars = slices.Clone(bars)
	}
	return bars, nil
}

func (c *Cache) lookup(ctx context.Context, k string) ([]models.Bar, bool) {
	var bars []models.Bar
	tier, err := c.get(ctx, k, &bars)
	if err == nil {
		c.metrics.RecordCacheHit(tier)
		if bars == nil {
			bars = []models.Bar{}
		}
		return bars, true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		c.metrics.RecordError("query_cache_read")
		c.logger.Warn("querycache.get read_failed", applogger.String("key", k), applogger.Error(err))
	}
	if tier == "" {
		tier = cache.TierMemory
	}
	c.metrics.RecordCacheMiss(tier)
	return nil, false
}

func (c *Cache) peek(ctx context.Context, k string) ([]models.Bar, bool) {
	var bars []models.Bar
	if _, err := c.get(ctx, k, &bars); err != nil {
		return nil, false
	}
	if bars == nil {
		bars = []models.Bar{}
	}
	return bars, true
}

func (c *Cache) get(ctx context.Context, k string, dest *[]models.Bar) (string, error) {
	if t, ok := c.store.(cache.Tiered); ok {
		return t.GetWithTier(ctx, k, dest)
	}
	return cache.TierMemory, c.store.Get(ctx, k, dest)
}

// InvalidateSeries drops every entry derived from seriesID and makes in-flight
// computations for it discard their results.
func (c *Cache) InvalidateSeries(ctx context.Context, seriesID string) error {
	c.mu.Lock()
	c.generations[seriesID]++
	c.mu.Unlock()

	if err := c.store.DeleteByPattern(ctx, SeriesPattern(seriesID)); err != nil {
		c.metrics.RecordError("query_cache_invalidate")
		return fmt.Errorf("invalidate %s: %w", seriesID, err)
	}
	c.logger.Info("querycache.invalidate done", applogger.String("series", seriesID))
	return nil
}

// Generation is the invalidation count of seriesID. Read it before the series
// snapshot so a later invalidation is detectable.
func (c *Cache) Generation(seriesID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[seriesID]
}

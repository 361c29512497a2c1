package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"
)

type memoryItem struct {
	key      string
	data     []byte
	expireAt time.Time // zero means no expiry
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && now.After(m.expireAt)
}

// MemoryCache implements Service using an in-process LRU list.
type MemoryCache struct {
	mutex      sync.Mutex
	items      map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxEntries: 4096,
		Now:        time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &MemoryCache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
	}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	mc.setRaw(key, data, expiration)
	return nil
}

func (mc *MemoryCache) setRaw(key string, data []byte, expiration time.Duration) {
	var expireAt time.Time
	if expiration > 0 {
		expireAt = mc.now().Add(expiration)
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if el, ok := mc.items[key]; ok {
		item := el.Value.(*memoryItem)
		item.data = data
		item.expireAt = expireAt
		mc.order.MoveToFront(el)
		return
	}

	mc.items[key] = mc.order.PushFront(&memoryItem{key: key, data: data, expireAt: expireAt})
	for mc.maxEntries > 0 && mc.order.Len() > mc.maxEntries {
		mc.removeElement(mc.order.Back())
	}
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	data, ok := mc.getRaw(key)
	if !ok {
		return ErrCacheMiss
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

func (mc *MemoryCache) getRaw(key string) ([]byte, bool) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	el, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	item := el.Value.(*memoryItem)
	if item.expired(mc.now()) {
		mc.removeElement(el)
		return nil, false
	}
	mc.order.MoveToFront(el)
	return item.data, true
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		if el, ok := mc.items[key]; ok {
			mc.removeElement(el)
		}
	}
	return nil
}

func (mc *MemoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("cache: bad pattern %q: %w", pattern, err)
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for key, el := range mc.items {
		if ok, _ := path.Match(pattern, key); ok {
			mc.removeElement(el)
		}
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	for _, key := range keys {
		if el, ok := mc.items[key]; ok && !el.Value.(*memoryItem).expired(now) {
			return true, nil
		}
	}
	return false, nil
}

// Len reports the number of stored entries, expired ones included.
func (mc *MemoryCache) Len() int {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	return mc.order.Len()
}

func (mc *MemoryCache) removeElement(el *list.Element) {
	item := mc.order.Remove(el).(*memoryItem)
	delete(mc.items, item.key)
}

// Close drops every entry.
func (mc *MemoryCache) Close() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.items = make(map[string]*list.Element)
	mc.order.Init()
	return nil
}

// GetWithTier is Get for callers that record the serving tier.
func (mc *MemoryCache) GetWithTier(ctx context.Context, key string, dest interface{}) (string, error) {
	if err := mc.Get(ctx, key, dest); err != nil {
		return "", err
	}
	return TierMemory, nil
}

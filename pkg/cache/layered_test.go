package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeRemote is an L2 that stores raw values with a fixed remaining TTL.
type fakeRemote struct {
	data map[string][]byte
	ttl  time.Duration
	gets int
}

func (f *fakeRemote) setRaw(_ context.Context, key string, data []byte, _ time.Duration) error {
	f.data[key] = data
	return nil
}

func (f *fakeRemote) getRawTTL(_ context.Context, key string) ([]byte, time.Duration, error) {
	f.gets++
	d, ok := f.data[key]
	if !ok {
		return nil, 0, ErrCacheMiss
	}
	return d, f.ttl, nil
}

func (f *fakeRemote) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeRemote) DeleteByPattern(context.Context, string) error { return nil }

func (f *fakeRemote) Exists(_ context.Context, keys ...string) (bool, error) {
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRemote) Close() error { return nil }

func TestLayeredPromotionKeepsRemoteTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	mem := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	remote := &fakeRemote{data: map[string][]byte{"k": []byte(`"v"`)}, ttl: 5 * time.Second}
	lc := &LayeredCache{memCache: mem, redisCache: remote}

	var s string
	tier, err := lc.GetWithTier(ctx, "k", &s)
	if err != nil || tier != TierRedis || s != "v" {
		t.Fatalf("first read: tier=%q value=%q err=%v", tier, s, err)
	}
	if tier, _ := lc.GetWithTier(ctx, "k", &s); tier != TierMemory {
		t.Fatalf("promoted read served by %q", tier)
	}

	// the promoted copy expires with the remote one
	now = now.Add(6 * time.Second)
	delete(remote.data, "k")
	if _, ok := mem.getRaw("k"); ok {
		t.Fatalf("promoted entry outlived its remote ttl")
	}
	if _, err := lc.GetWithTier(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestLayeredPromotionWithoutRemoteExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	mem := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	remote := &fakeRemote{data: map[string][]byte{"k": []byte(`1`)}}
	lc := &LayeredCache{memCache: mem, redisCache: remote}

	var v int
	if _, err := lc.GetWithTier(ctx, "k", &v); err != nil {
		t.Fatalf("get: %v", err)
	}
	now = now.Add(24 * time.Hour)
	if _, ok := mem.getRaw("k"); !ok {
		t.Fatalf("entry without remote ttl should stay in memory")
	}
}

func TestLayeredMissReportsRemoteTier(t *testing.T) {
	lc := &LayeredCache{memCache: NewMemoryCache(), redisCache: &fakeRemote{data: map[string][]byte{}}}
	var v int
	tier, err := lc.GetWithTier(context.Background(), "absent", &v)
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
	if tier != TierRedis {
		t.Fatalf("miss tier = %q", tier)
	}
}

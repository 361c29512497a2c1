package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type sample struct {
	Time  int64   `json:"time"`
	Close float64 `json:"close"`
}

func TestMemoryCacheRoundTripIsACopy(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()

	in := []sample{{Time: 1, Close: 0.043}, {Time: 2, Close: 0.0431}}
	if err := mc.Set(ctx, "k", in, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	in[0].Close = 99

	var out []sample
	if err := mc.Get(ctx, "k", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(out) != 2 || out[0].Close != 0.043 || out[1].Close != 0.0431 {
		t.Fatalf("unexpected value %+v", out)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	mc := NewMemoryCache()
	var out []sample
	if err := mc.Get(context.Background(), "absent", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxEntries(2))

	_ = mc.Set(ctx, "a", 1, 0)
	_ = mc.Set(ctx, "b", 2, 0)

	var v int
	if err := mc.Get(ctx, "a", &v); err != nil {
		t.Fatalf("get a: %v", err)
	}
	_ = mc.Set(ctx, "c", 3, 0)

	if ok, _ := mc.Exists(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if ok, _ := mc.Exists(ctx, "a", "c"); !ok {
		t.Fatalf("a and c should remain")
	}
	if mc.Len() != 2 {
		t.Fatalf("len = %d", mc.Len())
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	mc := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))

	_ = mc.Set(ctx, "k", "v", time.Second)
	now = now.Add(2 * time.Second)

	var s string
	if err := mc.Get(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()

	_ = mc.Set(ctx, "bars:sol|1m|0|59|price|100", 1, 0)
	_ = mc.Set(ctx, "bars:sol|1s|0|59|price|100", 1, 0)
	_ = mc.Set(ctx, "bars:solx|1m|0|59|price|100", 1, 0)

	if err := mc.DeleteByPattern(ctx, "bars:sol|*"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if mc.Len() != 1 {
		t.Fatalf("expected only the other series to survive, len=%d", mc.Len())
	}
	if ok, _ := mc.Exists(ctx, "bars:solx|1m|0|59|price|100"); !ok {
		t.Fatalf("unrelated series was invalidated")
	}

	if err := mc.DeleteByPattern(ctx, "bars:["); err == nil {
		t.Fatalf("expected malformed pattern error")
	}
}

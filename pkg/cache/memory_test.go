package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type rateEntry struct {
	Rate      string    `json:"rate"`
	FetchedAt time.Time `json:"fetched_at"`
}

func TestMemoryCacheRoundTripStruct(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	in := rateEntry{Rate: "83.12", FetchedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	if err := mc.Set(ctx, Key("rate", "USD", "INR"), in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var out rateEntry
	if err := mc.Get(ctx, "rate:USD:INR", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Rate != in.Rate || !out.FetchedAt.Equal(in.FetchedAt) {
		t.Fatalf("unexpected value %+v", out)
	}
}

func TestMemoryCacheMissAndExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	var s string
	if err := mc.Get(ctx, "absent", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	_ = mc.Set(ctx, "short", "v", time.Nanosecond)
	time.Sleep(2 * time.Millisecond)
	if err := mc.Get(ctx, "short", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expired miss, got %v", err)
	}
	if ok, _ := mc.Exists(ctx, "short"); ok {
		t.Fatalf("expired key should not exist")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", "1", 0)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "b", "2", 0)
	time.Sleep(time.Millisecond)
	var s string
	_ = mc.Get(ctx, "a", &s)
	_ = mc.Set(ctx, "c", "3", 0)

	if ok, _ := mc.Exists(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if ok, _ := mc.Exists(ctx, "a", "c"); !ok {
		t.Fatalf("a and c should remain")
	}
}

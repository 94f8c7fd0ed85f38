package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCacheTTL(t *testing.T) {
	c := New[string](time.Minute)
	defer c.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", "alpha")
	c.SetWithTTL("b", "beta", time.Second)

	if v, ok := c.Get("a"); !ok || v != "alpha" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("b"); ok {
		t.Error("b should have expired")
	}
	if got := c.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	c.sweep()
	c.mu.RLock()
	_, present := c.items["b"]
	c.mu.RUnlock()
	if present {
		t.Error("sweep should drop expired entries")
	}
}

func TestCacheInvalidatePrefix(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	c.Set("trust:a", 1)
	c.Set("trust:b", 2)
	c.Set("list", 3)
	c.InvalidatePrefix("trust:")

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if _, ok := c.Get("list"); !ok {
		t.Error("list should survive prefix invalidation")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Error("Clear() left entries behind")
	}
}

func TestCacheGetOrLoad(t *testing.T) {
	c := New[int](time.Minute)
	defer c.Stop()

	calls := 0
	load := func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", load)
		if err != nil || v != 42 {
			t.Fatalf("GetOrLoad() = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad(context.Background(), "bad", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("GetOrLoad() error = %v, want boom", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("errors must not be cached")
	}
}

func TestCacheStopIdempotent(t *testing.T) {
	c := New[int](time.Second)
	c.Stop()
	c.Stop()
}

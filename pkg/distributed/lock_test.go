package distributed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("SIDESCREEN_TEST_REDIS")
	if addr == "" {
		t.Skip("SIDESCREEN_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLockExclusive(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "sidescreen:test:lock:" + generateLockValue()
	defer client.Del(ctx, key)

	a := NewLock(client, key, time.Second)
	b := NewLock(client, key, time.Second)

	ok, err := a.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("a.TryLock() = %v, %v", ok, err)
	}
	ok, err = b.TryLock(ctx)
	if err != nil || ok {
		t.Fatalf("b.TryLock() while held = %v, %v", ok, err)
	}

	// Outlive the TTL; renewal keeps a's lease.
	time.Sleep(1500 * time.Millisecond)
	if ok, _ := b.TryLock(ctx); ok {
		t.Fatal("lease expired despite renewal")
	}

	if err := a.Unlock(ctx); err != nil {
		t.Fatalf("a.Unlock() = %v", err)
	}
	ok, err = b.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("b.TryLock() after release = %v, %v", ok, err)
	}
	if err := b.Unlock(ctx); err != nil {
		t.Fatalf("b.Unlock() = %v", err)
	}
}

func TestUnlockWithoutLock(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	l := NewLock(client, "sidescreen:test:lock", time.Second)
	if err := l.Unlock(context.Background()); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Unlock() = %v, want ErrNotHeld", err)
	}
}

func TestTryLockUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	l := NewLock(client, "sidescreen:test:lock", time.Second)
	if ok, err := l.TryLock(context.Background()); ok || err == nil {
		t.Errorf("TryLock() = %v, %v; want failure", ok, err)
	}
}

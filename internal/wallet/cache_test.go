package wallet

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hmos/marketplace/internal/models"
)

// Needs a disposable Redis: TEST_REDIS_ADDR=localhost:6379 go test ./internal/wallet/
func newTestRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	return NewRedisCache(rdb, time.Minute)
}

func TestRedisCacheKeepsNewerSnapshot(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()
	user := uuid.New()
	t.Cleanup(func() { _ = c.Invalidate(ctx, user) })

	now := time.Now().UTC()
	fresh := &models.Wallet{UserID: user, AvailableBalance: dec("8"), UpdatedAt: now}
	stale := &models.Wallet{UserID: user, AvailableBalance: dec("5"), UpdatedAt: now.Add(-time.Second)}

	if _, err := c.Get(ctx, user); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := c.Set(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, stale); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if !got.AvailableBalance.Equal(dec("8")) {
		t.Errorf("cached balance = %s, want 8", got.AvailableBalance)
	}

	if err := c.Invalidate(ctx, user); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, user); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected miss after invalidate, got %v", err)
	}
}

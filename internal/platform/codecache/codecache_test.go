package codecache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/conversant/backend/internal/platform/logger"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	c, err := NewCache(rdb, log, 15*time.Minute, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c, mr
}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, KindVerification, "abc123", "alice"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	username, ok, err := c.Lookup(ctx, KindVerification, "abc123")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || username != "alice" {
		t.Fatalf("Lookup: expected alice, got %q ok=%v", username, ok)
	}

	// Kinds are namespaced.
	_, ok, err = c.Lookup(ctx, KindPasswordReset, "abc123")
	if err != nil {
		t.Fatalf("Lookup (wrong kind): %v", err)
	}
	if ok {
		t.Fatalf("Lookup (wrong kind): code must not cross namespaces")
	}

	if err := c.Delete(ctx, KindVerification, "abc123"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = c.Lookup(ctx, KindVerification, "abc123")
	if err != nil {
		t.Fatalf("Lookup after delete: %v", err)
	}
	if ok {
		t.Fatalf("Lookup after delete: expected miss")
	}
}

func TestCacheRedeemBurnsCode(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, KindPasswordReset, "reset-1", "bob"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	username, ok, err := c.Redeem(ctx, KindPasswordReset, "reset-1")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if !ok || username != "bob" {
		t.Fatalf("Redeem: expected bob, got %q ok=%v", username, ok)
	}

	_, ok, err = c.Redeem(ctx, KindPasswordReset, "reset-1")
	if err != nil {
		t.Fatalf("Redeem (second): %v", err)
	}
	if ok {
		t.Fatalf("Redeem (second): code must be single use")
	}
}

func TestCacheExpiry(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, KindVerification, "exp-1", "carol"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mr.FastForward(16 * time.Minute)

	_, ok, err := c.Lookup(ctx, KindVerification, "exp-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatalf("Lookup: expected code to expire")
	}
}

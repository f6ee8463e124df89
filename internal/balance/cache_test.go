package balance

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
	"github.com/kasa-exchange/kasa/internal/ledger"
	"github.com/kasa-exchange/kasa/internal/logging"
)

func setupCache(t *testing.T) (*Cache, ledger.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := ledger.NewInMemory()
	return NewCache(rdb, store, logging.Discard()), store, mr
}

func TestBalanceReadThrough(t *testing.T) {
	cache, store, mr := setupCache(t)
	ctx := context.Background()
	userID := uuid.NewString()
	ledger.SeedBalance(store, userID, currency.BTC, decimal.RequireFromString("1.5"))

	bal, err := cache.Balance(ctx, userID, currency.BTC)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if !bal.Available.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected balance: %+v", bal)
	}

	if !mr.Exists("balance:" + userID + ":BTC") {
		t.Fatal("expected per-asset key to be cached")
	}

	// A second read is served from cache even after the store changes.
	ledger.SeedBalance(store, userID, currency.BTC, decimal.RequireFromString("9"))
	bal, err = cache.Balance(ctx, userID, currency.BTC)
	if err != nil {
		t.Fatalf("cached balance failed: %v", err)
	}
	if !bal.Available.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected cached value, got %s", bal.Available)
	}
}

func TestInvalidateRemovesBothKeyShapes(t *testing.T) {
	cache, store, mr := setupCache(t)
	ctx := context.Background()
	userID := uuid.NewString()
	ledger.SeedBalance(store, userID, currency.ETH, decimal.RequireFromString("2"))

	if _, err := cache.Balance(ctx, userID, currency.ETH); err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if _, err := cache.Balances(ctx, userID); err != nil {
		t.Fatalf("balances failed: %v", err)
	}

	cache.Invalidate(ctx, userID)

	if mr.Exists("balance:" + userID + ":ETH") {
		t.Fatal("per-asset key survived invalidation")
	}
	if mr.Exists("balances:" + userID) {
		t.Fatal("aggregate key survived invalidation")
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	cache, store, mr := setupCache(t)
	ctx := context.Background()
	userID := uuid.NewString()
	ledger.SeedBalance(store, userID, currency.BTC, decimal.RequireFromString("1"))

	if _, err := cache.Balance(ctx, userID, currency.BTC); err != nil {
		t.Fatalf("balance failed: %v", err)
	}

	mr.FastForward(DefaultTTL * 2)

	if mr.Exists("balance:" + userID + ":BTC") {
		t.Fatal("expected cache entry to expire")
	}
}

func TestPublishFailureDoesNotPanic(t *testing.T) {
	cache, store, mr := setupCache(t)
	ctx := context.Background()
	userID := uuid.NewString()
	ledger.SeedBalance(store, userID, currency.BTC, decimal.RequireFromString("1"))

	bal, err := store.Balance(ctx, userID, currency.BTC)
	if err != nil {
		t.Fatalf("balance failed: %v", err)
	}

	mr.Close() // sever the connection before publishing
	cache.OnMutation(ctx, bal)
}

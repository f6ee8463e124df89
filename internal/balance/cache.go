// Package balance provides a short-TTL read-through cache in front of the
// ledger store, plus the pub/sub channel other services subscribe to for
// real-time balance pushes.
package balance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
	"github.com/kasa-exchange/kasa/internal/ledger"
)

// DefaultTTL bounds staleness for balance reads without hammering the
// database on every request.
const DefaultTTL = 5 * time.Second

func aggregateKey(userID string) string {
	return "balances:" + userID
}

func assetKey(userID string, cur currency.Currency) string {
	return fmt.Sprintf("balance:%s:%s", userID, cur)
}

func channel(userID string) string {
	return "wallet:balance:" + userID
}

type snapshot struct {
	UserID    string          `json:"user_id"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available_balance"`
	Locked    decimal.Decimal `json:"locked_balance"`
	Total     decimal.Decimal `json:"total_balance"`
	AsOf      time.Time       `json:"as_of"`
}

func toSnapshot(b ledger.Balance) snapshot {
	return snapshot{
		UserID:    b.UserID,
		Currency:  string(b.Currency),
		Available: b.Available,
		Locked:    b.Locked,
		Total:     b.Total(),
		AsOf:      b.AsOf,
	}
}

func fromSnapshot(s snapshot) ledger.Balance {
	return ledger.Balance{
		UserID:    s.UserID,
		Currency:  currency.Currency(s.Currency),
		Available: s.Available,
		Locked:    s.Locked,
		AsOf:      s.AsOf,
	}
}

// Cache serves balance reads from Redis, falling back to the ledger store on
// a miss. Invalidation must run synchronously with every ledger mutation.
type Cache struct {
	rdb    *redis.Client
	store  ledger.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache builds a balance cache with the default 5 second TTL.
func NewCache(rdb *redis.Client, store ledger.Store, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, store: store, ttl: DefaultTTL, logger: logger}
}

// Balance returns the wallet snapshot for one currency, cached.
func (c *Cache) Balance(ctx context.Context, userID string, cur currency.Currency) (ledger.Balance, error) {
	key := assetKey(userID, cur)
	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var s snapshot
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return fromSnapshot(s), nil
		}
		// Corrupt cache entries fall through to the store.
		c.logger.Warn("discarding corrupt balance cache entry", "key", key)
	} else if err != redis.Nil {
		c.logger.Warn("balance cache read failed", "key", key, "error", err)
	}

	bal, err := c.store.Balance(ctx, userID, cur)
	if err != nil {
		return ledger.Balance{}, err
	}
	c.put(ctx, key, toSnapshot(bal))
	return bal, nil
}

// Balances returns snapshots for every wallet the user holds, cached as an
// aggregate.
func (c *Cache) Balances(ctx context.Context, userID string) ([]ledger.Balance, error) {
	key := aggregateKey(userID)
	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var snaps []snapshot
		if err := json.Unmarshal([]byte(raw), &snaps); err == nil {
			balances := make([]ledger.Balance, 0, len(snaps))
			for _, s := range snaps {
				balances = append(balances, fromSnapshot(s))
			}
			return balances, nil
		}
		c.logger.Warn("discarding corrupt balance cache entry", "key", key)
	} else if err != redis.Nil {
		c.logger.Warn("balance cache read failed", "key", key, "error", err)
	}

	balances, err := c.store.Balances(ctx, userID)
	if err != nil {
		return nil, err
	}
	snaps := make([]snapshot, 0, len(balances))
	for _, b := range balances {
		snaps = append(snaps, toSnapshot(b))
	}
	c.put(ctx, key, snaps)
	return balances, nil
}

// Invalidate removes both key shapes for the user. It must be called
// synchronously with the mutation that changed the ledger, never deferred.
func (c *Cache) Invalidate(ctx context.Context, userID string) {
	keys := []string{aggregateKey(userID)}
	for _, cur := range currency.All() {
		keys = append(keys, assetKey(userID, cur))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("balance cache invalidation failed", "user_id", userID, "error", err)
	}
}

// Publish pushes the post-mutation snapshot onto the user's balance channel.
// Delivery is best effort: a publish failure never fails the mutation.
func (c *Cache) Publish(ctx context.Context, bal ledger.Balance) {
	payload, err := json.Marshal(toSnapshot(bal))
	if err != nil {
		return
	}
	if err := c.rdb.Publish(ctx, channel(bal.UserID), payload).Err(); err != nil {
		c.logger.Warn("balance publish failed", "user_id", bal.UserID, "error", err)
	}
}

// OnMutation is the one call mutation sites make after a successful commit:
// synchronous invalidation followed by a best-effort publish.
func (c *Cache) OnMutation(ctx context.Context, bal ledger.Balance) {
	c.Invalidate(ctx, bal.UserID)
	c.Publish(ctx, bal)
}

func (c *Cache) put(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("balance cache write failed", "key", key, "error", err)
	}
}

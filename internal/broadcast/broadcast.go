// Package broadcast submits signed transactions to the blockchain networks
// and tracks their confirmation progress. The mode is explicit: a live
// broadcaster talks to real providers, a simulated one never leaves the
// process, and nothing silently switches between the two.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kasa-exchange/kasa/internal/currency"
)

var (
	// ErrBroadcastFailed wraps the final provider error after all retry
	// attempts were exhausted.
	ErrBroadcastFailed = errors.New("transaction broadcast failed")

	// ErrNoClient indicates no chain client is registered for the currency.
	ErrNoClient = errors.New("no broadcast client for currency")
)

// Mode selects between live network submission and in-process simulation.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSimulated Mode = "simulated"
)

// Status is a point-in-time view of a broadcast transaction. A transaction
// the provider cannot see yet reports zero confirmations rather than an
// error.
type Status struct {
	TxID          string
	Confirmations int64
	BlockHeight   int64
	Confirmed     bool
}

// ChainClient submits raw transactions for one chain and reports their
// confirmation state.
type ChainClient interface {
	// Push submits the raw transaction and returns the network-assigned
	// transaction id.
	Push(ctx context.Context, rawHex string) (string, error)

	// Status reports confirmation progress for a previously pushed
	// transaction.
	Status(ctx context.Context, txID string) (Status, error)
}

// requiredConfirmations is the per-currency depth at which a withdrawal is
// considered final.
var requiredConfirmations = map[currency.Currency]int64{
	currency.BTC:  3,
	currency.ETH:  12,
	currency.USDT: 12,
}

// blockInterval is the average time between blocks per chain.
var blockInterval = map[currency.Currency]time.Duration{
	currency.BTC:  10 * time.Minute,
	currency.ETH:  15 * time.Second,
	currency.USDT: 15 * time.Second,
}

// RequiredConfirmations returns the finality threshold for cur.
func RequiredConfirmations(cur currency.Currency) int64 {
	if n, ok := requiredConfirmations[cur]; ok {
		return n
	}
	return 1
}

// EstimateConfirmationTime returns the expected wait until a freshly
// broadcast transaction of cur reaches finality.
func EstimateConfirmationTime(cur currency.Currency) time.Duration {
	return time.Duration(RequiredConfirmations(cur)) * blockInterval[cur]
}

// Broadcaster retries submission against the per-chain clients with a
// bounded linear backoff.
type Broadcaster struct {
	clients  map[currency.Currency]ChainClient
	attempts int
	backoff  time.Duration
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithRetry overrides the attempt count and base backoff delay.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(b *Broadcaster) {
		if attempts > 0 {
			b.attempts = attempts
		}
		b.backoff = backoff
	}
}

// New builds a broadcaster over the given per-currency clients.
func New(clients map[currency.Currency]ChainClient, logger *slog.Logger, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		clients:  clients,
		attempts: 3,
		backoff:  2 * time.Second,
		logger:   logger,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast pushes the raw transaction, retrying transient failures. The
// delay grows linearly with the attempt number. The returned id comes from
// the network, which lets the caller cross-check it against the locally
// computed one.
func (b *Broadcaster) Broadcast(ctx context.Context, cur currency.Currency, rawHex string) (string, error) {
	client, ok := b.clients[cur]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoClient, cur)
	}

	var lastErr error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		txID, err := client.Push(ctx, rawHex)
		if err == nil {
			return txID, nil
		}
		lastErr = err
		b.logger.Warn("broadcast attempt failed",
			"currency", cur, "attempt", attempt, "max_attempts", b.attempts, "error", err)

		if attempt == b.attempts {
			break
		}
		if err := b.sleep(ctx, time.Duration(attempt)*b.backoff); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrBroadcastFailed, b.attempts, lastErr)
}

// Status reports confirmation progress. Provider errors degrade to an
// unconfirmed status so that a flaky explorer cannot fail a withdrawal that
// is already on chain.
func (b *Broadcaster) Status(ctx context.Context, cur currency.Currency, txID string) Status {
	client, ok := b.clients[cur]
	if !ok {
		return Status{TxID: txID}
	}

	st, err := client.Status(ctx, txID)
	if err != nil {
		b.logger.Warn("confirmation lookup failed", "currency", cur, "tx_id", txID, "error", err)
		return Status{TxID: txID}
	}
	st.TxID = txID
	st.Confirmed = st.Confirmations >= RequiredConfirmations(cur)
	return st
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

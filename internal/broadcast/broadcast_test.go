package broadcast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kasa-exchange/kasa/internal/currency"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedClient struct {
	failures int
	pushes   int
	status   Status
	statusErr error
}

func (c *scriptedClient) Push(_ context.Context, _ string) (string, error) {
	c.pushes++
	if c.pushes <= c.failures {
		return "", errors.New("provider unavailable")
	}
	return "tx-" + string(rune('0'+c.pushes)), nil
}

func (c *scriptedClient) Status(_ context.Context, _ string) (Status, error) {
	return c.status, c.statusErr
}

func newTestBroadcaster(client ChainClient) *Broadcaster {
	b := New(map[currency.Currency]ChainClient{currency.BTC: client}, discardLogger(),
		WithRetry(3, time.Millisecond))
	b.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return b
}

func TestBroadcastRetriesThenSucceeds(t *testing.T) {
	client := &scriptedClient{failures: 2}
	b := newTestBroadcaster(client)

	txID, err := b.Broadcast(context.Background(), currency.BTC, "deadbeef")
	if err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if txID == "" {
		t.Fatal("expected a transaction id")
	}
	if client.pushes != 3 {
		t.Fatalf("pushes = %d, want 3", client.pushes)
	}
}

func TestBroadcastExhaustsAttempts(t *testing.T) {
	client := &scriptedClient{failures: 10}
	b := newTestBroadcaster(client)

	_, err := b.Broadcast(context.Background(), currency.BTC, "deadbeef")
	if !errors.Is(err, ErrBroadcastFailed) {
		t.Fatalf("expected ErrBroadcastFailed, got %v", err)
	}
	if client.pushes != 3 {
		t.Fatalf("pushes = %d, want exactly 3", client.pushes)
	}
}

func TestBroadcastUnknownCurrency(t *testing.T) {
	b := newTestBroadcaster(&scriptedClient{})

	if _, err := b.Broadcast(context.Background(), currency.ETH, "deadbeef"); !errors.Is(err, ErrNoClient) {
		t.Fatalf("expected ErrNoClient, got %v", err)
	}
}

func TestBroadcastStopsWhenContextCancelled(t *testing.T) {
	client := &scriptedClient{failures: 10}
	b := newTestBroadcaster(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Broadcast(ctx, currency.BTC, "deadbeef"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if client.pushes != 1 {
		t.Fatalf("pushes = %d, want 1", client.pushes)
	}
}

func TestStatusDegradesOnProviderError(t *testing.T) {
	client := &scriptedClient{statusErr: errors.New("explorer down")}
	b := newTestBroadcaster(client)

	st := b.Status(context.Background(), currency.BTC, "abc")
	if st.Confirmations != 0 || st.Confirmed {
		t.Fatalf("expected unconfirmed degraded status, got %+v", st)
	}
	if st.TxID != "abc" {
		t.Fatalf("tx id = %q", st.TxID)
	}
}

func TestStatusAppliesConfirmationThreshold(t *testing.T) {
	client := &scriptedClient{status: Status{Confirmations: 2, BlockHeight: 800_000}}
	b := newTestBroadcaster(client)

	if st := b.Status(context.Background(), currency.BTC, "abc"); st.Confirmed {
		t.Fatalf("2 confirmations must not be final for BTC: %+v", st)
	}

	client.status.Confirmations = 3
	if st := b.Status(context.Background(), currency.BTC, "abc"); !st.Confirmed {
		t.Fatalf("3 confirmations must be final for BTC: %+v", st)
	}
}

func TestRequiredConfirmations(t *testing.T) {
	if n := RequiredConfirmations(currency.BTC); n != 3 {
		t.Fatalf("BTC threshold = %d", n)
	}
	if n := RequiredConfirmations(currency.ETH); n != 12 {
		t.Fatalf("ETH threshold = %d", n)
	}
	if n := RequiredConfirmations(currency.USDT); n != 12 {
		t.Fatalf("USDT threshold = %d", n)
	}
}

func TestEstimateConfirmationTime(t *testing.T) {
	if d := EstimateConfirmationTime(currency.BTC); d != 30*time.Minute {
		t.Fatalf("BTC estimate = %s", d)
	}
	if d := EstimateConfirmationTime(currency.ETH); d != 3*time.Minute {
		t.Fatalf("ETH estimate = %s", d)
	}
}

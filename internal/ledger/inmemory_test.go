package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func TestCreditCreatesWalletLazily(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()

	bal, err := store.Credit(ctx, userID, currency.BTC, dec(t, "0.5"), Reference{Type: "deposit", ID: "dep-1"})
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if !bal.Available.Equal(dec(t, "0.5")) || !bal.Locked.IsZero() {
		t.Fatalf("unexpected balance: %+v", bal)
	}
}

func TestCreditRejectsInvalidAmounts(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()

	for _, amount := range []string{"0", "-1"} {
		if _, err := store.Credit(ctx, userID, currency.BTC, dec(t, amount), Reference{}); err == nil {
			t.Fatalf("expected rejection for amount %s", amount)
		}
	}
}

func TestLockUnlockRoundTrip(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()
	SeedBalance(store, userID, currency.BTC, dec(t, "1.0"))

	bal, err := store.LockFunds(ctx, userID, currency.BTC, dec(t, "0.5006"), Reference{Type: "withdrawal", ID: "w-1"})
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if !bal.Available.Equal(dec(t, "0.4994")) || !bal.Locked.Equal(dec(t, "0.5006")) {
		t.Fatalf("unexpected balance after lock: %+v", bal)
	}

	bal, err = store.UnlockFunds(ctx, userID, currency.BTC, dec(t, "0.5006"), EntryWithdrawalUnlock, Reference{Type: "withdrawal", ID: "w-1"})
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if !bal.Available.Equal(dec(t, "1.0")) || !bal.Locked.IsZero() {
		t.Fatalf("funds not fully restored: %+v", bal)
	}
}

func TestLockInsufficientFunds(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()
	SeedBalance(store, userID, currency.ETH, dec(t, "0.1"))

	_, err := store.LockFunds(ctx, userID, currency.ETH, dec(t, "0.2"), Reference{})
	if err == nil {
		t.Fatal("expected insufficient funds")
	}
}

func TestCompleteWithdrawalLeavesAvailableUntouched(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()
	SeedBalance(store, userID, currency.BTC, dec(t, "1.0"))

	if _, err := store.LockFunds(ctx, userID, currency.BTC, dec(t, "0.5006"), Reference{}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	bal, err := store.CompleteWithdrawal(ctx, userID, currency.BTC, dec(t, "0.5006"), Reference{Type: "withdrawal", ID: "w-1"})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if !bal.Available.Equal(dec(t, "0.4994")) || !bal.Locked.IsZero() {
		t.Fatalf("unexpected balance after completion: %+v", bal)
	}
	if !bal.Total().Equal(dec(t, "0.4994")) {
		t.Fatalf("unexpected total: %s", bal.Total())
	}
}

func TestEntryInvariantHolds(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()

	if _, err := store.Credit(ctx, userID, currency.BTC, dec(t, "1.0"), Reference{}); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if _, err := store.LockFunds(ctx, userID, currency.BTC, dec(t, "0.25"), Reference{}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if _, err := store.UnlockFunds(ctx, userID, currency.BTC, dec(t, "0.25"), EntryWithdrawalFailed, Reference{}); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	for _, e := range AllEntries(store) {
		if !e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Amount)) {
			t.Fatalf("entry %s violates balance invariant: before=%s amount=%s after=%s",
				e.Type, e.BalanceBefore, e.Amount, e.BalanceAfter)
		}
	}
}

func TestConcurrentLocksNeverDoubleSpend(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()
	SeedBalance(store, userID, currency.BTC, dec(t, "1.0"))

	const workers = 10
	lockAmount := dec(t, "0.3")

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.LockFunds(ctx, userID, currency.BTC, lockAmount, Reference{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	// 1.0 / 0.3 allows at most 3 successful locks.
	if succeeded != 3 {
		t.Fatalf("expected exactly 3 successful locks, got %d", succeeded)
	}

	bal, _ := store.Balance(ctx, userID, currency.BTC)
	if !bal.Total().Equal(dec(t, "1.0")) {
		t.Fatalf("total changed under concurrency: %s", bal.Total())
	}
}

func TestBalancesListsAllWallets(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	userID := uuid.NewString()

	if _, err := store.Credit(ctx, userID, currency.BTC, dec(t, "1"), Reference{}); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if _, err := store.Credit(ctx, userID, currency.TRY, dec(t, "250.50"), Reference{}); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	balances, err := store.Balances(ctx, userID)
	if err != nil {
		t.Fatalf("balances failed: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 wallets, got %d", len(balances))
	}
}

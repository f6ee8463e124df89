package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
)

type walletKey struct {
	userID string
	cur    currency.Currency
}

type memWallet struct {
	available decimal.Decimal
	locked    decimal.Decimal
}

type inMemoryStore struct {
	mu      sync.RWMutex
	wallets map[walletKey]*memWallet
	entries []Entry
}

// NewInMemory creates a concurrency-safe in-memory ledger store useful for
// unit tests. Mutations hold one mutex, giving the same serialization the
// Postgres row lock provides.
func NewInMemory() Store {
	return &inMemoryStore{wallets: make(map[walletKey]*memWallet)}
}

func (s *inMemoryStore) wallet(userID string, cur currency.Currency) *memWallet {
	key := walletKey{userID: userID, cur: cur}
	w, ok := s.wallets[key]
	if !ok {
		w = &memWallet{available: decimal.Zero, locked: decimal.Zero}
		s.wallets[key] = w
	}
	return w
}

func (s *inMemoryStore) record(userID string, cur currency.Currency, entryType EntryType,
	amount, before, after decimal.Decimal, ref Reference) {
	s.entries = append(s.entries, Entry{
		ID:            uuid.NewString(),
		UserID:        userID,
		Currency:      cur,
		Type:          entryType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceID:   ref.ID,
		ReferenceType: ref.Type,
		Description:   ref.Description,
		Metadata:      ref.Metadata,
		CreatedAt:     time.Now().UTC(),
	})
}

func (s *inMemoryStore) Credit(_ context.Context, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error) {
	if err := ValidateAmount(cur, amount); err != nil {
		return Balance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.wallet(userID, cur)
	before := w.available
	w.available = w.available.Add(amount)
	s.record(userID, cur, EntryDeposit, amount, before, w.available, ref)
	return s.snapshot(userID, cur, w), nil
}

func (s *inMemoryStore) LockFunds(_ context.Context, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error) {
	if err := ValidateAmount(cur, amount); err != nil {
		return Balance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.wallet(userID, cur)
	if w.available.LessThan(amount) {
		return Balance{}, fmt.Errorf("%w: required %s, available %s %s",
			ErrInsufficientFunds, amount.String(), w.available.String(), cur)
	}
	before := w.available
	w.available = w.available.Sub(amount)
	w.locked = w.locked.Add(amount)
	s.record(userID, cur, EntryWithdrawalLock, amount.Neg(), before, w.available, ref)
	return s.snapshot(userID, cur, w), nil
}

func (s *inMemoryStore) UnlockFunds(_ context.Context, userID string, cur currency.Currency, amount decimal.Decimal, entryType EntryType, ref Reference) (Balance, error) {
	if err := ValidateAmount(cur, amount); err != nil {
		return Balance{}, err
	}
	if entryType != EntryWithdrawalUnlock && entryType != EntryWithdrawalFailed {
		return Balance{}, fmt.Errorf("entry type %s is not an unlock", entryType)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.wallet(userID, cur)
	if w.locked.LessThan(amount) {
		return Balance{}, fmt.Errorf("%w: requested %s, locked %s %s",
			ErrInsufficientLocked, amount.String(), w.locked.String(), cur)
	}
	before := w.available
	w.locked = w.locked.Sub(amount)
	w.available = w.available.Add(amount)
	s.record(userID, cur, entryType, amount, before, w.available, ref)
	return s.snapshot(userID, cur, w), nil
}

func (s *inMemoryStore) CompleteWithdrawal(_ context.Context, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error) {
	if err := ValidateAmount(cur, amount); err != nil {
		return Balance{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.wallet(userID, cur)
	if w.locked.LessThan(amount) {
		return Balance{}, fmt.Errorf("%w: requested %s, locked %s %s",
			ErrInsufficientLocked, amount.String(), w.locked.String(), cur)
	}
	before := w.locked
	w.locked = w.locked.Sub(amount)
	s.record(userID, cur, EntryWithdrawalComplete, amount.Neg(), before, w.locked, ref)
	return s.snapshot(userID, cur, w), nil
}

func (s *inMemoryStore) Balance(_ context.Context, userID string, cur currency.Currency) (Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[walletKey{userID: userID, cur: cur}]
	if !ok {
		return Balance{UserID: userID, Currency: cur, Available: decimal.Zero, Locked: decimal.Zero, AsOf: time.Now().UTC()}, nil
	}
	return s.snapshot(userID, cur, w), nil
}

func (s *inMemoryStore) Balances(_ context.Context, userID string) ([]Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var balances []Balance
	for _, cur := range currency.All() {
		if w, ok := s.wallets[walletKey{userID: userID, cur: cur}]; ok {
			balances = append(balances, s.snapshot(userID, cur, w))
		}
	}
	return balances, nil
}

func (s *inMemoryStore) Entries(_ context.Context, userID string, page, limit int) ([]Entry, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mine []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			mine = append(mine, s.entries[i])
		}
	}
	start := (page - 1) * limit
	if start >= len(mine) {
		return nil, nil
	}
	end := start + limit
	if end > len(mine) {
		end = len(mine)
	}
	return mine[start:end], nil
}

func (s *inMemoryStore) snapshot(userID string, cur currency.Currency, w *memWallet) Balance {
	return Balance{
		UserID:    userID,
		Currency:  cur,
		Available: w.available,
		Locked:    w.locked,
		AsOf:      time.Now().UTC(),
	}
}

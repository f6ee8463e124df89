package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
)

var (
	// ErrInsufficientFunds occurs when the wallet lacks available balance to
	// cover a requested lock or debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientLocked occurs when a release or completion references
	// more funds than the wallet currently holds locked.
	ErrInsufficientLocked = errors.New("insufficient locked funds")

	// ErrInvalidAmount indicates a zero, negative or non-numeric amount.
	ErrInvalidAmount = errors.New("amount must be a positive number")

	// ErrWalletNotFound indicates no wallet row exists for the user/currency pair.
	ErrWalletNotFound = errors.New("wallet not found")
)

// EntryType classifies a ledger mutation.
type EntryType string

const (
	EntryDeposit            EntryType = "DEPOSIT"
	EntryWithdrawalLock     EntryType = "WITHDRAWAL_LOCK"
	EntryWithdrawalUnlock   EntryType = "WITHDRAWAL_UNLOCK"
	EntryWithdrawalComplete EntryType = "WITHDRAWAL_COMPLETE"
	EntryWithdrawalFailed   EntryType = "WITHDRAWAL_FAILED"
)

// Balance is a snapshot of a single wallet. Total is derived, never stored.
type Balance struct {
	UserID    string
	Currency  currency.Currency
	Available decimal.Decimal
	Locked    decimal.Decimal
	AsOf      time.Time
}

// Total returns available plus locked funds.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// Reference ties a ledger entry back to the operation that produced it.
type Reference struct {
	ID          string
	Type        string
	Description string
	Metadata    map[string]string
}

// Entry is an immutable audit record of one balance mutation. Entries are
// never updated or deleted; they are the sole source of truth for
// reconstructing balance history. For every entry
// BalanceAfter == BalanceBefore + Amount holds exactly.
type Entry struct {
	ID            string
	UserID        string
	Currency      currency.Currency
	Type          EntryType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	ReferenceID   string
	ReferenceType string
	Description   string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// Store is the balance of record. Every mutating call executes inside a
// single database transaction holding a pessimistic write lock on the wallet
// row, writes exactly one entry, and either commits both or neither.
type Store interface {
	// Credit adds funds to the available balance, creating the wallet lazily.
	Credit(ctx context.Context, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error)

	// LockFunds moves funds from available to locked ahead of a withdrawal.
	LockFunds(ctx context.Context, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error)

	// UnlockFunds moves funds back from locked to available. The entry type
	// distinguishes a user cancellation (WITHDRAWAL_UNLOCK) from a failed
	// withdrawal compensation (WITHDRAWAL_FAILED).
	UnlockFunds(ctx context.Context, userID string, cur currency.Currency, amount decimal.Decimal, entryType EntryType, ref Reference) (Balance, error)

	// CompleteWithdrawal removes funds from the locked balance permanently;
	// the money has left the ledger on-chain.
	CompleteWithdrawal(ctx context.Context, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error)

	// Balance returns the wallet snapshot for one currency. A missing wallet
	// reads as zero balances.
	Balance(ctx context.Context, userID string, cur currency.Currency) (Balance, error)

	// Balances returns snapshots for every wallet the user holds.
	Balances(ctx context.Context, userID string) ([]Balance, error)

	// Entries lists the user's ledger history, newest first.
	Entries(ctx context.Context, userID string, page, limit int) ([]Entry, error)
}

// ValidateAmount enforces the shared amount rules: positive, non-zero, and
// within the currency's precision.
func ValidateAmount(cur currency.Currency, amount decimal.Decimal) error {
	if amount.IsZero() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	if !amount.Equal(cur.Round(amount)) {
		return ErrInvalidAmount
	}
	return nil
}

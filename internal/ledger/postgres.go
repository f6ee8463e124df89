package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
)

// PostgresStore persists wallets and ledger entries in PostgreSQL. Wallet rows
// are mutated only under a SELECT ... FOR UPDATE lock so concurrent operations
// on the same (user, currency) pair serialize; the entries table is
// append-only.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Credit adds funds to the available balance inside one transaction.
func (s *PostgresStore) Credit(ctx context.Context, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Balance, error) {
		return CreditTx(ctx, tx, userID, cur, amount, ref)
	})
}

// LockFunds moves available funds into the locked balance inside one transaction.
func (s *PostgresStore) LockFunds(ctx context.Context, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Balance, error) {
		return LockFundsTx(ctx, tx, userID, cur, amount, ref)
	})
}

// UnlockFunds returns locked funds to the available balance inside one transaction.
func (s *PostgresStore) UnlockFunds(ctx context.Context, userID string, cur currency.Currency, amount decimal.Decimal, entryType EntryType, ref Reference) (Balance, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Balance, error) {
		return UnlockFundsTx(ctx, tx, userID, cur, amount, entryType, ref)
	})
}

// CompleteWithdrawal removes funds from the locked balance inside one transaction.
func (s *PostgresStore) CompleteWithdrawal(ctx context.Context, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Balance, error) {
		return CompleteWithdrawalTx(ctx, tx, userID, cur, amount, ref)
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) (Balance, error)) (Balance, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Balance{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	bal, err := fn(tx)
	if err != nil {
		return Balance{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// Balance returns the wallet snapshot; a missing wallet reads as zero.
func (s *PostgresStore) Balance(ctx context.Context, userID string, cur currency.Currency) (Balance, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Balance{}, fmt.Errorf("invalid user id: %w", err)
	}
	const query = `SELECT available_balance::text, locked_balance::text
        FROM wallets WHERE user_id = $1 AND currency = $2`
	var availableStr, lockedStr string
	if err := s.db.QueryRow(ctx, query, uid, string(cur)).Scan(&availableStr, &lockedStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{UserID: userID, Currency: cur, Available: decimal.Zero, Locked: decimal.Zero, AsOf: time.Now().UTC()}, nil
		}
		return Balance{}, err
	}
	return balanceFromStrings(userID, cur, availableStr, lockedStr)
}

// Balances returns a snapshot for every wallet the user holds.
func (s *PostgresStore) Balances(ctx context.Context, userID string) ([]Balance, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	const query = `SELECT currency, available_balance::text, locked_balance::text
        FROM wallets WHERE user_id = $1 ORDER BY currency`
	rows, err := s.db.Query(ctx, query, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []Balance
	for rows.Next() {
		var cur, availableStr, lockedStr string
		if err := rows.Scan(&cur, &availableStr, &lockedStr); err != nil {
			return nil, err
		}
		bal, err := balanceFromStrings(userID, currency.Currency(cur), availableStr, lockedStr)
		if err != nil {
			return nil, err
		}
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// Entries lists the user's ledger history, newest first.
func (s *PostgresStore) Entries(ctx context.Context, userID string, page, limit int) ([]Entry, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	const query = `SELECT id, currency, entry_type, amount::text, balance_before::text, balance_after::text,
            reference_id, reference_type, description, metadata, created_at
        FROM ledger_entries WHERE user_id = $1
        ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, uid, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			id         uuid.UUID
			cur        string
			amountStr  string
			beforeStr  string
			afterStr   string
			metaRaw    []byte
		)
		if err := rows.Scan(&id, &cur, &e.Type, &amountStr, &beforeStr, &afterStr,
			&e.ReferenceID, &e.ReferenceType, &e.Description, &metaRaw, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = id.String()
		e.UserID = userID
		e.Currency = currency.Currency(cur)
		if e.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, err
		}
		if e.BalanceBefore, err = decimal.NewFromString(beforeStr); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = decimal.NewFromString(afterStr); err != nil {
			return nil, err
		}
		if len(metaRaw) > 0 {
			_ = json.Unmarshal(metaRaw, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// walletRow is the locked state of a wallet inside a transaction.
type walletRow struct {
	id        uuid.UUID
	available decimal.Decimal
	locked    decimal.Decimal
}

// lockWallet acquires the row lock for the wallet, creating it with zero
// balances if absent. The lock is held until the surrounding transaction ends.
func lockWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID, cur currency.Currency) (walletRow, error) {
	const selectQuery = `SELECT id, available_balance::text, locked_balance::text
        FROM wallets WHERE user_id = $1 AND currency = $2 FOR UPDATE`

	var (
		w            walletRow
		availableStr string
		lockedStr    string
	)
	err := tx.QueryRow(ctx, selectQuery, userID, string(cur)).Scan(&w.id, &availableStr, &lockedStr)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lazy creation. ON CONFLICT covers the race where another
		// transaction creates the row first; re-select to take the lock.
		if _, err := tx.Exec(ctx, `INSERT INTO wallets (id, user_id, currency) VALUES ($1, $2, $3)
            ON CONFLICT (user_id, currency) DO NOTHING`, uuid.New(), userID, string(cur)); err != nil {
			return walletRow{}, err
		}
		err = tx.QueryRow(ctx, selectQuery, userID, string(cur)).Scan(&w.id, &availableStr, &lockedStr)
	}
	if err != nil {
		return walletRow{}, err
	}
	if w.available, err = decimal.NewFromString(availableStr); err != nil {
		return walletRow{}, err
	}
	if w.locked, err = decimal.NewFromString(lockedStr); err != nil {
		return walletRow{}, err
	}
	return w, nil
}

func writeWallet(ctx context.Context, tx pgx.Tx, w walletRow) error {
	_, err := tx.Exec(ctx, `UPDATE wallets SET available_balance = $2, locked_balance = $3, updated_at = now()
        WHERE id = $1`, w.id, w.available.String(), w.locked.String())
	return err
}

func insertEntry(ctx context.Context, tx pgx.Tx, userID uuid.UUID, cur currency.Currency, entryType EntryType,
	amount, before, after decimal.Decimal, ref Reference) error {
	var metaRaw []byte
	if len(ref.Metadata) > 0 {
		var err error
		if metaRaw, err = json.Marshal(ref.Metadata); err != nil {
			return err
		}
	}
	_, err := tx.Exec(ctx, `INSERT INTO ledger_entries
            (id, user_id, currency, entry_type, amount, balance_before, balance_after,
             reference_id, reference_type, description, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New(), userID, string(cur), string(entryType),
		amount.String(), before.String(), after.String(),
		ref.ID, ref.Type, ref.Description, metaRaw)
	return err
}

// CreditTx applies a credit within the caller's transaction. Exposed so
// callers composing larger atomic operations (e.g. deposit settlement) can
// reuse the wallet locking and entry bookkeeping.
func CreditTx(ctx context.Context, tx pgx.Tx, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error) {
	if err := ValidateAmount(cur, amount); err != nil {
		return Balance{}, err
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Balance{}, fmt.Errorf("invalid user id: %w", err)
	}
	w, err := lockWallet(ctx, tx, uid, cur)
	if err != nil {
		return Balance{}, err
	}

	before := w.available
	w.available = w.available.Add(amount)
	if err := writeWallet(ctx, tx, w); err != nil {
		return Balance{}, err
	}
	if err := insertEntry(ctx, tx, uid, cur, EntryDeposit, amount, before, w.available, ref); err != nil {
		return Balance{}, err
	}
	return snapshot(userID, cur, w), nil
}

// LockFundsTx moves available funds to locked within the caller's transaction.
func LockFundsTx(ctx context.Context, tx pgx.Tx, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error) {
	if err := ValidateAmount(cur, amount); err != nil {
		return Balance{}, err
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Balance{}, fmt.Errorf("invalid user id: %w", err)
	}
	w, err := lockWallet(ctx, tx, uid, cur)
	if err != nil {
		return Balance{}, err
	}

	if w.available.LessThan(amount) {
		return Balance{}, fmt.Errorf("%w: required %s, available %s %s",
			ErrInsufficientFunds, amount.String(), w.available.String(), cur)
	}

	before := w.available
	w.available = w.available.Sub(amount)
	w.locked = w.locked.Add(amount)
	if err := writeWallet(ctx, tx, w); err != nil {
		return Balance{}, err
	}
	if err := insertEntry(ctx, tx, uid, cur, EntryWithdrawalLock, amount.Neg(), before, w.available, ref); err != nil {
		return Balance{}, err
	}
	return snapshot(userID, cur, w), nil
}

// UnlockFundsTx returns locked funds to available within the caller's transaction.
func UnlockFundsTx(ctx context.Context, tx pgx.Tx, userID string, cur currency.Currency, amount decimal.Decimal, entryType EntryType, ref Reference) (Balance, error) {
	if err := ValidateAmount(cur, amount); err != nil {
		return Balance{}, err
	}
	if entryType != EntryWithdrawalUnlock && entryType != EntryWithdrawalFailed {
		return Balance{}, fmt.Errorf("entry type %s is not an unlock", entryType)
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Balance{}, fmt.Errorf("invalid user id: %w", err)
	}
	w, err := lockWallet(ctx, tx, uid, cur)
	if err != nil {
		return Balance{}, err
	}

	if w.locked.LessThan(amount) {
		return Balance{}, fmt.Errorf("%w: requested %s, locked %s %s",
			ErrInsufficientLocked, amount.String(), w.locked.String(), cur)
	}

	before := w.available
	w.locked = w.locked.Sub(amount)
	w.available = w.available.Add(amount)
	if err := writeWallet(ctx, tx, w); err != nil {
		return Balance{}, err
	}
	if err := insertEntry(ctx, tx, uid, cur, entryType, amount, before, w.available, ref); err != nil {
		return Balance{}, err
	}
	return snapshot(userID, cur, w), nil
}

// CompleteWithdrawalTx removes funds from the locked balance permanently
// within the caller's transaction. The entry records the locked-balance
// movement: the available balance is untouched by a completion.
func CompleteWithdrawalTx(ctx context.Context, tx pgx.Tx, userID string, cur currency.Currency, amount decimal.Decimal, ref Reference) (Balance, error) {
	if err := ValidateAmount(cur, amount); err != nil {
		return Balance{}, err
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Balance{}, fmt.Errorf("invalid user id: %w", err)
	}
	w, err := lockWallet(ctx, tx, uid, cur)
	if err != nil {
		return Balance{}, err
	}

	if w.locked.LessThan(amount) {
		return Balance{}, fmt.Errorf("%w: requested %s, locked %s %s",
			ErrInsufficientLocked, amount.String(), w.locked.String(), cur)
	}

	before := w.locked
	w.locked = w.locked.Sub(amount)
	if err := writeWallet(ctx, tx, w); err != nil {
		return Balance{}, err
	}
	if err := insertEntry(ctx, tx, uid, cur, EntryWithdrawalComplete, amount.Neg(), before, w.locked, ref); err != nil {
		return Balance{}, err
	}
	return snapshot(userID, cur, w), nil
}

func snapshot(userID string, cur currency.Currency, w walletRow) Balance {
	return Balance{
		UserID:    userID,
		Currency:  cur,
		Available: w.available,
		Locked:    w.locked,
		AsOf:      time.Now().UTC(),
	}
}

func balanceFromStrings(userID string, cur currency.Currency, availableStr, lockedStr string) (Balance, error) {
	available, err := decimal.NewFromString(availableStr)
	if err != nil {
		return Balance{}, err
	}
	locked, err := decimal.NewFromString(lockedStr)
	if err != nil {
		return Balance{}, err
	}
	return Balance{UserID: userID, Currency: cur, Available: available, Locked: locked, AsOf: time.Now().UTC()}, nil
}

// Package wallet is the balance-facing facade: crediting funds into the
// ledger and reading balances through the cache. Deposit triggers live
// elsewhere; they call Credit with a reference to the originating event.
package wallet

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/balance"
	"github.com/kasa-exchange/kasa/internal/currency"
	"github.com/kasa-exchange/kasa/internal/ledger"
)

// CreditInput describes one credit into a user's wallet.
type CreditInput struct {
	UserID        string
	Currency      string
	Amount        decimal.Decimal
	ReferenceID   string
	ReferenceType string
	Description   string
	Metadata      map[string]string
}

// Service exposes wallet reads and the credit entry point.
type Service struct {
	store  ledger.Store
	cache  *balance.Cache
	logger *slog.Logger
}

// NewService wires the wallet facade.
func NewService(store ledger.Store, cache *balance.Cache, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

// Credit adds funds to the user's available balance, creating the wallet
// lazily, and invalidates the cached snapshots.
func (s *Service) Credit(ctx context.Context, in CreditInput) (ledger.Balance, error) {
	cur, err := currency.Parse(in.Currency)
	if err != nil {
		return ledger.Balance{}, err
	}
	if err := ledger.ValidateAmount(cur, in.Amount); err != nil {
		return ledger.Balance{}, err
	}

	bal, err := s.store.Credit(ctx, in.UserID, cur, in.Amount, ledger.Reference{
		ID:          in.ReferenceID,
		Type:        in.ReferenceType,
		Description: in.Description,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return ledger.Balance{}, err
	}

	if s.cache != nil {
		s.cache.OnMutation(ctx, bal)
	}
	s.logger.Info("wallet credited",
		"user_id", in.UserID, "currency", cur, "amount", in.Amount,
		"reference_id", in.ReferenceID, "reference_type", in.ReferenceType)
	return bal, nil
}

// Balance returns one wallet snapshot, served from the cache when fresh.
func (s *Service) Balance(ctx context.Context, userID, code string) (ledger.Balance, error) {
	cur, err := currency.Parse(code)
	if err != nil {
		return ledger.Balance{}, err
	}
	if s.cache != nil {
		return s.cache.Balance(ctx, userID, cur)
	}
	return s.store.Balance(ctx, userID, cur)
}

// Balances returns every wallet the user holds.
func (s *Service) Balances(ctx context.Context, userID string) ([]ledger.Balance, error) {
	if s.cache != nil {
		return s.cache.Balances(ctx, userID)
	}
	return s.store.Balances(ctx, userID)
}

// Entries lists the user's ledger history, newest first.
func (s *Service) Entries(ctx context.Context, userID string, page, limit int) ([]ledger.Entry, error) {
	return s.store.Entries(ctx, userID, page, limit)
}

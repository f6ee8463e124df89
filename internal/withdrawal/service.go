package withdrawal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/address"
	"github.com/kasa-exchange/kasa/internal/balance"
	"github.com/kasa-exchange/kasa/internal/currency"
	"github.com/kasa-exchange/kasa/internal/fees"
	"github.com/kasa-exchange/kasa/internal/ledger"
	"github.com/kasa-exchange/kasa/internal/twofactor"
)

// CreateParams is one withdrawal request as submitted by the user.
type CreateParams struct {
	Currency    string
	Amount      decimal.Decimal
	Destination string
	TwoFACode   string
	Network     string // USDT only
}

// Service validates withdrawal requests and owns their creation and
// cancellation. Funds are locked before the request becomes visible; no
// validation failure can move money.
type Service struct {
	store     Store
	validator *address.Validator
	fees      *fees.Calculator
	twoFA     twofactor.Verifier
	cache     *balance.Cache
	logger    *slog.Logger
}

// NewService wires the request service.
func NewService(store Store, validator *address.Validator, calc *fees.Calculator, twoFA twofactor.Verifier, cache *balance.Cache, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		validator: validator,
		fees:      calc,
		twoFA:     twoFA,
		cache:     cache,
		logger:    logger,
	}
}

// Create validates the request, verifies the 2FA code, computes fees, locks
// amount plus fees and persists the PENDING row. Every check runs before any
// funds move.
func (s *Service) Create(ctx context.Context, userID string, params CreateParams) (*Request, error) {
	cur, err := currency.Parse(params.Currency)
	if err != nil {
		return nil, err
	}
	if !cur.IsCrypto() {
		return nil, currency.ErrNotSupported{Code: params.Currency}
	}
	network, err := currency.ParseNetwork(cur, params.Network)
	if err != nil {
		return nil, err
	}
	if err := ledger.ValidateAmount(cur, params.Amount); err != nil {
		return nil, err
	}

	result := s.validator.Validate(cur, params.Destination, network)
	if !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, strings.Join(result.Errors, "; "))
	}

	verified, err := s.twoFA.Verify(ctx, userID, params.TwoFACode)
	if err != nil {
		return nil, fmt.Errorf("verify 2fa code: %w", err)
	}
	if !verified.Valid {
		return nil, fmt.Errorf("%w: %s", ErrTwoFactorRequired, verified.Reason)
	}
	now := time.Now().UTC()

	quote, err := s.fees.WithdrawalFees(ctx, cur, params.Amount, network)
	if err != nil {
		return nil, err
	}

	req := &Request{
		UserID:                userID,
		Currency:              cur,
		Network:               network,
		Destination:           result.Normalized,
		Amount:                params.Amount,
		NetworkFee:            quote.NetworkFee,
		PlatformFee:           quote.PlatformFee,
		TotalAmount:           quote.TotalAmount,
		RequiresAdminApproval: s.fees.RequiresAdminApproval(cur, params.Amount),
		TwoFAVerifiedAt:       &now,
	}

	if err := s.store.CreateLocked(ctx, req); err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID, cur)

	s.logger.Info("withdrawal created",
		"withdrawal_id", req.ID, "user_id", userID, "currency", cur,
		"amount", params.Amount, "total", quote.TotalAmount,
		"requires_approval", req.RequiresAdminApproval)
	return req, nil
}

// Cancel cancels a PENDING withdrawal and returns the locked funds.
func (s *Service) Cancel(ctx context.Context, userID, id string) (*Request, error) {
	if err := s.store.Cancel(ctx, userID, id); err != nil {
		return nil, err
	}

	req, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID, req.Currency)

	s.logger.Info("withdrawal cancelled", "withdrawal_id", id, "user_id", userID)
	return req, nil
}

// Get returns the user's withdrawal by id.
func (s *Service) Get(ctx context.Context, userID, id string) (*Request, error) {
	return s.store.Get(ctx, userID, id)
}

// History lists the user's withdrawals, newest first.
func (s *Service) History(ctx context.Context, userID string, page, limit int) ([]*Request, error) {
	return s.store.History(ctx, userID, page, limit)
}

func (s *Service) invalidate(ctx context.Context, userID string, cur currency.Currency) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, userID)
	if bal, err := s.cache.Balance(ctx, userID, cur); err == nil {
		s.cache.Publish(ctx, bal)
	}
}

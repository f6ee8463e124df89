package withdrawal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kasa-exchange/kasa/internal/ledger"
)

// inMemoryStore mirrors the Postgres store's semantics over a map and an
// in-memory ledger. Transitions are serialized by a single mutex instead of
// row locks.
type inMemoryStore struct {
	mu       sync.Mutex
	rows     map[string]*Request
	balances ledger.Store
}

// NewInMemoryStore builds a store for tests, backed by the given ledger.
func NewInMemoryStore(balances ledger.Store) Store {
	return &inMemoryStore{rows: make(map[string]*Request), balances: balances}
}

func (s *inMemoryStore) CreateLocked(ctx context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	_, err := s.balances.LockFunds(ctx, req.UserID, req.Currency, req.TotalAmount, ledger.Reference{
		ID:          req.ID,
		Type:        referenceType,
		Description: fmt.Sprintf("Withdrawal of %s %s to %s", req.Amount, req.Currency, req.Destination),
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	req.Status = StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	clone := *req
	s.rows[req.ID] = &clone
	return nil
}

func (s *inMemoryStore) Get(_ context.Context, userID, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.UserID != userID {
		return nil, ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (s *inMemoryStore) GetByID(_ context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *row
	return &clone, nil
}

func (s *inMemoryStore) History(_ context.Context, userID string, page, limit int) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var all []*Request
	for _, row := range s.rows {
		if row.UserID == userID {
			clone := *row
			all = append(all, &clone)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := (page - 1) * limit
	if start >= len(all) {
		return nil, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (s *inMemoryStore) UpdateStatus(_ context.Context, id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != from {
		return ErrIllegalTransition{ID: id, From: row.Status, To: to}
	}
	row.Status = to
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *inMemoryStore) SetBroadcast(_ context.Context, id, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != StatusBroadcasting {
		return ErrIllegalTransition{ID: id, From: row.Status, To: StatusBroadcasted}
	}
	row.Status = StatusBroadcasted
	row.TransactionHash = txHash
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *inMemoryStore) Approve(_ context.Context, id, adminID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != StatusPending || !row.RequiresAdminApproval {
		return fmt.Errorf("withdrawal %s is not awaiting approval", id)
	}
	now := time.Now().UTC()
	row.AdminApprovedBy = adminID
	row.AdminApprovedAt = &now
	row.UpdatedAt = now
	return nil
}

func (s *inMemoryStore) Cancel(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok || row.UserID != userID {
		return ErrNotFound
	}
	if row.Status != StatusPending {
		return ErrIllegalTransition{ID: id, From: row.Status, To: StatusCancelled}
	}

	_, err := s.balances.UnlockFunds(ctx, row.UserID, row.Currency, row.TotalAmount,
		ledger.EntryWithdrawalUnlock, ledger.Reference{
			ID:          row.ID,
			Type:        referenceType,
			Description: fmt.Sprintf("Cancelled withdrawal of %s %s", row.Amount, row.Currency),
		})
	if err != nil {
		return err
	}

	row.Status = StatusCancelled
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *inMemoryStore) MarkFailed(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != StatusSigning && row.Status != StatusBroadcasting {
		return ErrIllegalTransition{ID: id, From: row.Status, To: StatusFailed}
	}

	_, err := s.balances.UnlockFunds(ctx, row.UserID, row.Currency, row.TotalAmount,
		ledger.EntryWithdrawalFailed, ledger.Reference{
			ID:          row.ID,
			Type:        referenceType,
			Description: fmt.Sprintf("Failed withdrawal of %s %s: %s", row.Amount, row.Currency, reason),
		})
	if err != nil {
		return err
	}

	row.Status = StatusFailed
	row.ErrorMessage = reason
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *inMemoryStore) Finalize(ctx context.Context, id string, confirmations int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != StatusBroadcasted {
		return ErrIllegalTransition{ID: id, From: row.Status, To: StatusCompleted}
	}

	_, err := s.balances.CompleteWithdrawal(ctx, row.UserID, row.Currency, row.TotalAmount,
		ledger.Reference{
			ID:          row.ID,
			Type:        referenceType,
			Description: fmt.Sprintf("Completed withdrawal of %s %s, tx %s", row.Amount, row.Currency, row.TransactionHash),
		})
	if err != nil {
		return err
	}

	row.Status = StatusCompleted
	row.Confirmations = confirmations
	row.UpdatedAt = time.Now().UTC()
	return nil
}

// Package withdrawal drives outbound crypto withdrawals from user request
// through signing, broadcast and finalization. Funds are locked when the
// request is created and either leave the ledger on completion or return to
// the available balance on cancellation or failure.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
)

var (
	// ErrNotFound indicates no withdrawal exists with the given id for the
	// user.
	ErrNotFound = errors.New("withdrawal not found")

	// ErrInvalidAddress indicates the destination address failed validation.
	ErrInvalidAddress = errors.New("invalid destination address")

	// ErrTwoFactorRequired indicates the one-time code was missing, wrong or
	// expired. No funds move when this is returned.
	ErrTwoFactorRequired = errors.New("two-factor verification failed")

	// ErrAwaitingApproval indicates the withdrawal crossed the admin
	// approval threshold and stays pending until an admin approves it.
	ErrAwaitingApproval = errors.New("withdrawal requires admin approval")
)

// Status is the withdrawal lifecycle state. Terminal states are COMPLETED,
// FAILED and CANCELLED; a row never leaves a terminal state.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusApproved     Status = "APPROVED"
	StatusSigning      Status = "SIGNING"
	StatusBroadcasting Status = "BROADCASTING"
	StatusBroadcasted  Status = "BROADCASTED"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCancelled    Status = "CANCELLED"
)

// transitions is the closed set of legal status moves.
var transitions = map[Status][]Status{
	StatusPending:      {StatusApproved, StatusCancelled},
	StatusApproved:     {StatusSigning},
	StatusSigning:      {StatusBroadcasting, StatusFailed},
	StatusBroadcasting: {StatusBroadcasted, StatusFailed},
	StatusBroadcasted:  {StatusCompleted},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrIllegalTransition reports an attempted state change the machine does
// not allow, naming the current status.
type ErrIllegalTransition struct {
	ID   string
	From Status
	To   Status
}

func (e ErrIllegalTransition) Error() string {
	return fmt.Sprintf("withdrawal %s cannot move from %s to %s", e.ID, e.From, e.To)
}

// Request is one withdrawal. Created in PENDING with the total amount
// already locked; mutated only through the workflow; never deleted.
type Request struct {
	ID          string
	UserID      string
	Currency    currency.Currency
	Network     currency.Network
	Destination string // normalized form

	Amount      decimal.Decimal
	NetworkFee  decimal.Decimal
	PlatformFee decimal.Decimal
	TotalAmount decimal.Decimal // amount + networkFee + platformFee

	Status          Status
	TransactionHash string
	Confirmations   int64

	RequiresAdminApproval bool
	AdminApprovedBy       string
	AdminApprovedAt       *time.Time
	TwoFAVerifiedAt       *time.Time

	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists withdrawal rows and couples the fund-moving transitions to
// the ledger: creation locks funds, cancellation and failure unlock them,
// and finalization removes them from the locked balance — each atomically
// with the status change and its ledger entry.
type Store interface {
	// CreateLocked persists the request and locks TotalAmount from the
	// user's available balance in one transaction.
	CreateLocked(ctx context.Context, req *Request) error

	// Get returns the user's withdrawal by id.
	Get(ctx context.Context, userID, id string) (*Request, error)

	// GetByID returns a withdrawal regardless of owner. Used by the
	// workflow and the admin path.
	GetByID(ctx context.Context, id string) (*Request, error)

	// History lists the user's withdrawals, newest first.
	History(ctx context.Context, userID string, page, limit int) ([]*Request, error)

	// UpdateStatus moves the row from exactly `from` to `to`. A row in any
	// other status yields ErrIllegalTransition.
	UpdateStatus(ctx context.Context, id string, from, to Status) error

	// SetBroadcast records the network transaction hash and moves
	// BROADCASTING to BROADCASTED.
	SetBroadcast(ctx context.Context, id, txHash string) error

	// Approve records the admin sign-off on a PENDING request.
	Approve(ctx context.Context, id, adminID string) error

	// Cancel moves a PENDING request to CANCELLED and returns the locked
	// funds to the available balance, in one transaction.
	Cancel(ctx context.Context, userID, id string) error

	// MarkFailed moves the request to FAILED, records the error message and
	// returns the locked funds to the available balance, in one
	// transaction.
	MarkFailed(ctx context.Context, id, reason string) error

	// Finalize moves a BROADCASTED request to COMPLETED and removes the
	// locked funds from the ledger, in one transaction.
	Finalize(ctx context.Context, id string, confirmations int64) error
}

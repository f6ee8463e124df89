package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kasa-exchange/kasa/internal/currency"
	"github.com/kasa-exchange/kasa/internal/ledger"
)

// referenceType tags ledger entries produced by withdrawal transitions.
const referenceType = "WITHDRAWAL"

// PostgresStore persists withdrawal rows and runs every fund-moving
// transition inside one transaction together with its wallet update and
// ledger entry.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a store over the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const withdrawalColumns = `id, user_id, currency, network, destination_address,
	amount::text, network_fee::text, platform_fee::text, total_amount::text,
	status, transaction_hash, confirmations, requires_admin_approval,
	admin_approved_by, admin_approved_at, two_fa_verified_at, error_message,
	created_at, updated_at`

func (s *PostgresStore) CreateLocked(ctx context.Context, req *Request) error {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := ledger.LockFundsTx(ctx, tx, req.UserID, req.Currency, req.TotalAmount, ledger.Reference{
			ID:          req.ID,
			Type:        referenceType,
			Description: fmt.Sprintf("Withdrawal of %s %s to %s", req.Amount, req.Currency, req.Destination),
			Metadata: map[string]string{
				"network_fee":  req.NetworkFee.String(),
				"platform_fee": req.PlatformFee.String(),
			},
		})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		req.Status = StatusPending
		req.CreatedAt = now
		req.UpdatedAt = now

		_, err = tx.Exec(ctx, `
			INSERT INTO withdrawal_requests (
				id, user_id, currency, network, destination_address,
				amount, network_fee, platform_fee, total_amount,
				status, requires_admin_approval, two_fa_verified_at,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)`,
			req.ID, userID, req.Currency, req.Network, req.Destination,
			req.Amount, req.NetworkFee, req.PlatformFee, req.TotalAmount,
			req.Status, req.RequiresAdminApproval, req.TwoFAVerifiedAt, now,
		)
		return err
	})
}

func (s *PostgresStore) Get(ctx context.Context, userID, id string) (*Request, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrNotFound
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 AND user_id = $2`,
		id, uid)
	return scanWithdrawal(row)
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
	return scanWithdrawal(row)
}

func (s *PostgresStore) History(ctx context.Context, userID string, page, limit int) ([]*Request, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrNotFound
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		uid, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return updateStatusTx(ctx, tx, id, from, to)
	})
}

func (s *PostgresStore) SetBroadcast(ctx context.Context, id, txHash string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE withdrawal_requests
			SET status = $1, transaction_hash = $2, updated_at = now()
			WHERE id = $3 AND status = $4`,
			StatusBroadcasted, txHash, id, StatusBroadcasting)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return statusConflict(ctx, tx, id, StatusBroadcasted)
		}
		return nil
	})
}

func (s *PostgresStore) Approve(ctx context.Context, id, adminID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE withdrawal_requests
		SET admin_approved_by = $1, admin_approved_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3 AND requires_admin_approval`,
		adminID, id, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("withdrawal %s is not awaiting approval", id)
	}
	return nil
}

func (s *PostgresStore) Cancel(ctx context.Context, userID, id string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		req, err := lockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.UserID != userID {
			return ErrNotFound
		}
		if req.Status != StatusPending {
			return ErrIllegalTransition{ID: id, From: req.Status, To: StatusCancelled}
		}

		_, err = ledger.UnlockFundsTx(ctx, tx, req.UserID, req.Currency, req.TotalAmount,
			ledger.EntryWithdrawalUnlock, ledger.Reference{
				ID:          req.ID,
				Type:        referenceType,
				Description: fmt.Sprintf("Cancelled withdrawal of %s %s", req.Amount, req.Currency),
			})
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE withdrawal_requests SET status = $1, updated_at = now() WHERE id = $2`,
			StatusCancelled, id)
		return err
	})
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, reason string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		req, err := lockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusSigning && req.Status != StatusBroadcasting {
			return ErrIllegalTransition{ID: id, From: req.Status, To: StatusFailed}
		}

		_, err = ledger.UnlockFundsTx(ctx, tx, req.UserID, req.Currency, req.TotalAmount,
			ledger.EntryWithdrawalFailed, ledger.Reference{
				ID:          req.ID,
				Type:        referenceType,
				Description: fmt.Sprintf("Failed withdrawal of %s %s: %s", req.Amount, req.Currency, reason),
			})
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE withdrawal_requests
			SET status = $1, error_message = $2, updated_at = now()
			WHERE id = $3`,
			StatusFailed, reason, id)
		return err
	})
}

func (s *PostgresStore) Finalize(ctx context.Context, id string, confirmations int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		req, err := lockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusBroadcasted {
			return ErrIllegalTransition{ID: id, From: req.Status, To: StatusCompleted}
		}

		_, err = ledger.CompleteWithdrawalTx(ctx, tx, req.UserID, req.Currency, req.TotalAmount,
			ledger.Reference{
				ID:          req.ID,
				Type:        referenceType,
				Description: fmt.Sprintf("Completed withdrawal of %s %s, tx %s", req.Amount, req.Currency, req.TransactionHash),
			})
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE withdrawal_requests
			SET status = $1, confirmations = $2, updated_at = now()
			WHERE id = $3`,
			StatusCompleted, confirmations, id)
		return err
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func updateStatusTx(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE withdrawal_requests SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return statusConflict(ctx, tx, id, to)
	}
	return nil
}

// statusConflict turns a zero-row status update into the precise error: the
// row is either missing or in a status the transition does not allow.
func statusConflict(ctx context.Context, tx pgx.Tx, id string, to Status) error {
	var current Status
	err := tx.QueryRow(ctx, `SELECT status FROM withdrawal_requests WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrIllegalTransition{ID: id, From: current, To: to}
}

// lockRow reads the withdrawal row under FOR UPDATE so that the fund
// mutation and status change that follow are serialized per row.
func lockRow(ctx context.Context, tx pgx.Tx, id string) (*Request, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id)
	return scanWithdrawal(row)
}

func scanWithdrawal(row pgx.Row) (*Request, error) {
	var (
		req                                        Request
		userID                                     uuid.UUID
		cur, network                               string
		amount, networkFee, platformFee, totalAmt  string
		txHash, approvedBy, errMsg                 *string
		approvedAt, twoFAAt                        *time.Time
	)

	err := row.Scan(
		&req.ID, &userID, &cur, &network, &req.Destination,
		&amount, &networkFee, &platformFee, &totalAmt,
		&req.Status, &txHash, &req.Confirmations, &req.RequiresAdminApproval,
		&approvedBy, &approvedAt, &twoFAAt, &errMsg,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	req.UserID = userID.String()
	req.Currency = currency.Currency(cur)
	req.Network = currency.Network(network)
	if req.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if req.NetworkFee, err = decimal.NewFromString(networkFee); err != nil {
		return nil, err
	}
	if req.PlatformFee, err = decimal.NewFromString(platformFee); err != nil {
		return nil, err
	}
	if req.TotalAmount, err = decimal.NewFromString(totalAmt); err != nil {
		return nil, err
	}
	if txHash != nil {
		req.TransactionHash = *txHash
	}
	if approvedBy != nil {
		req.AdminApprovedBy = *approvedBy
	}
	if errMsg != nil {
		req.ErrorMessage = *errMsg
	}
	req.AdminApprovedAt = approvedAt
	req.TwoFAVerifiedAt = twoFAAt
	return &req, nil
}

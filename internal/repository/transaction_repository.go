package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// TransactionRepo persists ledger transactions, one per payment attempt.
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo returns a new TransactionRepo bound to the provided database.
func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

// CreateTx inserts a ledger transaction inside the caller's transaction.
func (r *TransactionRepo) CreateTx(ctx context.Context, tx *sql.Tx, lt *model.LedgerTransaction) error {
	ts := formatTime(lt.CreatedAt)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_transactions (id, user_id, status, total_amount_cents, payment_method, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lt.ID, lt.UserID, string(lt.Status), lt.TotalAmountCents, lt.PaymentMethod, ts, ts,
	)
	return err
}

// SetStatusTx records the payment outcome.  reason is stored only for
// rejected attempts.
func (r *TransactionRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.TransactionStatus, reason string, now time.Time) error {
	var failure any
	if reason != "" {
		failure = reason
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE ledger_transactions SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), failure, formatTime(now), id,
	)
	return err
}

// GetByID returns one ledger transaction or ErrNotFound.
func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*model.LedgerTransaction, error) {
	var lt model.LedgerTransaction
	var reason sql.NullString
	var created nullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, status, total_amount_cents, payment_method, failure_reason, created_at
		 FROM ledger_transactions WHERE id = ?`, id,
	).Scan(&lt.ID, &lt.UserID, &lt.Status, &lt.TotalAmountCents, &lt.PaymentMethod, &reason, &created)
	if err != nil {
		return nil, errNoRows(err)
	}
	lt.FailureReason = reason.String
	lt.CreatedAt = created.Time
	return &lt, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// TicketRepo provides data access to the tickets table.  A seat is
// booked exactly when a non-deleted PAID ticket exists for it; the
// live_key unique index makes a second PENDING or PAID ticket for the
// same seat impossible at the storage level.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the provided database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// DB exposes the underlying handle so services can open transactions
// spanning several repositories.
func (r *TicketRepo) DB() *sql.DB { return r.db }

const ticketColumns = `id, screening_id, seat_id, user_id, status, price_cents, transaction_id, created_at, deleted_at`

func scanTicket(sc interface{ Scan(...any) error }) (model.Ticket, error) {
	var t model.Ticket
	var created, deleted nullTime
	err := sc.Scan(&t.ID, &t.ScreeningID, &t.SeatID, &t.UserID, &t.Status, &t.PriceCents, &t.TransactionID, &created, &deleted)
	t.CreatedAt = created.Time
	t.DeletedAt = deleted.Ptr()
	return t, err
}

// liveKey returns the live_key column value for a status.
func liveKey(s model.TicketStatus) any {
	if s.Live() {
		return int64(1)
	}
	return nil
}

// seatBookedTx reports whether a PAID ticket exists for the seat, as
// seen by tx.
func seatBookedTx(ctx context.Context, tx *sql.Tx, screeningID, seatID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tickets
		 WHERE screening_id = ? AND seat_id = ? AND status = ? AND deleted_at IS NULL`,
		screeningID, seatID, string(model.TicketPaid),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check booked: %w", err)
	}
	return n > 0, nil
}

// PaidForSeats returns the non-deleted PAID tickets on any of seatIDs for
// the screening.  CANCELLED and REFUNDED tickets never block a seat.
func (r *TicketRepo) PaidForSeats(ctx context.Context, screeningID string, seatIDs []string) ([]model.Ticket, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(seatIDs)+2)
	args = append(args, screeningID, string(model.TicketPaid))
	for _, id := range seatIDs {
		args = append(args, id)
	}
	return r.list(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 WHERE screening_id = ? AND status = ? AND deleted_at IS NULL AND seat_id IN (`+placeholders(len(seatIDs))+`)`,
		args...)
}

// BookedSeatIDs lists the seats of a screening that have a PAID ticket.
func (r *TicketRepo) BookedSeatIDs(ctx context.Context, screeningID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_id FROM tickets WHERE screening_id = ? AND status = ? AND deleted_at IS NULL ORDER BY seat_id`,
		screeningID, string(model.TicketPaid),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateBulkTx inserts all tickets in a single statement, so either every
// ticket is written or none is.  A unique violation on the live key means
// another reservation owns one of the seats and is reported as
// ErrSeatBooked.
func (r *TicketRepo) CreateBulkTx(ctx context.Context, tx *sql.Tx, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	query := `INSERT INTO tickets (id, screening_id, seat_id, user_id, status, price_cents, transaction_id, live_key, created_at, updated_at) VALUES `
	args := make([]any, 0, len(tickets)*10)
	for i, t := range tickets {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		ts := formatTime(t.CreatedAt)
		args = append(args, t.ID, t.ScreeningID, t.SeatID, t.UserID, string(t.Status), t.PriceCents, t.TransactionID, liveKey(t.Status), ts, ts)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return ErrSeatBooked
		}
		return fmt.Errorf("insert tickets: %w", err)
	}
	return nil
}

// SetStatusByTransactionTx moves every ticket of a ledger transaction to
// status, keeping live_key in step.
func (r *TicketRepo) SetStatusByTransactionTx(ctx context.Context, tx *sql.Tx, transactionID string, status model.TicketStatus, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE tickets SET status = ?, live_key = ?, updated_at = ? WHERE transaction_id = ?`,
		string(status), liveKey(status), formatTime(now), transactionID,
	)
	return err
}

// GetByID returns a non-deleted ticket or ErrNotFound.
func (r *TicketRepo) GetByID(ctx context.Context, id string) (*model.Ticket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ? AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, errNoRows(err)
	}
	return &t, nil
}

// Refund marks a PAID ticket REFUNDED and soft-deletes it.  It returns
// ErrConflict when the ticket is no longer PAID, which also covers a
// concurrent refund of the same ticket.
func (r *TicketRepo) Refund(ctx context.Context, id string, now time.Time) error {
	ts := formatTime(now)
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, live_key = NULL, deleted_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND deleted_at IS NULL`,
		string(model.TicketRefunded), ts, ts, id, string(model.TicketPaid),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ListByUser returns every ticket the user has bought, newest first.
// Refunded tickets are included so the history stays complete.
func (r *TicketRepo) ListByUser(ctx context.Context, userID string) ([]model.Ticket, error) {
	return r.list(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
}

// ListByTransactionTx reads the tickets of one ledger transaction.
func (r *TicketRepo) ListByTransactionTx(ctx context.Context, tx *sql.Tx, transactionID string) ([]model.Ticket, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE transaction_id = ? ORDER BY seat_id`, transactionID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (r *TicketRepo) list(ctx context.Context, query string, args ...any) ([]model.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func collectTickets(rows *sql.Rows) ([]model.Ticket, error) {
	defer rows.Close()
	tickets := []model.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

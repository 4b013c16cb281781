package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// DefaultHoldTTL is how long a freshly acquired hold blocks its seat.
const DefaultHoldTTL = 150 * time.Second

// HoldRepo is the lease store: it creates, releases and expires seat
// holds in the seat_holds table.  Exclusivity comes from the table's
// (screening_id, seat_id) primary key, not from a read-before-write, so
// concurrent Acquire calls on one seat yield exactly one winner.
//
// A hold is live while expires_at is strictly after the repo's clock.
// Times are truncated to whole seconds, the resolution of DATETIME.
type HoldRepo struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// HoldOption customises a HoldRepo.
type HoldOption func(*HoldRepo)

// WithTTL overrides DefaultHoldTTL.
func WithTTL(ttl time.Duration) HoldOption {
	return func(r *HoldRepo) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, letting tests move time deterministically.
func WithClock(now func() time.Time) HoldOption {
	return func(r *HoldRepo) {
		if now != nil {
			r.now = now
		}
	}
}

// NewHoldRepo returns a new HoldRepo bound to the provided database.
func NewHoldRepo(db *sql.DB, opts ...HoldOption) *HoldRepo {
	r := &HoldRepo{db: db, ttl: DefaultHoldTTL, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the lifetime given to new holds.
func (r *HoldRepo) TTL() time.Duration { return r.ttl }

func (r *HoldRepo) clock() time.Time { return r.now().UTC().Truncate(time.Second) }

// SeatTxOptions returns the options for transactions that create holds
// or tickets.  Acquire's booked check excludes a concurrent booking only
// under REPEATABLE READ, where DeleteForSeatsTx gap-locks the hold keys,
// so the level is pinned instead of taken from the server.  SQLite
// ignores it.
func SeatTxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
}

// Acquire places a hold for userID on the seat.  Inside one transaction
// it clears a logically expired hold on the same key, inserts the new
// hold and only then checks for a PAID ticket.  Checking after the
// insert means the insert's key lock is what serialises a hold against
// a concurrent booking of the same seat.
//
// It returns ErrSeatHeld when a live hold already exists (including one
// owned by the same user) and ErrSeatBooked when the seat is sold.
func (r *HoldRepo) Acquire(ctx context.Context, screeningID, seatID, userID string) (*model.Hold, error) {
	now := r.clock()
	hold := &model.Hold{
		ScreeningID: screeningID,
		SeatID:      seatID,
		UserID:      userID,
		ExpiresAt:   now.Add(r.ttl),
		CreatedAt:   now,
	}

	tx, err := r.db.BeginTx(ctx, SeatTxOptions())
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM seat_holds WHERE screening_id = ? AND seat_id = ? AND expires_at <= ?`,
		screeningID, seatID, formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("clear expired hold: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO seat_holds (screening_id, seat_id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		screeningID, seatID, userID, formatTime(hold.ExpiresAt), formatTime(hold.CreatedAt),
	); err != nil {
		if isDuplicateKey(err) {
			return nil, ErrSeatHeld
		}
		return nil, fmt.Errorf("insert hold: %w", err)
	}

	booked, err := seatBookedTx(ctx, tx, screeningID, seatID)
	if err != nil {
		return nil, err
	}
	if booked {
		return nil, ErrSeatBooked
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return hold, nil
}

// Release deletes the caller's live hold on the seat and returns the
// number of rows removed.  Zero means there was no such hold or it
// belongs to someone else; it is not an error, so Release is idempotent.
func (r *HoldRepo) Release(ctx context.Context, screeningID, seatID, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM seat_holds WHERE screening_id = ? AND seat_id = ? AND user_id = ? AND expires_at > ?`,
		screeningID, seatID, userID, formatTime(r.clock()),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SweepExpired deletes every hold whose expiry has passed and returns the
// keys this call removed.  Each key is deleted with its own guarded
// statement and only counted when a row was actually affected, so
// concurrent sweepers never report the same key twice and a repeated
// call returns an empty slice.
func (r *HoldRepo) SweepExpired(ctx context.Context) ([]model.SeatKey, error) {
	cutoff := formatTime(r.clock())
	candidates, err := r.queryKeys(ctx, r.db,
		`SELECT screening_id, seat_id FROM seat_holds WHERE expires_at <= ? ORDER BY expires_at`, cutoff)
	if err != nil {
		return nil, err
	}
	swept := make([]model.SeatKey, 0, len(candidates))
	for _, k := range candidates {
		res, err := r.db.ExecContext(ctx,
			`DELETE FROM seat_holds WHERE screening_id = ? AND seat_id = ? AND expires_at <= ?`,
			k.ScreeningID, k.SeatID, cutoff,
		)
		if err != nil {
			return swept, fmt.Errorf("sweep %s/%s: %w", k.ScreeningID, k.SeatID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			swept = append(swept, k)
		}
	}
	return swept, nil
}

// ListByOwner returns the keys of every live hold owned by userID.
func (r *HoldRepo) ListByOwner(ctx context.Context, userID string) ([]model.SeatKey, error) {
	return r.queryKeys(ctx, r.db,
		`SELECT screening_id, seat_id FROM seat_holds WHERE user_id = ? AND expires_at > ? ORDER BY screening_id, seat_id`,
		userID, formatTime(r.clock()))
}

// ReleaseAllByOwner deletes every hold owned by userID, expired ones
// included, and returns the deleted keys.  Used when a connection goes
// away so an absent client cannot keep seats blocked.
func (r *HoldRepo) ReleaseAllByOwner(ctx context.Context, userID string) ([]model.SeatKey, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	keys, err := r.queryKeys(ctx, tx,
		`SELECT screening_id, seat_id FROM seat_holds WHERE user_id = ? ORDER BY screening_id, seat_id`, userID)
	if err != nil {
		return nil, err
	}
	released := make([]model.SeatKey, 0, len(keys))
	for _, k := range keys {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM seat_holds WHERE screening_id = ? AND seat_id = ? AND user_id = ?`,
			k.ScreeningID, k.SeatID, userID,
		)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			released = append(released, k)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return released, nil
}

// LiveHolds returns the live holds on a screening, ordered by seat.
func (r *HoldRepo) LiveHolds(ctx context.Context, screeningID string) ([]model.Hold, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT screening_id, seat_id, user_id, expires_at, created_at
		 FROM seat_holds
		 WHERE screening_id = ? AND expires_at > ?
		 ORDER BY seat_id`,
		screeningID, formatTime(r.clock()),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var holds []model.Hold
	for rows.Next() {
		var h model.Hold
		var exp, created nullTime
		if err := rows.Scan(&h.ScreeningID, &h.SeatID, &h.UserID, &exp, &created); err != nil {
			return nil, err
		}
		h.ExpiresAt, h.CreatedAt = exp.Time, created.Time
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// DeleteForSeatsTx removes any hold, live or not, on the given seats.
// The reservation flow calls it in the same transaction that marks the
// seats PAID.
func (r *HoldRepo) DeleteForSeatsTx(ctx context.Context, tx *sql.Tx, screeningID string, seatIDs []string) (int64, error) {
	if len(seatIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(seatIDs)+1)
	args = append(args, screeningID)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM seat_holds WHERE screening_id = ? AND seat_id IN (`+placeholders(len(seatIDs))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryKeys drains the result set before returning so callers can issue
// further statements on a single-connection pool.
func (r *HoldRepo) queryKeys(ctx context.Context, q querier, query string, args ...any) ([]model.SeatKey, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []model.SeatKey{}
	for rows.Next() {
		var k model.SeatKey
		if err := rows.Scan(&k.ScreeningID, &k.SeatID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// errNoRows normalises sql.ErrNoRows into ErrNotFound.
func errNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

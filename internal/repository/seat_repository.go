package repository // repository defines data access for seats

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// SeatRepo reads the physical seats of a hall.  Seats are maintained by a
// separate back office; this service never writes them.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// BookableInHall returns the seats among seatIDs that belong to hallID,
// are not deleted and are ACTIVE.  Unknown ids are silently skipped, so
// callers compare the result length against the request.
func (r *SeatRepo) BookableInHall(ctx context.Context, hallID string, seatIDs []string) ([]model.Seat, error) {
	if len(seatIDs) == 0 {
		return []model.Seat{}, nil
	}
	args := make([]any, 0, len(seatIDs)+2)
	args = append(args, hallID, string(model.SeatActive))
	for _, id := range seatIDs {
		args = append(args, id)
	}
	return r.list(ctx,
		`SELECT id, hall_id, seat_number, status, deleted_at
		 FROM seats
		 WHERE hall_id = ? AND status = ? AND deleted_at IS NULL AND id IN (`+placeholders(len(seatIDs))+`)
		 ORDER BY seat_number`, args...)
}

// ListByHall returns every non-deleted seat of a hall ordered by label.
func (r *SeatRepo) ListByHall(ctx context.Context, hallID string) ([]model.Seat, error) {
	return r.list(ctx,
		`SELECT id, hall_id, seat_number, status, deleted_at
		 FROM seats
		 WHERE hall_id = ? AND deleted_at IS NULL
		 ORDER BY seat_number`, hallID)
}

func (r *SeatRepo) list(ctx context.Context, query string, args ...any) ([]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := []model.Seat{}
	for rows.Next() {
		var s model.Seat
		var deleted nullTime
		if err := rows.Scan(&s.ID, &s.HallID, &s.SeatNumber, &s.Status, &deleted); err != nil {
			return nil, err
		}
		s.DeletedAt = deleted.Ptr()
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

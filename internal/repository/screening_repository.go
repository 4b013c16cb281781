package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/cinema-seat-hold/internal/model"
)

// ScreeningRepo provides data access to screenings and the movie and
// hall rows they reference.  Movies and halls are managed elsewhere and
// are only read here.
type ScreeningRepo struct {
	db *sql.DB
}

// NewScreeningRepo returns a new ScreeningRepo bound to the provided database.
func NewScreeningRepo(db *sql.DB) *ScreeningRepo { return &ScreeningRepo{db: db} }

// DB returns the underlying database handle.
func (r *ScreeningRepo) DB() *sql.DB { return r.db }

// CreateTx inserts a screening inside the caller's transaction.
func (r *ScreeningRepo) CreateTx(ctx context.Context, tx *sql.Tx, s *model.Screening) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO screenings (id, movie_id, hall_id, start_time, end_time) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.MovieID, s.HallID, formatTime(s.StartTime), formatTime(s.EndTime),
	)
	return err
}

// LockHallTx serialises schedule changes for one hall by taking the
// hall row's write lock for the rest of tx.
func (r *ScreeningRepo) LockHallTx(ctx context.Context, tx *sql.Tx, hallID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE halls SET name = name WHERE id = ?`, hallID)
	return err
}

// ListActiveByHallTx returns the non-deleted screenings of a hall ordered
// by start time.
func (r *ScreeningRepo) ListActiveByHallTx(ctx context.Context, tx *sql.Tx, hallID string) ([]model.Screening, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, movie_id, hall_id, start_time, end_time
		 FROM screenings
		 WHERE hall_id = ? AND deleted_at IS NULL
		 ORDER BY start_time`, hallID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Screening{}
	for rows.Next() {
		var s model.Screening
		var start, end nullTime
		if err := rows.Scan(&s.ID, &s.MovieID, &s.HallID, &start, &end); err != nil {
			return nil, err
		}
		s.StartTime, s.EndTime = start.Time, end.Time
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetDetail loads a non-deleted screening joined with its movie and hall.
// It returns ErrNotFound when any of the three is missing.
func (r *ScreeningRepo) GetDetail(ctx context.Context, id string) (*model.ScreeningDetail, error) {
	var d model.ScreeningDetail
	var start, end nullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT sc.id, sc.movie_id, sc.hall_id, sc.start_time, sc.end_time,
		        m.title, m.duration_minutes, h.name, h.hall_class, h.screen_class
		 FROM screenings sc
		 JOIN movies m ON m.id = sc.movie_id
		 JOIN halls h ON h.id = sc.hall_id
		 WHERE sc.id = ? AND sc.deleted_at IS NULL`, id,
	).Scan(&d.ID, &d.MovieID, &d.HallID, &start, &end,
		&d.MovieTitle, &d.DurationMinutes, &d.HallName, &d.HallClass, &d.ScreenClass)
	if err != nil {
		return nil, errNoRows(err)
	}
	d.StartTime, d.EndTime = start.Time, end.Time
	return &d, nil
}

// GetMovie returns a movie or ErrNotFound.
func (r *ScreeningRepo) GetMovie(ctx context.Context, id string) (*model.Movie, error) {
	var m model.Movie
	var created nullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, duration_minutes, created_at FROM movies WHERE id = ?`, id,
	).Scan(&m.ID, &m.Title, &m.DurationMinutes, &created)
	if err != nil {
		return nil, errNoRows(err)
	}
	m.CreatedAt = created.Time
	return &m, nil
}

// GetHall returns a hall or ErrNotFound.
func (r *ScreeningRepo) GetHall(ctx context.Context, id string) (*model.Hall, error) {
	var h model.Hall
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, hall_class, screen_class FROM halls WHERE id = ?`, id,
	).Scan(&h.ID, &h.Name, &h.HallClass, &h.ScreenClass)
	if err != nil {
		return nil, errNoRows(err)
	}
	return &h, nil
}

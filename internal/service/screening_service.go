package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/apperr"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/pricing"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
	"github.com/iliyamo/cinema-seat-hold/internal/screening"
)

// CreateScreeningInput schedules a movie in a hall.
type CreateScreeningInput struct {
	MovieID   string    `json:"movie_id"`
	HallID    string    `json:"hall_id"`
	StartTime time.Time `json:"start_time"`
}

// Quote is a screening with the per-seat price it currently sells at.
type Quote struct {
	model.ScreeningDetail
	PriceCents int64 `json:"price_cents"`
}

// Snapshot is the seat state of one screening at a point in time.
type Snapshot struct {
	ScreeningID string   `json:"screeningId"`
	BookedSeats []string `json:"bookedSeats"`
	HeldSeats   []string `json:"heldSeats"`
}

// SeatMap is a Snapshot plus the hall's seats.
type SeatMap struct {
	Snapshot
	Seats []model.Seat `json:"seats"`
}

// ScreeningService schedules screenings and reports seat state.
type ScreeningService struct {
	repos Repositories
	opts  options
}

// NewScreeningService wires the screening workflows.
func NewScreeningService(repos Repositories, opts ...Option) *ScreeningService {
	return &ScreeningService{repos: repos, opts: buildOptions("screening", opts)}
}

// Create inserts a screening unless it would overlap another active
// screening of the same hall.  Concurrent creations in one hall are
// serialised by locking the hall row, so two overlapping requests
// cannot both pass the check.
func (s *ScreeningService) Create(ctx context.Context, in CreateScreeningInput) (*model.Screening, error) {
	if !validUUID(in.MovieID) {
		return nil, apperr.Validation("invalid movie id")
	}
	if !validUUID(in.HallID) {
		return nil, apperr.Validation("invalid hall id")
	}
	if in.StartTime.IsZero() {
		return nil, apperr.Validation("start_time is required")
	}
	start := in.StartTime.UTC().Truncate(time.Second)
	if !start.After(s.opts.clock()) {
		return nil, apperr.Validation("start_time must be in the future")
	}

	movie, err := s.repos.Screenings.GetMovie(ctx, in.MovieID)
	if err != nil {
		return nil, notFoundOr(err, "movie not found", "failed to load movie")
	}
	if _, err := s.repos.Screenings.GetHall(ctx, in.HallID); err != nil {
		return nil, notFoundOr(err, "hall not found", "failed to load hall")
	}
	interval := screening.NewInterval(start, movie.DurationMinutes)

	tx, err := s.repos.Screenings.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Server("failed to start transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := s.repos.Screenings.LockHallTx(ctx, tx, in.HallID); err != nil {
		return nil, apperr.Server("failed to lock hall", err)
	}
	existing, err := s.repos.Screenings.ListActiveByHallTx(ctx, tx, in.HallID)
	if err != nil {
		return nil, apperr.Server("failed to load hall schedule", err)
	}
	if clashes := screening.Conflicts(existing, interval); len(clashes) > 0 {
		s.opts.logger.Debug("screening overlap",
			zap.String("hall_id", in.HallID),
			zap.String("conflicts_with", clashes[0].ID))
		return nil, apperr.Conflict(apperr.CodeScreeningOverlap, "screening overlaps an existing screening in this hall")
	}

	sc := &model.Screening{
		ID:        uuid.NewString(),
		MovieID:   in.MovieID,
		HallID:    in.HallID,
		StartTime: interval.Start,
		EndTime:   interval.End,
	}
	if err := s.repos.Screenings.CreateTx(ctx, tx, sc); err != nil {
		return nil, apperr.Server("failed to create screening", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Server("failed to commit transaction", err)
	}
	committed = true
	return sc, nil
}

// Quote returns a screening with its current seat price.
func (s *ScreeningService) Quote(ctx context.Context, screeningID string) (*Quote, error) {
	detail, err := s.detail(ctx, screeningID)
	if err != nil {
		return nil, err
	}
	price, err := pricing.Price(detail.HallClass, detail.ScreenClass, detail.StartTime)
	if err != nil {
		return nil, apperr.Server("failed to price screening", err)
	}
	return &Quote{ScreeningDetail: *detail, PriceCents: price}, nil
}

// Snapshot lists the booked and live-held seats of a screening.  It does
// not check that the screening exists.
func (s *ScreeningService) Snapshot(ctx context.Context, screeningID string) (*Snapshot, error) {
	booked, err := s.repos.Tickets.BookedSeatIDs(ctx, screeningID)
	if err != nil {
		return nil, apperr.Server("failed to load booked seats", err)
	}
	holds, err := s.repos.Holds.LiveHolds(ctx, screeningID)
	if err != nil {
		return nil, apperr.Server("failed to load holds", err)
	}
	held := make([]string, 0, len(holds))
	for _, h := range holds {
		held = append(held, h.SeatID)
	}
	return &Snapshot{ScreeningID: screeningID, BookedSeats: booked, HeldSeats: held}, nil
}

// SeatMap returns the hall's seats together with the screening's
// snapshot.
func (s *ScreeningService) SeatMap(ctx context.Context, screeningID string) (*SeatMap, error) {
	detail, err := s.detail(ctx, screeningID)
	if err != nil {
		return nil, err
	}
	snap, err := s.Snapshot(ctx, screeningID)
	if err != nil {
		return nil, err
	}
	seats, err := s.repos.Seats.ListByHall(ctx, detail.HallID)
	if err != nil {
		return nil, apperr.Server("failed to load seats", err)
	}
	return &SeatMap{Snapshot: *snap, Seats: seats}, nil
}

func (s *ScreeningService) detail(ctx context.Context, screeningID string) (*model.ScreeningDetail, error) {
	if !validUUID(screeningID) {
		return nil, apperr.Validation("invalid screening id")
	}
	d, err := s.repos.Screenings.GetDetail(ctx, screeningID)
	if err != nil {
		return nil, notFoundOr(err, "screening not found", "failed to load screening")
	}
	return d, nil
}

func notFoundOr(err error, notFound, server string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(notFound)
	}
	return apperr.Server(server, err)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/apperr"
	"github.com/iliyamo/cinema-seat-hold/internal/fanout"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/payment"
	"github.com/iliyamo/cinema-seat-hold/internal/pricing"
	"github.com/iliyamo/cinema-seat-hold/internal/repository"
)

// ReserveInput is a request to buy seats of one screening.  Holds are
// advisory: the caller does not need to hold the seats first.
type ReserveInput struct {
	ScreeningID string
	SeatIDs     []string
	UserID      string
	Payment     payment.Details
}

func (in ReserveInput) validate() error {
	if !validUUID(in.ScreeningID) {
		return apperr.Validation("invalid screening id")
	}
	if in.UserID == "" {
		return apperr.Validation("user id is required")
	}
	if len(in.SeatIDs) == 0 {
		return apperr.Validation("seat_ids is required")
	}
	seen := make(map[string]struct{}, len(in.SeatIDs))
	for _, id := range in.SeatIDs {
		if !validUUID(id) {
			return apperr.Validation(fmt.Sprintf("invalid seat id %q", id))
		}
		if _, dup := seen[id]; dup {
			return apperr.Validation(fmt.Sprintf("duplicate seat id %q", id))
		}
		seen[id] = struct{}{}
	}
	if strings.TrimSpace(in.Payment.Method) == "" {
		return apperr.Validation("payment method is required")
	}
	return nil
}

// ReserveResult is a completed purchase.
type ReserveResult struct {
	Transaction model.LedgerTransaction `json:"transaction"`
	Tickets     []model.Ticket          `json:"tickets"`
}

// PaymentRejected identifies the audit rows left by a declined payment.
// It is the cause of the apperr Payment error returned by Reserve.
type PaymentRejected struct {
	TransactionID string
	TicketIDs     []string
	Reason        string
}

func (p *PaymentRejected) Error() string {
	return fmt.Sprintf("transaction %s rejected: %s", p.TransactionID, p.Reason)
}

// ReservationService turns seat selections into paid tickets.
type ReservationService struct {
	repos    Repositories
	payments payment.Validator
	opts     options
}

// NewReservationService wires the reservation flow.
func NewReservationService(repos Repositories, payments payment.Validator, opts ...Option) *ReservationService {
	return &ReservationService{
		repos:    repos,
		payments: payments,
		opts:     buildOptions("reservation", opts),
	}
}

// Reserve validates the request, prices the seats and books them in one
// database transaction.  Either every requested seat ends up PAID or
// none does.  A declined payment is recorded as a REJECTED transaction
// with CANCELLED tickets and reported as a Payment error.
func (s *ReservationService) Reserve(ctx context.Context, in ReserveInput) (*ReserveResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	conflicts, err := s.repos.Tickets.PaidForSeats(ctx, in.ScreeningID, in.SeatIDs)
	if err != nil {
		return nil, apperr.Server("failed to check booked seats", err)
	}

	detail, err := s.repos.Screenings.GetDetail(ctx, in.ScreeningID)
	if err != nil {
		return nil, notFoundOr(err, "screening not found", "failed to load screening")
	}
	now := s.opts.clock()
	if !detail.StartTime.After(now) {
		return nil, apperr.Validation("screening already started")
	}
	price, err := pricing.Price(detail.HallClass, detail.ScreenClass, detail.StartTime)
	if err != nil {
		return nil, apperr.Server("failed to price screening", err)
	}

	bookable, err := s.repos.Seats.BookableInHall(ctx, detail.HallID, in.SeatIDs)
	if err != nil {
		return nil, apperr.Server("failed to load seats", err)
	}
	if len(conflicts) > 0 {
		return nil, apperr.Conflict(apperr.CodeSeatBooked, "some seats already booked")
	}
	if len(bookable) != len(in.SeatIDs) {
		return nil, apperr.Validation("some seats are booked, deleted, under maintenance, or not in this hall")
	}

	res, err := s.book(ctx, in, detail, price)
	if err != nil {
		return nil, err
	}
	s.publishBooked(ctx, detail, res)
	return res, nil
}

func (s *ReservationService) book(ctx context.Context, in ReserveInput, detail *model.ScreeningDetail, price int64) (*ReserveResult, error) {
	now := s.opts.clock()
	tx, err := s.repos.Tickets.DB().BeginTx(ctx, repository.SeatTxOptions())
	if err != nil {
		return nil, apperr.Server("failed to start transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	lt := model.LedgerTransaction{
		ID:               uuid.NewString(),
		UserID:           in.UserID,
		Status:           model.TransactionPending,
		TotalAmountCents: price * int64(len(in.SeatIDs)),
		PaymentMethod:    strings.ToUpper(strings.TrimSpace(in.Payment.Method)),
		CreatedAt:        now,
	}
	if err := s.repos.Transactions.CreateTx(ctx, tx, &lt); err != nil {
		return nil, apperr.Server("failed to create transaction", err)
	}

	tickets := make([]model.Ticket, len(in.SeatIDs))
	ticketIDs := make([]string, len(in.SeatIDs))
	for i, seatID := range in.SeatIDs {
		tickets[i] = model.Ticket{
			ID:            uuid.NewString(),
			ScreeningID:   in.ScreeningID,
			SeatID:        seatID,
			UserID:        in.UserID,
			Status:        model.TicketPending,
			PriceCents:    price,
			TransactionID: lt.ID,
			CreatedAt:     now,
		}
		ticketIDs[i] = tickets[i].ID
	}
	if err := s.repos.Tickets.CreateBulkTx(ctx, tx, tickets); err != nil {
		if errors.Is(err, repository.ErrSeatBooked) {
			return nil, apperr.Conflict(apperr.CodeSeatBooked, "some seats already booked").With(err)
		}
		return nil, apperr.Server("failed to create tickets", err)
	}

	charge := payment.Charge{
		TransactionID: lt.ID,
		UserID:        in.UserID,
		AmountCents:   lt.TotalAmountCents,
		Details:       in.Payment,
	}
	if err := s.payments.Validate(ctx, charge); err != nil {
		reason, declined := payment.ReasonOf(err)
		if !declined {
			return nil, apperr.Server("payment validation failed", err)
		}
		if err := s.repos.Transactions.SetStatusTx(ctx, tx, lt.ID, model.TransactionRejected, reason, now); err != nil {
			return nil, apperr.Server("failed to reject transaction", err)
		}
		if err := s.repos.Tickets.SetStatusByTransactionTx(ctx, tx, lt.ID, model.TicketCancelled, now); err != nil {
			return nil, apperr.Server("failed to cancel tickets", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, apperr.Server("failed to commit transaction", err)
		}
		committed = true
		s.opts.logger.Info("payment rejected",
			zap.String("transaction_id", lt.ID),
			zap.String("user_id", in.UserID),
			zap.String("reason", reason))
		return nil, apperr.Payment("payment rejected: " + reason).With(&PaymentRejected{
			TransactionID: lt.ID,
			TicketIDs:     ticketIDs,
			Reason:        reason,
		})
	}

	if err := s.repos.Transactions.SetStatusTx(ctx, tx, lt.ID, model.TransactionCompleted, "", now); err != nil {
		return nil, apperr.Server("failed to complete transaction", err)
	}
	if err := s.repos.Tickets.SetStatusByTransactionTx(ctx, tx, lt.ID, model.TicketPaid, now); err != nil {
		return nil, apperr.Server("failed to mark tickets paid", err)
	}
	if _, err := s.repos.Holds.DeleteForSeatsTx(ctx, tx, in.ScreeningID, in.SeatIDs); err != nil {
		return nil, apperr.Server("failed to clear holds", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Server("failed to commit transaction", err)
	}
	committed = true

	lt.Status = model.TransactionCompleted
	for i := range tickets {
		tickets[i].Status = model.TicketPaid
	}
	s.opts.logger.Info("reservation completed",
		zap.String("transaction_id", lt.ID),
		zap.String("screening_id", in.ScreeningID),
		zap.Int("seats", len(tickets)),
		zap.Int64("total_cents", lt.TotalAmountCents))
	return &ReserveResult{Transaction: lt, Tickets: tickets}, nil
}

func (s *ReservationService) publishBooked(ctx context.Context, detail *model.ScreeningDetail, res *ReserveResult) {
	seatIDs := make([]string, len(res.Tickets))
	for i, t := range res.Tickets {
		seatIDs[i] = t.SeatID
	}
	body, err := json.Marshal(fanout.BookingConfirmed{
		TransactionID:    res.Transaction.ID,
		UserID:           res.Transaction.UserID,
		ScreeningID:      detail.ID,
		HallID:           detail.HallID,
		HallName:         detail.HallName,
		MovieTitle:       detail.MovieTitle,
		StartsAt:         detail.StartTime.Format(time.RFC3339),
		SeatIDs:          seatIDs,
		TotalAmountCents: res.Transaction.TotalAmountCents,
		ConfirmedAt:      s.opts.clock().Format(time.RFC3339),
	})
	if err != nil {
		s.opts.logger.Warn("marshal booking event failed", zap.Error(err))
		return
	}
	s.opts.publish(ctx, s.opts.topics.Booked, body)
}

// Cancel refunds a PAID ticket owned by userID before its screening
// starts.  The refunded ticket is soft-deleted and stops blocking the
// seat.
func (s *ReservationService) Cancel(ctx context.Context, ticketID, userID string) (*model.Ticket, error) {
	if !validUUID(ticketID) {
		return nil, apperr.Validation("invalid ticket id")
	}
	t, err := s.repos.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, notFoundOr(err, "ticket not found", "failed to load ticket")
	}
	if t.UserID != userID {
		return nil, apperr.Forbidden("ticket belongs to another user")
	}
	if t.Status != model.TicketPaid {
		return nil, apperr.Conflict(apperr.CodeTicketState, "only paid tickets can be cancelled")
	}
	detail, err := s.repos.Screenings.GetDetail(ctx, t.ScreeningID)
	if err != nil {
		return nil, notFoundOr(err, "screening not found", "failed to load screening")
	}
	now := s.opts.clock()
	if !detail.StartTime.After(now) {
		return nil, apperr.Validation("screening already started")
	}
	if err := s.repos.Tickets.Refund(ctx, t.ID, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict(apperr.CodeTicketState, "only paid tickets can be cancelled")
		}
		return nil, apperr.Server("failed to refund ticket", err)
	}
	t.Status = model.TicketRefunded
	t.DeletedAt = &now

	// Rooms learn the seat is free again through the released topic.
	if body, err := fanout.EncodeReleased([]model.SeatKey{{ScreeningID: t.ScreeningID, SeatID: t.SeatID}}); err == nil {
		s.opts.publish(ctx, s.opts.topics.Released, body)
	}
	return t, nil
}

// ListUserTickets returns the caller's ticket history, newest first.
func (s *ReservationService) ListUserTickets(ctx context.Context, userID string) ([]model.Ticket, error) {
	tickets, err := s.repos.Tickets.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Server("failed to load tickets", err)
	}
	return tickets, nil
}

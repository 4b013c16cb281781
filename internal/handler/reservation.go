package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/apperr"
	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/payment"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
)

// Reservations is the part of the reservation service the HTTP layer uses.
type Reservations interface {
	Reserve(ctx context.Context, in service.ReserveInput) (*service.ReserveResult, error)
	Cancel(ctx context.Context, ticketID, userID string) (*model.Ticket, error)
	ListUserTickets(ctx context.Context, userID string) ([]model.Ticket, error)
}

// ReservationHandler serves ticket purchase and cancellation for the
// authenticated user.
type ReservationHandler struct {
	svc    Reservations
	logger *zap.Logger
}

func NewReservationHandler(svc Reservations, logger *zap.Logger) *ReservationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationHandler{svc: svc, logger: logger.Named("reservation")}
}

type reserveRequest struct {
	SeatIDs []string        `json:"seat_ids"`
	Payment payment.Details `json:"payment"`
}

// Reserve handles POST /v1/screenings/:id/reservations.  All seats are
// sold or none are: 201 with the transaction and tickets, 409 when a seat
// is already sold, 402 with the audit transaction id when the payment is
// declined.
func (h *ReservationHandler) Reserve(c echo.Context) error {
	var body reserveRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": apperr.CodeInvalid})
	}
	res, err := h.svc.Reserve(c.Request().Context(), service.ReserveInput{
		ScreeningID: c.Param("id"),
		SeatIDs:     body.SeatIDs,
		UserID:      middleware.UserID(c),
		Payment:     body.Payment,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Cancel handles DELETE /v1/tickets/:id.  Only the owner can refund a paid
// ticket, and only before the screening starts.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	t, err := h.svc.Cancel(c.Request().Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, t)
}

// ListMine handles GET /v1/me/tickets.
func (h *ReservationHandler) ListMine(c echo.Context) error {
	tickets, err := h.svc.ListUserTickets(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	return c.JSON(http.StatusOK, echo.Map{"tickets": tickets})
}

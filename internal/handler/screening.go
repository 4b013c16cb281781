package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/apperr"
	"github.com/iliyamo/cinema-seat-hold/internal/model"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
)

// Screenings is the part of the screening service the HTTP layer uses.
type Screenings interface {
	Create(ctx context.Context, in service.CreateScreeningInput) (*model.Screening, error)
	Quote(ctx context.Context, screeningID string) (*service.Quote, error)
	SeatMap(ctx context.Context, screeningID string) (*service.SeatMap, error)
}

// ScreeningHandler serves screening scheduling and seat maps.
type ScreeningHandler struct {
	svc    Screenings
	logger *zap.Logger
}

func NewScreeningHandler(svc Screenings, logger *zap.Logger) *ScreeningHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScreeningHandler{svc: svc, logger: logger.Named("screening")}
}

// Create handles POST /v1/screenings (admin).  The body is
// {"movie_id", "hall_id", "start_time"} with an RFC 3339 start time.
// Returns 409 SCREENING_OVERLAP when the hall is busy.
func (h *ScreeningHandler) Create(c echo.Context) error {
	var in service.CreateScreeningInput
	if err := c.Bind(&in); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": apperr.CodeInvalid})
	}
	s, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, s)
}

// Get handles GET /v1/screenings/:id and returns the screening with its
// current seat price.
func (h *ScreeningHandler) Get(c echo.Context) error {
	q, err := h.svc.Quote(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, q)
}

// Seats handles GET /v1/screenings/:id/seats.
func (h *ScreeningHandler) Seats(c echo.Context) error {
	m, err := h.svc.SeatMap(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, m)
}

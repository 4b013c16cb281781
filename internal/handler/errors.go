package handler

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/apperr"
	"github.com/iliyamo/cinema-seat-hold/internal/service"
)

// writeError renders err as {"error", "code"} with the status of its kind.
// Server errors are logged and their detail withheld.
func writeError(c echo.Context, logger *zap.Logger, err error) error {
	status := apperr.HTTPStatus(err)
	body := echo.Map{"error": apperr.PublicMessage(err), "code": apperr.CodeOf(err)}

	var rejected *service.PaymentRejected
	if errors.As(err, &rejected) {
		body["transaction_id"] = rejected.TransactionID
		body["ticket_ids"] = rejected.TicketIDs
		body["reason"] = rejected.Reason
	}
	if apperr.KindOf(err) == apperr.KindServer {
		logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.JSON(status, body)
}

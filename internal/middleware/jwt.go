package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/apperr"
	"github.com/iliyamo/cinema-seat-hold/internal/auth"
)

// Context keys set by JWTAuth.
const (
	KeyUserID = "user_id"
	KeyRole   = "role"
)

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// JWTAuth validates the Bearer access token and stores the caller's user id
// and role in the context under KeyUserID and KeyRole.
func JWTAuth(v TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := auth.BearerToken(c.Request().Header.Get("Authorization"))
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token", "code": apperr.CodeUnauthorized})
			}
			id, err := v.Verify(raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token", "code": apperr.CodeUnauthorized})
			}
			c.Set(KeyUserID, id.UserID)
			c.Set(KeyRole, id.Role)
			return next(c)
		}
	}
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c echo.Context) string {
	s, _ := c.Get(KeyUserID).(string)
	return s
}

// Role returns the authenticated role, or "".
func Role(c echo.Context) string {
	s, _ := c.Get(KeyRole).(string)
	return s
}

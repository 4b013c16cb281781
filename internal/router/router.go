// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/auth"
	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/gateway"
	"github.com/iliyamo/cinema-seat-hold/internal/handler"
	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
)

// Deps are the handlers and infrastructure the routes need.  Redis may be
// nil, which turns off rate limiting and caching.
type Deps struct {
	Screenings   *handler.ScreeningHandler
	Reservations *handler.ReservationHandler
	WS           *gateway.Server
	Verifier     middleware.TokenVerifier
	DB           handler.Pinger
	Redis        *redis.Client
	RateLimit    config.RateLimitConfig
	Cache        config.CacheConfig
	Logger       *zap.Logger
}

// RegisterRoutes mounts every endpoint on e.
//
//	GET    /healthz, /readyz
//	GET    /ws                                 websocket gateway
//	GET    /v1/screenings/:id                  screening with price (cached)
//	GET    /v1/screenings/:id/seats            seat map
//	POST   /v1/screenings                      ADMIN
//	POST   /v1/screenings/:id/reservations     CUSTOMER or ADMIN, rate limited
//	DELETE /v1/tickets/:id                     CUSTOMER or ADMIN
//	GET    /v1/me/tickets                      CUSTOMER or ADMIN
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.Use(middleware.RequestLogger(d.Logger))

	e.GET("/healthz", handler.Health)
	if d.DB != nil {
		e.GET("/readyz", handler.Ready(d.DB))
	}
	e.GET("/ws", d.WS.Handle)

	authn := middleware.JWTAuth(d.Verifier)
	adminOnly := middleware.RequireRole(auth.RoleAdmin)
	buyer := middleware.RequireRole(auth.RoleCustomer, auth.RoleAdmin)

	v1 := e.Group("/v1")
	v1.GET("/screenings/:id", d.Screenings.Get, middleware.NewRedisCache(d.Cache, d.Redis, d.Logger))
	v1.GET("/screenings/:id/seats", d.Screenings.Seats)
	v1.POST("/screenings", d.Screenings.Create, authn, adminOnly)
	v1.POST("/screenings/:id/reservations", d.Reservations.Reserve,
		authn, buyer, middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Logger))
	v1.DELETE("/tickets/:id", d.Reservations.Cancel, authn, buyer)
	v1.GET("/me/tickets", d.Reservations.ListMine, authn, buyer)
}

package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-hold/internal/handler"
	"github.com/iliyamo/cinema-seat-hold/internal/middleware"
)

// Deps carries everything the routes need.
type Deps struct {
	Reservations *handler.ReservationHandler
	Sessions     *handler.SessionHandler
	Health       echo.HandlerFunc
	Cache        *middleware.ResponseCache
	RateLimit    echo.MiddlewareFunc
	JWTSecret    string // enables bearer auth on user routes when set
}

// Register mounts the health check and the /v1 API on e.
//
//	GET  /healthz
//	POST /v1/sessions
//	GET  /v1/sessions/:id/seats            (cached)
//	POST /v1/reservations                  (rate limited)
//	POST /v1/reservations/:id/confirm      (rate limited)
//	GET  /v1/reservations/:id
//	GET  /v1/users/:userId/purchases
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health)

	v1 := e.Group("/v1")
	v1.POST("/sessions", d.Sessions.Create, d.RateLimit)
	v1.GET("/sessions/:id/seats", d.Sessions.Seats, d.Cache.Middleware())

	// user-scoped routes: the token subject must match the user acted for
	var auth []echo.MiddlewareFunc
	if d.JWTSecret != "" {
		auth = append(auth, middleware.JWTAuth(d.JWTSecret))
	}
	limited := append(append([]echo.MiddlewareFunc{}, auth...), d.RateLimit)

	v1.POST("/reservations", d.Reservations.Create, limited...)
	v1.POST("/reservations/:id/confirm", d.Reservations.Confirm, limited...)
	v1.GET("/reservations/:id", d.Reservations.Get, auth...)
	v1.GET("/users/:userId/purchases", d.Sessions.Purchases, auth...)
}

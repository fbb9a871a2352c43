package router // package router defines how HTTP routes are registered for the control surface

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-sync/internal/handler"
	"github.com/iliyamo/seat-sync/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication
// on the provided Echo instance.  Currently it exposes only a health
// check, used by supervisors to verify the engine is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterSeats registers the authenticated seat operations under /v1.
// Every route in the group runs the JWT middleware first, so handlers
// can rely on "user_id" being present in the context.
func RegisterSeats(e *echo.Echo, h *handler.SeatHandler, jwtSecret string) {
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))

	auth.POST("/shows/:id/join", h.Join)
	auth.GET("/shows/:id/seats", h.Seats)
	auth.POST("/shows/:id/seats/:seat/select", h.Select)
	auth.DELETE("/shows/:id/seats/:seat/select", h.Deselect)
	auth.POST("/shows/:id/seats/:seat/renew", h.Renew)
	auth.POST("/shows/:id/refresh", h.Refresh)
	auth.POST("/bookings", h.Book)
	auth.GET("/status", h.Status)
}

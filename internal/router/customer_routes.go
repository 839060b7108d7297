package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking/internal/handler"
	"github.com/iliyamo/cinema-booking/internal/middleware"
)

// RegisterCustomer registers the booking lifecycle under /v1/bookings.
// All routes require a valid JWT with the CUSTOMER role; the handlers
// check booking ownership.
func RegisterCustomer(e *echo.Echo, h *handler.BookingHandler, jwtSecret string) {
	g := e.Group("/v1/bookings",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(handler.RoleCustomer),
	)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/pay", h.Pay)
	g.DELETE("/:id", h.Cancel)
}

package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-booking/internal/handler"
	"github.com/iliyamo/cinema-booking/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
}

// RegisterAuth registers the authentication routes.  Register, login,
// refresh and logout are public; /v1/me requires an access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh) // rotates the refresh token
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(handler.RoleCustomer, handler.RoleAdmin),
	)
	auth.GET("/me", a.Me)
}

// RegisterPublic registers the guest-visible seat map.  cache may be nil.
func RegisterPublic(e *echo.Echo, s *handler.ShowtimeHandler, cache echo.MiddlewareFunc) {
	var mw []echo.MiddlewareFunc
	if cache != nil {
		mw = append(mw, cache)
	}
	e.GET("/v1/showtimes/:id/seats", s.SeatMap, mw...)
}

// RegisterAdmin registers showtime scheduling for the ADMIN role.
func RegisterAdmin(e *echo.Echo, s *handler.ShowtimeHandler, jwtSecret string) {
	g := e.Group("/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(handler.RoleAdmin),
	)
	g.POST("/showtimes", s.Schedule)
	g.DELETE("/showtimes/:id", s.Deactivate)
}

package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	UserIDKey = "user_id" // uint64
	RoleKey   = "role"    // string
)

// UserID returns the authenticated user's ID stored by JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(UserIDKey).(uint64)
	return id, ok && id != 0
}

// Role returns the authenticated user's role or "".
func Role(c echo.Context) string {
	r, _ := c.Get(RoleKey).(string)
	return r
}

// subject is the user part of rate-limit keys: the user ID or "anon".
func subject(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}

package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	// UserIDHeader carries the caller identity resolved by the gateway
	// in front of this service
	UserIDHeader = "X-User-ID"

	// UserIDKey is the echo context key the handlers read
	UserIDKey = "user_id"
)

// Identity extracts the caller's user ID from the request header.
// Requests without one are rejected; verifying the identity itself is
// the gateway's job, not ours.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get(UserIDHeader)
			if userID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "unauthorized",
					"message": "missing " + UserIDHeader + " header",
				})
			}
			c.Set(UserIDKey, userID)
			return next(c)
		}
	}
}

// UserID returns the caller's user ID set by the Identity middleware
func UserID(c echo.Context) string {
	id, _ := c.Get(UserIDKey).(string)
	return id
}

package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/filevault/internal/server/auth"
)

// userIDKey is the echo context key holding the authenticated user id.
const userIDKey = "userID"

// JWTAuth returns a middleware that requires a valid bearer access token and
// stores the authenticated user id in the request context.
func JWTAuth(secretKey []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			userID, err := auth.GetUserIDFromToken(token, secretKey)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// GetUserID retrieves the authenticated user id set by JWTAuth.
func GetUserID(c echo.Context) int64 {
	id, _ := c.Get(userIDKey).(int64)
	return id
}

package devserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sitegate/internal/session"
)

// AccountContextKey holds the authenticated *Account in the echo context
const AccountContextKey = "account"

// LoadSession resolves the session cookie into an account when present.
// Requests without a valid session pass through anonymously.
func LoadSession(tokens *TokenService, data *Data) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				return next(c)
			}

			claims, err := tokens.ValidateToken(cookie.Value)
			if err != nil {
				return next(c)
			}

			if acc, ok := data.Account(claims.UserID); ok {
				c.Set(AccountContextKey, acc)
			}
			return next(c)
		}
	}
}

// CurrentAccount returns the authenticated account, if any
func CurrentAccount(c echo.Context) (*Account, bool) {
	acc, ok := c.Get(AccountContextKey).(*Account)
	return acc, ok && acc != nil
}

// RequireAuth rejects anonymous requests
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := CurrentAccount(c); !ok {
				return c.JSON(http.StatusUnauthorized, detail("Not authenticated"))
			}
			return next(c)
		}
	}
}

// RequireAdmin rejects requests from accounts without an admin role
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			acc, ok := CurrentAccount(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, detail("Not authenticated"))
			}
			if !session.IsAdminRole(acc.Role) {
				return c.JSON(http.StatusForbidden, detail("Admin privileges required"))
			}
			return next(c)
		}
	}
}

func detail(msg interface{}) map[string]interface{} {
	return map[string]interface{}{"detail": msg}
}

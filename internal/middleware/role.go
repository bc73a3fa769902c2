package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ricart/storefront/internal/model"
)

// RequireRole admits only identities holding one of roles.  It must run
// after Authenticate.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, ok := CurrentIdentity(c)
			if !ok {
				return deny(c, http.StatusUnauthorized, "missing_token", "authentication required")
			}
			if !allowed[u.Role] {
				return deny(c, http.StatusForbidden, "forbidden", "insufficient role")
			}
			return next(c)
		}
	}
}

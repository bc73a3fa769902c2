package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/ricart/storefront/internal/model"
)

// CurrentIdentity returns the identity attached by Authenticate.
func CurrentIdentity(c echo.Context) (model.PublicIdentity, bool) {
	u, ok := c.Get(CtxIdentity).(model.PublicIdentity)
	return u, ok
}

// currentUserID keys rate-limit buckets; unauthenticated callers share "anon".
func currentUserID(c echo.Context) string {
	if s, ok := c.Get(CtxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}

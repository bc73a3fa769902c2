package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/ricart/storefront/internal/logger"
)

// ContextLogger stores a request-scoped logger and the request id in the
// request context.  It must run after echo's RequestID middleware.
func ContextLogger(base *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logger.WithRequestID(c.Request().Context(), rid)
			ctx = logger.Into(ctx, base.With(slog.String("request_id", rid)))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

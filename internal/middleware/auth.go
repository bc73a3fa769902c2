package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ricart/storefront/internal/logger"
	"github.com/ricart/storefront/internal/model"
	"github.com/ricart/storefront/internal/session"
)

// Context keys set by Authenticate.
const (
	CtxIdentity    = "identity"
	CtxUserID      = "user_id"
	CtxRole        = "role"
	CtxAccessToken = "access_token"
)

// RetryAfterSeconds is sent with 503 responses caused by a store outage.
const RetryAfterSeconds = "5"

// AccessVerifier is the part of session.Manager the protection middleware
// needs.
type AccessVerifier interface {
	VerifyAccess(token string) (string, error)
	Identity(ctx context.Context, identityID string) (model.Identity, error)
}

// Authenticate resolves the access token through chain, verifies it and
// attaches the caller's public identity to the context.
func Authenticate(v AccessVerifier, chain Chain) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			lg := logger.From(ctx)

			token, source, ok := chain.Extract(c)
			if !ok {
				return deny(c, http.StatusUnauthorized, "missing_token", "no access token provided")
			}

			id, err := v.VerifyAccess(token)
			if err != nil {
				lg.Info("access_rejected", slog.String("source", source), slog.String("err", err.Error()))
				if errors.Is(err, session.ErrTokenExpired) {
					return deny(c, http.StatusUnauthorized, "token_expired", "access token expired")
				}
				return deny(c, http.StatusUnauthorized, "invalid_token", "invalid access token")
			}

			u, err := v.Identity(ctx, id)
			switch {
			case errors.Is(err, session.ErrStoreUnavailable):
				c.Response().Header().Set("Retry-After", RetryAfterSeconds)
				return deny(c, http.StatusServiceUnavailable, "store_unavailable", "identity store unavailable, retry later")
			case errors.Is(err, session.ErrIdentityNotFound):
				return deny(c, http.StatusUnauthorized, "identity_not_found", "identity no longer exists")
			case err != nil:
				lg.Error("identity_lookup_failed", slog.String("err", err.Error()))
				return deny(c, http.StatusInternalServerError, "internal", "internal error")
			}

			c.Set(CtxIdentity, u.Public())
			c.Set(CtxUserID, u.ID)
			c.Set(CtxRole, string(u.Role))
			c.Set(CtxAccessToken, token)
			c.SetRequest(c.Request().WithContext(logger.Into(ctx, lg.With(slog.String("identity_id", u.ID)))))
			return next(c)
		}
	}
}

func deny(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}

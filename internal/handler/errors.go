package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ricart/storefront/internal/logger"
	"github.com/ricart/storefront/internal/middleware"
	"github.com/ricart/storefront/internal/service"
	"github.com/ricart/storefront/internal/session"
)

// writeError maps a domain error to its HTTP status and error code.
func writeError(c echo.Context, err error) error {
	status, code, msg := http.StatusInternalServerError, "internal", "internal error"

	switch {
	case errors.Is(err, service.ErrValidation):
		status, code, msg = http.StatusBadRequest, "validation_failed", validationMessage(err)
	case errors.Is(err, service.ErrEmailTaken):
		status, code, msg = http.StatusConflict, "email_taken", "user already exists"
	case errors.Is(err, service.ErrInvalidCredentials):
		status, code, msg = http.StatusUnauthorized, "invalid_credentials", "invalid email or password"
	case errors.Is(err, session.ErrTokenExpired):
		status, code, msg = http.StatusUnauthorized, "token_expired", "token expired"
	case errors.Is(err, session.ErrTokenRevoked):
		status, code, msg = http.StatusUnauthorized, "token_revoked", "session is no longer valid"
	case errors.Is(err, session.ErrTokenInvalid):
		status, code, msg = http.StatusUnauthorized, "invalid_token", "invalid token"
	case errors.Is(err, session.ErrIdentityNotFound):
		status, code, msg = http.StatusUnauthorized, "identity_not_found", "identity no longer exists"
	case errors.Is(err, session.ErrStoreUnavailable):
		status, code, msg = http.StatusServiceUnavailable, "store_unavailable", "identity store unavailable, retry later"
		c.Response().Header().Set("Retry-After", middleware.RetryAfterSeconds)
	default:
		logger.From(c.Request().Context()).Error("request_failed", slog.String("err", err.Error()))
	}
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}

func isNotFound(err error) bool { return errors.Is(err, session.ErrIdentityNotFound) }

func validationMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, service.ErrValidation.Error()+": "); i >= 0 {
		return msg[i+len(service.ErrValidation.Error())+2:]
	}
	return msg
}

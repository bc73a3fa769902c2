// Package router mounts the HTTP endpoints and their middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/ricart/storefront/internal/handler"
	"github.com/ricart/storefront/internal/middleware"
	"github.com/ricart/storefront/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, store handler.StoreStatus) {
	e.GET("/healthz", handler.Health(store))
}

// RegisterAuth mounts /auth.  limit throttles the credential endpoints and
// auth protects the session-bound ones.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, auth, limit echo.MiddlewareFunc) {
	g := e.Group("/auth")

	g.POST("/signup", a.Signup, limit)
	g.POST("/login", a.Login, limit)
	g.POST("/refresh-token", a.RefreshToken, limit)

	g.POST("/logout", a.Logout, auth)
	g.GET("/profile", a.Profile, auth)

	g.POST("/sessions/:id/revoke", a.RevokeSession, auth, middleware.RequireRole(model.RoleAdmin))
}

package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ricart/storefront/internal/middleware"
	"github.com/ricart/storefront/internal/model"
	"github.com/ricart/storefront/internal/service"
)

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	Accounts     *service.Accounts
	Refresh      middleware.Chain
	Cookies      Cookies
	TokensInBody bool
}

func NewAuthHandler(a *service.Accounts, refresh middleware.Chain, cookies Cookies, tokensInBody bool) *AuthHandler {
	return &AuthHandler{Accounts: a, Refresh: refresh, Cookies: cookies, TokensInBody: tokensInBody}
}

// ----- DTOs -----

type signupReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResp struct {
	model.PublicIdentity
	AccessToken      string     `json:"accessToken,omitempty"`
	RefreshToken     string     `json:"refreshToken,omitempty"`
	AccessExpiresAt  *time.Time `json:"accessExpiresAt,omitempty"`
	RefreshExpiresAt *time.Time `json:"refreshExpiresAt,omitempty"`
}

type refreshResp struct {
	AccessToken     string    `json:"accessToken,omitempty"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
}

func (h *AuthHandler) sessionBody(u model.Identity, pair model.TokenPair) sessionResp {
	resp := sessionResp{PublicIdentity: u.Public()}
	if h.TokensInBody {
		resp.AccessToken = pair.Access.Token
		resp.RefreshToken = pair.Refresh.Token
		resp.AccessExpiresAt = &pair.Access.Exp
		resp.RefreshExpiresAt = &pair.Refresh.Exp
	}
	return resp
}

// Signup: POST /auth/signup -> 201 with the new identity and its session.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_body", "message": "invalid body"})
	}

	u, pair, err := h.Accounts.Signup(c.Request().Context(), service.SignupInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return writeError(c, err)
	}
	h.Cookies.SetPair(c, pair)
	return c.JSON(http.StatusCreated, h.sessionBody(u, pair))
}

// Login: POST /auth/login.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_body", "message": "invalid body"})
	}

	u, pair, err := h.Accounts.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	h.Cookies.SetPair(c, pair)
	return c.JSON(http.StatusOK, h.sessionBody(u, pair))
}

// RefreshToken: POST /auth/refresh-token.  Returns a new access token; the
// refresh token is not rotated and only the access cookie is re-set.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	raw, _, ok := h.Refresh.Extract(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_token", "message": "no refresh token provided"})
	}

	access, _, err := h.Accounts.Refresh(c.Request().Context(), raw)
	if err != nil {
		return writeError(c, err)
	}
	h.Cookies.SetAccess(c, access)

	resp := refreshResp{AccessExpiresAt: access.Exp}
	if h.TokensInBody {
		resp.AccessToken = access.Token
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout: POST /auth/logout (protected).  Clears the stored refresh token and
// expires both cookies.
func (h *AuthHandler) Logout(c echo.Context) error {
	u, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_token", "message": "authentication required"})
	}
	if err := h.Accounts.Logout(c.Request().Context(), u); err != nil {
		return writeError(c, err)
	}
	h.Cookies.Clear(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "Logged out successfully"})
}

// Profile: GET /auth/profile (protected).
func (h *AuthHandler) Profile(c echo.Context) error {
	u, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing_token", "message": "authentication required"})
	}
	return c.JSON(http.StatusOK, u)
}

// RevokeSession: POST /auth/sessions/:id/revoke (admin).  Force-logs-out
// another identity.
func (h *AuthHandler) RevokeSession(c echo.Context) error {
	u, err := h.Accounts.RevokeSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if isNotFound(err) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": "identity not found"})
		}
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "session revoked", "_id": u.ID})
}

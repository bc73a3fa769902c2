package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ricart/storefront/internal/config"
	"github.com/ricart/storefront/internal/model"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// Cookies writes the auth cookies with one consistent attribute set.
type Cookies struct {
	secure   bool
	sameSite http.SameSite
	domain   string
	now      func() time.Time
}

// NewCookies resolves the cookie policy.  SameSite=None is only legal on a
// Secure cookie, so an insecure none is downgraded to lax.
func NewCookies(cfg config.CookieConfig, production bool, log *slog.Logger) Cookies {
	c := Cookies{secure: cfg.Secure || production, domain: cfg.Domain, now: time.Now}
	switch cfg.SameSite {
	case "strict":
		c.sameSite = http.SameSiteStrictMode
	case "none":
		c.sameSite = http.SameSiteNoneMode
	default:
		c.sameSite = http.SameSiteLaxMode
	}
	if c.sameSite == http.SameSiteNoneMode && !c.secure {
		if log != nil {
			log.Warn("cookie_samesite_downgraded", slog.String("from", "none"), slog.String("to", "lax"))
		}
		c.sameSite = http.SameSiteLaxMode
	}
	return c
}

// SetPair sets both auth cookies.
func (k Cookies) SetPair(c echo.Context, pair model.TokenPair) {
	k.SetAccess(c, pair.Access)
	c.SetCookie(k.cookie(RefreshCookie, pair.Refresh.Token, pair.Refresh.Exp))
}

// SetAccess re-sets only the access cookie.
func (k Cookies) SetAccess(c echo.Context, access model.AccessToken) {
	c.SetCookie(k.cookie(AccessCookie, access.Token, access.Exp))
}

// Clear expires both auth cookies.
func (k Cookies) Clear(c echo.Context) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		ck := k.cookie(name, "", time.Unix(0, 0))
		ck.MaxAge = -1
		c.SetCookie(ck)
	}
}

func (k Cookies) cookie(name, value string, exp time.Time) *http.Cookie {
	maxAge := int(exp.Sub(k.now()).Seconds())
	if maxAge < 1 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   k.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   k.secure,
		SameSite: k.sameSite,
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/ricart/storefront/internal/config"
)

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	e := echo.New()
	e.POST("/auth/login", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		RateLimit(config.RateLimitConfig{Enabled: true}, nil))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/auth/login")

	cfg := config.RateLimitConfig{Prefix: "rl:auth", KeyStrategy: "ip"}
	assert.Equal(t, "rl:auth:ip:10.0.0.7", rateKey(cfg, c))

	cfg.KeyStrategy = ""
	assert.Equal(t, "rl:auth:ip:10.0.0.7:route:POST /auth/login", rateKey(cfg, c))

	cfg.KeyStrategy = "ip_user_route"
	assert.Equal(t, "rl:auth:ip:10.0.0.7:user:anon:route:POST /auth/login", rateKey(cfg, c))

	c.Set(CtxUserID, "u1")
	assert.Equal(t, "rl:auth:ip:10.0.0.7:user:u1:route:POST /auth/login", rateKey(cfg, c))
}

func TestParseBucket(t *testing.T) {
	allowed, remaining, retry, ok := parseBucket([]interface{}{int64(0), int64(0), int64(2500)})
	assert.True(t, ok)
	assert.False(t, allowed)
	assert.Equal(t, int64(0), remaining)
	assert.Equal(t, int64(2500), retry)

	_, _, _, ok = parseBucket("nope")
	assert.False(t, ok)
}

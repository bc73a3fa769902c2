package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Production())
	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	assert.NotEmpty(t, cfg.DevSecret)
	assert.True(t, cfg.Transport.TokensInBody)
	assert.False(t, cfg.Transport.AllowQueryTokens)
	assert.Equal(t, "lax", cfg.Cookie.SameSite)
}

func TestLoad_ProductionReportsAllMissing(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("REFRESH_TOKEN_SECRET", "")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_NAME", "")

	_, err := Load()
	require.Error(t, err)
	for _, k := range []string{"ACCESS_TOKEN_SECRET", "REFRESH_TOKEN_SECRET", "DB_USER", "DB_HOST", "DB_PORT", "DB_NAME"} {
		assert.Contains(t, err.Error(), k)
	}
}

func TestLoad_ProductionForcesSecureCookies(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017/shop")
	t.Setenv("ACCESS_TOKEN_SECRET", "a")
	t.Setenv("REFRESH_TOKEN_SECRET", "b")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("COOKIE_SAMESITE", "None")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Cookie.Secure)
	assert.Equal(t, "none", cfg.Cookie.SameSite)
	assert.Empty(t, cfg.DevSecret)
}

func TestLoad_TTLUnits(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ACCESS_TOKEN_TTL", "30")
	t.Setenv("REFRESH_TOKEN_TTL", "36h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 36*time.Hour, cfg.RefreshTTL)
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "postgres")
		_, err := Load()
		assert.ErrorContains(t, err, "STORE_DRIVER")
	})
	t.Run("bad samesite", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "memory")
		t.Setenv("COOKIE_SAMESITE", "sometimes")
		_, err := Load()
		assert.ErrorContains(t, err, "COOKIE_SAMESITE")
	})
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	c := LoadRateLimitConfig()
	assert.Equal(t, 1, c.Capacity)
	assert.Equal(t, 10*time.Second, c.TTL)
}

func TestLoadRateLimitConfig_DefaultKeyStrategy(t *testing.T) {
	t.Setenv("RATE_LIMIT_KEY_STRATEGY", "")
	assert.Equal(t, "ip_route", LoadRateLimitConfig().KeyStrategy)
}

func TestRedisOptions(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")

	opt, err := RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opt.Addr)
	assert.Equal(t, 2, opt.DB)

	t.Setenv("REDIS_URL", "redis://:pw@redis.internal:6379/3")
	opt, err = RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", opt.Addr)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 3, opt.DB)
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/ricart/storefront/internal/config"
	"github.com/ricart/storefront/internal/database"
	"github.com/ricart/storefront/internal/handler"
	"github.com/ricart/storefront/internal/logger"
	"github.com/ricart/storefront/internal/middleware"
	"github.com/ricart/storefront/internal/queue"
	"github.com/ricart/storefront/internal/repository"
	"github.com/ricart/storefront/internal/router"
	"github.com/ricart/storefront/internal/service"
	"github.com/ricart/storefront/internal/session"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log := logger.New(cfg.Env, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server_stopped", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	issuer, err := session.NewIssuer(session.IssuerConfig{
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		DevSecret:     cfg.DevSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Production:    cfg.Production(),
	})
	if err != nil {
		return err
	}
	if issuer.Insecure() {
		log.Warn("token_secrets_insecure", slog.String("hint", "set ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET"))
	}

	store, closeStore, err := repository.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = closeStore(cctx)
	}()

	policy := database.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.StoreAttempts
	lc := database.NewLifecycle(cfg.StoreDriver, store, policy, log)
	if err := lc.Start(ctx); err != nil {
		return err
	}
	if err := repository.Prepare(ctx, store); err != nil {
		return err
	}
	go lc.Watch(ctx, cfg.HeartbeatInterval)

	manager := session.NewManager(issuer, store, lc, cfg.StoreTimeout)

	var events service.EventPublisher
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.AMQPURL, log)
		defer pub.Close()
		events = pub
		go func() {
			if err := queue.StartConsumer(ctx, cfg.AMQPURL, cfg.EventLogDir, log); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit_consumer_stopped", slog.String("err", err.Error()))
			}
		}()
	}
	accounts := service.NewAccounts(store, manager, events, cfg.BcryptCost)

	chainOpts := middleware.ChainOptions{
		Production:       cfg.Production(),
		AllowQueryTokens: cfg.Transport.AllowQueryTokens,
		Log:              log,
	}
	accessChain, err := middleware.NewChain(cfg.Transport.AccessLookup, middleware.DefaultAccessLookup, chainOpts)
	if err != nil {
		return err
	}
	refreshChain, err := middleware.NewChain(cfg.Transport.RefreshLookup, middleware.DefaultRefreshLookup, chainOpts)
	if err != nil {
		return err
	}

	// a nil *redis.Client must not reach RateLimit as a non-nil interface
	var scripter redis.Scripter
	rlCfg := config.LoadRateLimitConfig()
	if rlCfg.Enabled {
		rdb, err := config.NewRedisClient(ctx)
		if err != nil {
			log.Warn("rate_limit_disabled", slog.String("err", err.Error()))
		} else {
			defer rdb.Close()
			scripter = rdb
		}
	}

	e := newEcho(cfg, log)
	cookies := handler.NewCookies(cfg.Cookie, cfg.Production(), log)
	auth := handler.NewAuthHandler(accounts, refreshChain, cookies, cfg.Transport.TokensInBody)
	router.RegisterRoutes(e, lc)
	router.RegisterAuth(e, auth, middleware.Authenticate(manager, accessChain), middleware.RateLimit(rlCfg, scripter))

	srvErr := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", ":"+cfg.Port), slog.String("env", cfg.Env))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case err := <-srvErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown_start")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(sctx)
}

func newEcho(cfg config.Config, log *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.ContextLogger(log))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			l := logger.From(c.Request().Context())
			if v.Error != nil {
				attrs = append(attrs, slog.String("err", v.Error.Error()))
				l.LogAttrs(c.Request().Context(), slog.LevelError, "request", attrs...)
				return nil
			}
			l.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	}))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderContentType, echo.HeaderAuthorization, echo.HeaderXRequestID,
			"X-Access-Token", "X-Refresh-Token", "X-Requested-With",
		},
		ExposeHeaders: []string{echo.HeaderXRequestID, echo.HeaderRetryAfter},
	}))
	e.Use(echomw.BodyLimit("1M"))
	return e
}

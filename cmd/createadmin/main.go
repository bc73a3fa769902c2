// Command createadmin seeds an administrator account.  Running it again with
// the same email leaves the existing account untouched.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ricart/storefront/internal/config"
	"github.com/ricart/storefront/internal/database"
	"github.com/ricart/storefront/internal/logger"
	"github.com/ricart/storefront/internal/repository"
	"github.com/ricart/storefront/internal/service"
	"github.com/ricart/storefront/internal/session"
)

func main() {
	_ = godotenv.Load()

	var (
		name     = flag.String("name", os.Getenv("ADMIN_NAME"), "admin display name (ADMIN_NAME)")
		email    = flag.String("email", os.Getenv("ADMIN_EMAIL"), "admin email (ADMIN_EMAIL)")
		password = flag.String("password", os.Getenv("ADMIN_PASSWORD"), "admin password (ADMIN_PASSWORD)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log := logger.New(cfg.Env, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := seed(ctx, cfg, log, service.SignupInput{Name: *name, Email: *email, Password: *password}); err != nil {
		log.Error("admin_seed_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg config.Config, log *slog.Logger, in service.SignupInput) error {
	store, closeStore, err := repository.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore(context.Background()) }()

	policy := database.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.StoreAttempts
	lc := database.NewLifecycle(cfg.StoreDriver, store, policy, log)
	if err := lc.Start(ctx); err != nil {
		return err
	}
	if err := repository.Prepare(ctx, store); err != nil {
		return err
	}

	// the seeder never issues tokens but the manager wants a valid issuer
	issuer, err := session.NewIssuer(session.IssuerConfig{
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		DevSecret:     cfg.DevSecret,
		Production:    cfg.Production(),
	})
	if err != nil {
		return err
	}
	accounts := service.NewAccounts(store, session.NewManager(issuer, store, lc, cfg.StoreTimeout), nil, cfg.BcryptCost)

	u, created, err := accounts.CreateAdmin(ctx, in)
	if err != nil {
		return err
	}
	if !created {
		log.Info("admin_exists", slog.String("identity_id", u.ID), slog.String("email", u.Email))
		return nil
	}
	log.Info("admin_created", slog.String("identity_id", u.ID), slog.String("email", u.Email))
	return nil
}

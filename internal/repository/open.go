package repository

import (
	"context"
	"fmt"

	"github.com/ricart/storefront/internal/config"
	"github.com/ricart/storefront/internal/database"
)

// Backend is an identity store together with its connectivity probe.
type Backend interface {
	IdentityStore
	database.Pinger
}

// Open builds the identity store selected by cfg.StoreDriver.  It does not
// wait for the server; the returned close function releases the pool.
func Open(ctx context.Context, cfg config.Config) (Backend, func(context.Context) error, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		cli, name, err := database.OpenMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		st := NewMongoIdentityStore(cli, name)
		return st, st.Close, nil

	case config.DriverMySQL:
		db, err := database.OpenMySQL(database.MySQLConfig{
			User:     cfg.DBUser,
			Password: cfg.DBPass,
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			Name:     cfg.DBName,
		})
		if err != nil {
			return nil, nil, err
		}
		return NewMySQLIdentityStore(db), func(context.Context) error { return db.Close() }, nil

	case config.DriverMemory:
		return NewMemoryIdentityStore(), func(context.Context) error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("repository.Open: unknown driver %q", cfg.StoreDriver)
}

// Prepare creates indexes or tables the store relies on.  It needs a
// reachable server.
func Prepare(ctx context.Context, b Backend) error {
	switch st := b.(type) {
	case *MongoIdentityStore:
		return st.EnsureIndexes(ctx)
	case *MySQLIdentityStore:
		return st.EnsureSchema(ctx)
	}
	return nil
}

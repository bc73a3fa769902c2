package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultMongoDB = "storefront"

// MongoClientOptions returns the pool and timeout settings the storefront
// has always run with.
func MongoClientOptions(uri string) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(10).
		SetServerSelectionTimeout(30 * time.Second).
		SetHeartbeatInterval(10 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetSocketTimeout(45 * time.Second)
}

// OpenMongo creates a client for uri.  mongo.Connect does not block on the
// server; reachability is established by Lifecycle.Start.
func OpenMongo(ctx context.Context, uri string) (*mongo.Client, string, error) {
	if uri == "" {
		return nil, "", fmt.Errorf("database.OpenMongo: empty MONGO_URI")
	}
	cli, err := mongo.Connect(ctx, MongoClientOptions(uri))
	if err != nil {
		return nil, "", fmt.Errorf("database.OpenMongo: %w", err)
	}
	return cli, DatabaseFromURI(uri), nil
}

// DatabaseFromURI returns the database named in the URI path, or the
// storefront default.
func DatabaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDB
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return defaultMongoDB
	}
	return name
}

// Package repository defines the identity store contract and its
// implementations (MongoDB, MySQL and an in-process store).  The sentinel
// values below are shared by every implementation so that higher layers can
// tell a missing record from a store outage without knowing which driver is
// in use.
package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// ErrNotFound is returned when no identity matches the lookup.
var ErrNotFound = errors.New("identity not found")

// ErrEmailExists is returned by Create when the normalized email is taken.
var ErrEmailExists = errors.New("email already exists")

// ErrUnavailable wraps driver errors that indicate the store itself could not
// be reached (timeouts, server selection, dropped connections).  Callers map
// it to a retryable 503 instead of an authentication failure.
var ErrUnavailable = errors.New("identity store unavailable")

// IsUnavailable pattern-matches the driver error taxonomies of MongoDB and
// MySQL for outage conditions.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// MongoDB: server selection failures, socket timeouts, network errors.
	var sse topology.ServerSelectionError
	if errors.As(err, &sse) {
		return true
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}

	// MySQL: broken pool connections and transport errors.
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// classify wraps err with ErrUnavailable when it denotes an outage so that
// errors.Is(err, ErrUnavailable) holds for callers.
func classify(op string, err error) error {
	if IsUnavailable(err) && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

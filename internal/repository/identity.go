package repository

import (
	"context"
	"strings"

	"github.com/ricart/storefront/internal/model"
)

// IdentityStore persists identity records.  Implementations must be safe for
// concurrent use; concurrent SetRefreshTokenHash calls for one identity are
// last-write-wins.
type IdentityStore interface {
	// Create inserts the identity and assigns its ID.  Returns
	// ErrEmailExists when the email is already registered.
	Create(ctx context.Context, id *model.Identity) error
	// FindByID returns ErrNotFound when no record matches.
	FindByID(ctx context.Context, id string) (model.Identity, error)
	// FindByEmail normalizes email before the lookup.
	FindByEmail(ctx context.Context, email string) (model.Identity, error)
	// SetRefreshTokenHash overwrites the identity's refresh-token slot; ""
	// clears it.
	SetRefreshTokenHash(ctx context.Context, id, hash string) error
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ricart/storefront/internal/logger"
	"github.com/ricart/storefront/internal/model"
	"github.com/ricart/storefront/internal/repository"
	"github.com/ricart/storefront/internal/utils"
)

// DefaultStoreTimeout bounds every identity-store round trip.
const DefaultStoreTimeout = 5 * time.Second

// Availability reports whether the identity store is currently reachable.
// The database lifecycle manager implements it.
type Availability interface {
	Available() bool
}

// Manager stores refresh tokens against identities and verifies presented
// tokens.  It holds no per-request state and is safe for concurrent use.
type Manager struct {
	issuer  *Issuer
	store   repository.IdentityStore
	avail   Availability
	timeout time.Duration
}

// NewManager wires the verifier.  avail may be nil, in which case the store is
// assumed reachable and only call errors are classified.
func NewManager(issuer *Issuer, store repository.IdentityStore, avail Availability, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Manager{issuer: issuer, store: store, avail: avail, timeout: timeout}
}

func (m *Manager) Issuer() *Issuer { return m.issuer }

// StoreRefreshToken overwrites the identity's refresh-token slot, silently
// invalidating any session the identity had elsewhere.
func (m *Manager) StoreRefreshToken(ctx context.Context, identityID, refreshToken string) error {
	const op = "session.StoreRefreshToken"

	if refreshToken == "" {
		return fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}
	err := m.withStore(ctx, func(ctx context.Context) error {
		return m.store.SetRefreshTokenHash(ctx, identityID, utils.HashToken(refreshToken))
	})
	if err != nil {
		return m.mapStoreErr(ctx, op, err)
	}
	return nil
}

// VerifyAccess checks signature and expiry only and returns the identity id.
// It never touches the store.
func (m *Manager) VerifyAccess(token string) (string, error) {
	claims, err := m.issuer.ParseAccess(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// VerifyRefresh checks signature and expiry, then requires the token to be
// the one currently stored for its identity.
func (m *Manager) VerifyRefresh(ctx context.Context, token string) (model.Identity, error) {
	const op = "session.VerifyRefresh"

	lg := logger.From(ctx)

	claims, err := m.issuer.ParseRefresh(token)
	if err != nil {
		return model.Identity{}, err
	}

	u, err := m.Identity(ctx, claims.Subject)
	if err != nil {
		return model.Identity{}, err
	}

	if !utils.DigestEqual(u.RefreshTokenHash, utils.HashToken(token)) {
		lg.Warn("refresh_revoked",
			slog.String("op", op),
			slog.String("identity_id", u.ID),
			slog.Bool("slot_empty", u.RefreshTokenHash == ""),
		)
		return model.Identity{}, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}
	return u, nil
}

// RotateAccess exchanges a valid refresh token for a new access token.  The
// refresh token itself is not rotated and the store is never written.
func (m *Manager) RotateAccess(ctx context.Context, refreshToken string) (model.AccessToken, model.Identity, error) {
	u, err := m.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return model.AccessToken{}, model.Identity{}, err
	}
	access, err := m.issuer.IssueAccess(u.ID)
	if err != nil {
		return model.AccessToken{}, model.Identity{}, err
	}
	return access, u, nil
}

// Revoke clears the identity's refresh-token slot.  Revoking an identity that
// has no session, or no longer exists, is not an error.
func (m *Manager) Revoke(ctx context.Context, identityID string) error {
	const op = "session.Revoke"

	err := m.withStore(ctx, func(ctx context.Context) error {
		return m.store.SetRefreshTokenHash(ctx, identityID, "")
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return m.mapStoreErr(ctx, op, err)
	}
	return nil
}

// Identity loads an identity record by id.
func (m *Manager) Identity(ctx context.Context, identityID string) (model.Identity, error) {
	const op = "session.Identity"

	var u model.Identity
	err := m.withStore(ctx, func(ctx context.Context) error {
		var err error
		u, err = m.store.FindByID(ctx, identityID)
		return err
	})
	if err != nil {
		return model.Identity{}, m.mapStoreErr(ctx, op, err)
	}
	return u, nil
}

// Do runs fn against the identity store under the same timeout, availability
// gate and error mapping the verifier uses.
func (m *Manager) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := m.withStore(ctx, fn); err != nil {
		return m.mapStoreErr(ctx, op, err)
	}
	return nil
}

// withStore runs fn under the store timeout, failing fast when the lifecycle
// manager reports the store as down.
func (m *Manager) withStore(ctx context.Context, fn func(context.Context) error) error {
	if m.avail != nil && !m.avail.Available() {
		return repository.ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return fn(ctx)
}

func (m *Manager) mapStoreErr(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrIdentityNotFound)
	case repository.IsUnavailable(err):
		logger.From(ctx).Error("store_unavailable",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%s: %w", op, ErrStoreUnavailable)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

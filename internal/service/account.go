// Package service implements the account flows behind the auth endpoints:
// signup, login, refresh, logout and admin seeding.  It owns credential
// checks and event emission; token and store semantics live in session.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ricart/storefront/internal/logger"
	"github.com/ricart/storefront/internal/model"
	"github.com/ricart/storefront/internal/queue"
	"github.com/ricart/storefront/internal/repository"
	"github.com/ricart/storefront/internal/session"
	"github.com/ricart/storefront/internal/utils"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

const MinPasswordLen = 6

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// EventPublisher receives session lifecycle events.  queue.Publisher
// implements it.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.SessionEvent) error
}

// SignupInput is the payload of a signup or admin seeding request.
type SignupInput struct {
	Name     string
	Email    string
	Password string
}

// Normalize trims the fields and lower-cases the email.
func (in SignupInput) Normalize() SignupInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = repository.NormalizeEmail(in.Email)
	return in
}

// Validate returns an ErrValidation-wrapped error describing the first
// problem found.  in must already be normalized.
func (in SignupInput) Validate() error {
	switch {
	case in.Name == "":
		return fmt.Errorf("%w: name is required", ErrValidation)
	case !emailPattern.MatchString(in.Email):
		return fmt.Errorf("%w: email is invalid", ErrValidation)
	case len(in.Password) < MinPasswordLen:
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLen)
	}
	return nil
}

// Accounts runs the account flows.  Every store round trip goes through the
// session manager so outages surface as session.ErrStoreUnavailable.
type Accounts struct {
	store      repository.IdentityStore
	sessions   *session.Manager
	events     EventPublisher
	bcryptCost int
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAccounts wires the service.  events may be nil.
func NewAccounts(store repository.IdentityStore, sessions *session.Manager, events EventPublisher, bcryptCost int) *Accounts {
	if bcryptCost == 0 {
		bcryptCost = utils.DefaultBcryptCost
	}
	return &Accounts{
		store:      store,
		sessions:   sessions,
		events:     events,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// Signup registers a customer and starts its first session.  Create and the
// refresh-token write are separate store calls, so a signup can leave an
// identity without a session behind a 503.  Repeating it with the same
// password then starts that session instead of reporting ErrEmailTaken.
func (a *Accounts) Signup(ctx context.Context, in SignupInput) (model.Identity, model.TokenPair, error) {
	const op = "service.Signup"

	u, err := a.register(ctx, op, in, model.RoleCustomer)
	if errors.Is(err, ErrEmailTaken) {
		u, err = a.resumeSignup(ctx, op, in)
	}
	if err != nil {
		return model.Identity{}, model.TokenPair{}, err
	}
	pair, err := a.startSession(ctx, op, u)
	if err != nil {
		return model.Identity{}, model.TokenPair{}, err
	}
	a.emit(ctx, queue.EventSignup, u)
	return u, pair, nil
}

// Login verifies credentials and starts a session, superseding any session
// the identity had elsewhere.  The pair is only returned once its refresh
// token has been stored.
func (a *Accounts) Login(ctx context.Context, email, password string) (model.Identity, model.TokenPair, error) {
	const op = "service.Login"

	email = repository.NormalizeEmail(email)
	if email == "" || password == "" {
		return model.Identity{}, model.TokenPair{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	var u model.Identity
	err := a.sessions.Do(ctx, op, func(ctx context.Context) error {
		var err error
		u, err = a.store.FindByEmail(ctx, email)
		return err
	})
	switch {
	case errors.Is(err, session.ErrIdentityNotFound):
		// same bcrypt work as a known email
		utils.VerifyPassword(a.dummy(), password)
		return model.Identity{}, model.TokenPair{}, ErrInvalidCredentials
	case err != nil:
		return model.Identity{}, model.TokenPair{}, err
	}

	if !utils.VerifyPassword(u.PasswordHash, password) {
		logger.From(ctx).Info("login_rejected", slog.String("identity_id", u.ID))
		return model.Identity{}, model.TokenPair{}, ErrInvalidCredentials
	}

	pair, err := a.startSession(ctx, op, u)
	if err != nil {
		return model.Identity{}, model.TokenPair{}, err
	}
	a.emit(ctx, queue.EventLogin, u)
	return u, pair, nil
}

// Refresh exchanges a refresh token for a new access token.
func (a *Accounts) Refresh(ctx context.Context, refreshToken string) (model.AccessToken, model.Identity, error) {
	access, u, err := a.sessions.RotateAccess(ctx, refreshToken)
	if err != nil {
		return model.AccessToken{}, model.Identity{}, err
	}
	a.emit(ctx, queue.EventRefresh, u)
	return access, u, nil
}

// Logout ends the identity's session.
func (a *Accounts) Logout(ctx context.Context, u model.PublicIdentity) error {
	if err := a.sessions.Revoke(ctx, u.ID); err != nil {
		return err
	}
	a.emit(ctx, queue.EventLogout, model.Identity{ID: u.ID, Email: u.Email, Role: u.Role})
	return nil
}

// RevokeSession force-logs-out another identity.  Unlike Logout it reports
// unknown identities.
func (a *Accounts) RevokeSession(ctx context.Context, identityID string) (model.Identity, error) {
	u, err := a.sessions.Identity(ctx, identityID)
	if err != nil {
		return model.Identity{}, err
	}
	if err := a.sessions.Revoke(ctx, u.ID); err != nil {
		return model.Identity{}, err
	}
	a.emit(ctx, queue.EventRevoke, u)
	return u, nil
}

// CreateAdmin seeds an administrator.  When the email is already registered
// the existing identity is returned with created=false and nothing changes.
func (a *Accounts) CreateAdmin(ctx context.Context, in SignupInput) (u model.Identity, created bool, err error) {
	const op = "service.CreateAdmin"

	u, err = a.register(ctx, op, in, model.RoleAdmin)
	if errors.Is(err, ErrEmailTaken) {
		err = a.sessions.Do(ctx, op, func(ctx context.Context) error {
			var err error
			u, err = a.store.FindByEmail(ctx, in.Normalize().Email)
			return err
		})
		return u, false, err
	}
	if err != nil {
		return model.Identity{}, false, err
	}
	return u, true, nil
}

func (a *Accounts) register(ctx context.Context, op string, in SignupInput, role model.Role) (model.Identity, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return model.Identity{}, err
	}

	hash, err := utils.HashPassword(in.Password, a.bcryptCost)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%s: hash password: %w", op, err)
	}
	u := model.Identity{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
	}
	err = a.sessions.Do(ctx, op, func(ctx context.Context) error {
		return a.store.Create(ctx, &u)
	})
	if errors.Is(err, repository.ErrEmailExists) {
		return model.Identity{}, ErrEmailTaken
	}
	if err != nil {
		return model.Identity{}, err
	}
	return u, nil
}

// resumeSignup returns the existing identity when it has no live session and
// the password matches; anything else stays ErrEmailTaken.
func (a *Accounts) resumeSignup(ctx context.Context, op string, in SignupInput) (model.Identity, error) {
	in = in.Normalize()
	var u model.Identity
	err := a.sessions.Do(ctx, op, func(ctx context.Context) error {
		var err error
		u, err = a.store.FindByEmail(ctx, in.Email)
		return err
	})
	if err != nil {
		return model.Identity{}, err
	}
	if u.RefreshTokenHash != "" || u.Role != model.RoleCustomer || !utils.VerifyPassword(u.PasswordHash, in.Password) {
		return model.Identity{}, ErrEmailTaken
	}
	logger.From(ctx).Info("signup_resumed", slog.String("identity_id", u.ID))
	return u, nil
}

func (a *Accounts) startSession(ctx context.Context, op string, u model.Identity) (model.TokenPair, error) {
	pair, err := a.sessions.Issuer().Issue(u.ID)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := a.sessions.StoreRefreshToken(ctx, u.ID, pair.Refresh.Token); err != nil {
		return model.TokenPair{}, err
	}
	return pair, nil
}

func (a *Accounts) emit(ctx context.Context, typ queue.EventType, u model.Identity) {
	if a.events == nil {
		return
	}
	ev := queue.SessionEvent{
		Type:       typ,
		IdentityID: u.ID,
		Email:      u.Email,
		Role:       string(u.Role),
		OccurredAt: a.now().UTC(),
		RequestID:  logger.RequestID(ctx),
	}
	if err := a.events.Publish(ctx, ev); err != nil {
		logger.From(ctx).Warn("session_event_dropped",
			slog.String("type", string(typ)),
			slog.String("identity_id", u.ID),
			slog.String("err", err.Error()),
		)
	}
}

func (a *Accounts) dummy() string {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = utils.HashPassword("storefront-dummy-password", a.bcryptCost)
	})
	return a.dummyHash
}

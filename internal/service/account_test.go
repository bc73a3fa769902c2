package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ricart/storefront/internal/logger"
	"github.com/ricart/storefront/internal/model"
	"github.com/ricart/storefront/internal/queue"
	"github.com/ricart/storefront/internal/repository"
	"github.com/ricart/storefront/internal/session"
)

type switchableStore struct {
	*repository.MemoryIdentityStore
	mu       sync.Mutex
	down     bool
	slotDown bool
}

func (s *switchableStore) setDown(v bool) {
	s.mu.Lock()
	s.down = v
	s.mu.Unlock()
}

func (s *switchableStore) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return repository.ErrUnavailable
	}
	return nil
}

func (s *switchableStore) Create(ctx context.Context, u *model.Identity) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.MemoryIdentityStore.Create(ctx, u)
}

func (s *switchableStore) FindByID(ctx context.Context, id string) (model.Identity, error) {
	if err := s.err(); err != nil {
		return model.Identity{}, err
	}
	return s.MemoryIdentityStore.FindByID(ctx, id)
}

func (s *switchableStore) FindByEmail(ctx context.Context, email string) (model.Identity, error) {
	if err := s.err(); err != nil {
		return model.Identity{}, err
	}
	return s.MemoryIdentityStore.FindByEmail(ctx, email)
}

func (s *switchableStore) setSlotDown(v bool) {
	s.mu.Lock()
	s.slotDown = v
	s.mu.Unlock()
}

func (s *switchableStore) SetRefreshTokenHash(ctx context.Context, id, hash string) error {
	if err := s.err(); err != nil {
		return err
	}
	s.mu.Lock()
	slotDown := s.slotDown
	s.mu.Unlock()
	if slotDown {
		return repository.ErrUnavailable
	}
	return s.MemoryIdentityStore.SetRefreshTokenHash(ctx, id, hash)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.SessionEvent
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []queue.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]queue.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	accounts *Accounts
	store    *switchableStore
	sessions *session.Manager
	events   *recordingPublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	iss, err := session.NewIssuer(session.IssuerConfig{
		AccessSecret:  "access-test",
		RefreshSecret: "refresh-test",
	})
	require.NoError(t, err)

	st := &switchableStore{MemoryIdentityStore: repository.NewMemoryIdentityStore()}
	mgr := session.NewManager(iss, st, nil, 0)
	ev := &recordingPublisher{}
	return fixture{
		accounts: NewAccounts(st, mgr, ev, bcrypt.MinCost),
		store:    st,
		sessions: mgr,
		events:   ev,
	}
}

func validSignup() SignupInput {
	return SignupInput{Name: "Ann", Email: "  Ann@Example.com ", Password: "secret1"}
}

func TestSignup_HashesPasswordAndStartsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, pair, err := f.accounts.Signup(ctx, validSignup())
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.Equal(t, model.RoleCustomer, u.Role)
	assert.NotEqual(t, "secret1", u.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")))

	got, err := f.sessions.VerifyRefresh(ctx, pair.Refresh.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, []queue.EventType{queue.EventSignup}, f.events.types())
}

func TestSignup_Validation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]SignupInput{
		"missing name":   {Email: "a@b.com", Password: "secret1"},
		"bad email":      {Name: "A", Email: "a@b", Password: "secret1"},
		"short password": {Name: "A", Email: "a@b.com", Password: "12345"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.accounts.Signup(context.Background(), in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.accounts.Signup(ctx, validSignup())
	require.NoError(t, err)

	in := validSignup()
	in.Email = "ANN@example.com"
	_, _, err = f.accounts.Signup(ctx, in)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignup_RetryAfterPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.setSlotDown(true)
	_, _, err := f.accounts.Signup(ctx, validSignup())
	require.ErrorIs(t, err, session.ErrStoreUnavailable)
	f.store.setSlotDown(false)

	in := validSignup()
	in.Password = "other-password"
	_, _, err = f.accounts.Signup(ctx, in)
	assert.ErrorIs(t, err, ErrEmailTaken, "a different password never takes over the account")

	u, pair, err := f.accounts.Signup(ctx, validSignup())
	require.NoError(t, err)
	got, err := f.sessions.VerifyRefresh(ctx, pair.Refresh.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, _, err = f.accounts.Signup(ctx, validSignup())
	assert.ErrorIs(t, err, ErrEmailTaken, "an identity with a live session is not resumed")
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, first, err := f.accounts.Signup(ctx, validSignup())
	require.NoError(t, err)

	t.Run("wrong password", func(t *testing.T) {
		_, pair, err := f.accounts.Login(ctx, "ann@example.com", "nope-nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.Empty(t, pair.Access.Token)
		assert.Empty(t, pair.Refresh.Token)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, _, err := f.accounts.Login(ctx, "who@example.com", "secret1")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("success supersedes previous session", func(t *testing.T) {
		got, pair, err := f.accounts.Login(ctx, " ANN@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		_, err = f.sessions.VerifyRefresh(ctx, first.Refresh.Token)
		assert.ErrorIs(t, err, session.ErrTokenRevoked)
		_, err = f.sessions.VerifyRefresh(ctx, pair.Refresh.Token)
		assert.NoError(t, err)
	})
}

func TestLogin_StoreDownReturnsNoPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.accounts.Signup(ctx, validSignup())
	require.NoError(t, err)

	f.store.setDown(true)
	_, pair, err := f.accounts.Login(ctx, "ann@example.com", "secret1")
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, pair.Access.Token)
	assert.Empty(t, pair.Refresh.Token)
}

func TestLogoutThenRefreshIsRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := logger.WithRequestID(context.Background(), "req-9")
	u, pair, err := f.accounts.Signup(ctx, validSignup())
	require.NoError(t, err)

	access, got, err := f.accounts.Refresh(ctx, pair.Refresh.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotEmpty(t, access.Token)

	require.NoError(t, f.accounts.Logout(ctx, u.Public()))

	_, _, err = f.accounts.Refresh(ctx, pair.Refresh.Token)
	assert.ErrorIs(t, err, session.ErrTokenRevoked)

	assert.Equal(t, []queue.EventType{queue.EventSignup, queue.EventRefresh, queue.EventLogout}, f.events.types())
	assert.Equal(t, "req-9", f.events.events[2].RequestID)
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.events.fail = true

	_, _, err := f.accounts.Signup(context.Background(), validSignup())
	assert.NoError(t, err)
}

func TestRevokeSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, pair, err := f.accounts.Signup(ctx, validSignup())
	require.NoError(t, err)

	got, err := f.accounts.RevokeSession(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.sessions.VerifyRefresh(ctx, pair.Refresh.Token)
	assert.ErrorIs(t, err, session.ErrTokenRevoked)

	_, err = f.accounts.RevokeSession(ctx, "ghost")
	assert.ErrorIs(t, err, session.ErrIdentityNotFound)
}

func TestCreateAdmin_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := SignupInput{Name: "Root", Email: "admin@shop.test", Password: "adminpass"}

	u, created, err := f.accounts.CreateAdmin(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.RoleAdmin, u.Role)

	again, created, err := f.accounts.CreateAdmin(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI accepts only the bearer token in current and hands out next on
// refresh.
type fakeAPI struct {
	mu       sync.Mutex
	current  string
	next     string
	refresh  string
	refreshN atomic.Int32
	status   int // forced refresh status when non-zero
	deny     bool
	lastBody map[string]any
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		f.refreshN.Add(1)
		time.Sleep(30 * time.Millisecond)
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case f.status != 0:
			writeJSON(w, f.status, map[string]string{"error": "store_unavailable", "message": "try later"})
		case r.Header.Get("X-Refresh-Token") != f.refresh:
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token_revoked", "message": "revoked"})
		default:
			f.current = f.next
			writeJSON(w, http.StatusOK, map[string]any{"accessToken": f.next, "accessExpiresAt": time.Now().Add(time.Minute)})
		}
	})
	mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token_expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"_id": "u1", "email": "a@b.com", "role": "customer"})
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token_expired"})
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastBody = body
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
	})
	return mux
}

func (f *fakeAPI) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.deny && r.Header.Get("Authorization") == "Bearer "+f.current
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setup(t *testing.T, opts Options) (*Client, *fakeAPI, TokenStore) {
	t.Helper()
	api := &fakeAPI{current: "new-access", next: "new-access", refresh: "refresh-1"}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	require.NoError(t, opts.Store.Save(Tokens{AccessToken: "stale-access", RefreshToken: "refresh-1"}))
	c, err := New(srv.URL, opts)
	require.NoError(t, err)
	return c, api, opts.Store
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	c, api, store := setup(t, Options{})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.Profile(context.Background())
			if err == nil && p.Email != "a@b.com" {
				err = errors.New("unexpected profile " + p.Email)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int32(1), api.refreshN.Load())
	got, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
}

func TestRefreshRejected_ClearsStoresAndNotifies(t *testing.T) {
	dir := t.TempDir()
	file := NewFileStore(dir + "/tokens.json")
	mem := NewMemoryStore()
	var loggedOut atomic.Int32
	c, api, _ := setup(t, Options{
		Store:       MultiStore{mem, file},
		OnLoggedOut: func() { loggedOut.Add(1) },
	})
	api.refresh = "someone-else"

	_, err := c.Profile(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(1), loggedOut.Load())

	_, ok := mem.Load()
	assert.False(t, ok)
	_, ok = file.Load()
	assert.False(t, ok)
}

func TestRefreshOutage_KeepsSession(t *testing.T) {
	var loggedOut atomic.Int32
	c, api, store := setup(t, Options{OnLoggedOut: func() { loggedOut.Add(1) }})
	api.status = http.StatusServiceUnavailable

	_, err := c.Profile(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable())
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, loggedOut.Load())

	got, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, "refresh-1", got.RefreshToken)
}

func TestReplayHappensOnce(t *testing.T) {
	c, api, _ := setup(t, Options{})
	// refresh succeeds but the server still rejects the new token
	api.deny = true

	var out map[string]any
	err := c.Do(context.Background(), http.MethodGet, "/auth/profile", nil, &out)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, int32(1), api.refreshN.Load())
}

func TestLoginFailureDoesNotRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh-token" {
			t.Error("refresh must not be attempted")
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_credentials", "message": "Invalid email or password"})
	}))
	defer srv.Close()

	store := NewMemoryStore()
	require.NoError(t, store.Save(Tokens{AccessToken: "x", RefreshToken: "y"}))
	c, err := New(srv.URL, Options{Store: store})
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "a@b.com", "bad")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_credentials", apiErr.Code)
}

func TestDegradedMode_DuplicatesTokenIntoBody(t *testing.T) {
	c, api, _ := setup(t, Options{Degraded: true})

	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/orders", map[string]any{"sku": "A-1"}, nil))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, "A-1", api.lastBody["sku"])
	assert.Equal(t, "new-access", api.lastBody["accessToken"])
}

func TestLoginPersistsAndLogoutClears(t *testing.T) {
	var logoutAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), `"email":"a@b.com"`)
			writeJSON(w, http.StatusOK, map[string]any{
				"_id": "u1", "email": "a@b.com", "role": "customer",
				"accessToken": "acc", "refreshToken": "ref",
			})
		case "/auth/logout":
			logoutAuth = r.Header.Get("Authorization")
			writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
		}
	}))
	defer srv.Close()

	store := NewMemoryStore()
	c, err := New(srv.URL, Options{Store: store})
	require.NoError(t, err)

	s, err := c.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", s.ID)
	got, ok := c.Tokens()
	require.True(t, ok)
	assert.Equal(t, "ref", got.RefreshToken)

	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, "Bearer acc", logoutAuth)
	_, ok = store.Load()
	assert.False(t, ok)
}

func TestUnauthorizedWithoutSession_DoesNotReportLogout(t *testing.T) {
	var refreshed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh-token" {
			refreshed.Add(1)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing_token"})
	}))
	defer srv.Close()

	var loggedOut atomic.Int32
	c, err := New(srv.URL, Options{OnLoggedOut: func() { loggedOut.Add(1) }})
	require.NoError(t, err)

	_, err = c.Profile(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, loggedOut.Load())
	assert.Zero(t, refreshed.Load())
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New("  ", Options{})
	assert.Error(t, err)
}

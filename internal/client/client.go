// Package client is a Go client for the storefront auth API.  It persists
// tokens to one or more stores, attaches the access token to every request
// and transparently refreshes it once when a request is rejected with 401.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ricart/storefront/internal/model"
)

var (
	// ErrSessionExpired is returned when a refresh was rejected.  Every
	// store has been cleared by then.
	ErrSessionExpired = errors.New("session expired")
	// ErrNoSession is returned when a refresh is needed but no refresh
	// token is stored.
	ErrNoSession = errors.New("no session")
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront: %d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the server asked the caller to retry later.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusServiceUnavailable || e.Status == http.StatusTooManyRequests
}

const (
	pathSignup  = "/auth/signup"
	pathLogin   = "/auth/login"
	pathRefresh = "/auth/refresh-token"
	pathLogout  = "/auth/logout"
	pathProfile = "/auth/profile"
)

// Options configure a Client.
type Options struct {
	HTTPClient *http.Client
	// Store defaults to a MemoryStore.
	Store TokenStore
	// Degraded duplicates the access token into JSON bodies of mutating
	// requests for environments that strip headers and cookies.
	Degraded bool
	// OnLoggedOut fires after a failed refresh cleared the stores.
	OnLoggedOut func()
	// RefreshTimeout bounds the shared refresh call.  Default 15s.
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

// Client talks to the storefront API.  It is safe for concurrent use.
type Client struct {
	base           string
	http           *http.Client
	store          TokenStore
	degraded       bool
	onLoggedOut    func()
	refreshTimeout time.Duration
	log            *slog.Logger

	flights singleflight.Group
}

func New(baseURL string, opts Options) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client.New: empty base URL")
	}
	c := &Client{
		base:           baseURL,
		http:           opts.HTTPClient,
		store:          opts.Store,
		degraded:       opts.Degraded,
		onLoggedOut:    opts.OnLoggedOut,
		refreshTimeout: opts.RefreshTimeout,
		log:            opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.refreshTimeout <= 0 {
		c.refreshTimeout = 15 * time.Second
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// Tokens returns the currently stored tokens.
func (c *Client) Tokens() (Tokens, bool) { return c.store.Load() }

// Do sends a JSON request and decodes a JSON response into out (which may be
// nil).  A 401 on any endpoint other than signup, login or refresh triggers
// one shared refresh and a single replay.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client.Do: encode: %w", err)
		}
		payload = b
	}
	return c.do(ctx, method, path, payload, out, false)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any, retried bool) error {
	tokens, _ := c.store.Load()
	resp, err := c.send(ctx, method, path, payload, tokens.AccessToken)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && !retried && !isAuthEndpoint(path) {
		drain(resp)
		if _, err := c.refresh(ctx, tokens.AccessToken); err != nil {
			return err
		}
		return c.do(ctx, method, path, payload, out, true)
	}
	return decode(resp, out)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, access string) (*http.Response, error) {
	if c.degraded && access != "" && isMutating(method) {
		payload = withField(payload, "accessToken", access)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// refresh obtains a new access token.  Concurrent callers holding the same
// stale token share one flight; a caller whose stale token has already been
// replaced gets the stored token without a network call.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	v, err, _ := c.flights.Do("refresh:"+stale, func() (any, error) {
		cur, _ := c.store.Load()
		if cur.AccessToken != "" && cur.AccessToken != stale {
			return cur.AccessToken, nil
		}
		if cur.RefreshToken == "" {
			// an empty store has no session to end
			if cur.AccessToken != "" {
				c.expire()
			}
			return "", ErrNoSession
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()

		var res struct {
			AccessToken     string    `json:"accessToken"`
			AccessExpiresAt time.Time `json:"accessExpiresAt"`
		}
		err := c.callRefresh(rctx, cur.RefreshToken, &res)
		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized:
			c.expire()
			return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
		case err != nil:
			// outage or transport error: keep the session for a later retry
			return "", err
		case res.AccessToken == "":
			return "", errors.New("client: refresh response carried no access token")
		}

		cur.AccessToken = res.AccessToken
		cur.AccessExpiresAt = res.AccessExpiresAt
		if err := c.store.Save(cur); err != nil {
			c.log.Warn("token_store_save_failed", slog.String("err", err.Error()))
		}
		return res.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) callRefresh(ctx context.Context, refreshToken string, out any) error {
	var payload []byte
	if c.degraded {
		payload = withField(nil, "refreshToken", refreshToken)
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+pathRefresh, body)
	if err != nil {
		return fmt.Errorf("client: build refresh: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Refresh-Token", refreshToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: refresh: %w", err)
	}
	return decode(resp, out)
}

// expire clears every store and notifies the application.
func (c *Client) expire() {
	if err := c.store.Clear(); err != nil {
		c.log.Warn("token_store_clear_failed", slog.String("err", err.Error()))
	}
	if c.onLoggedOut != nil {
		c.onLoggedOut()
	}
}

// Session is the body returned by signup and login.
type Session struct {
	model.PublicIdentity
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func (c *Client) Signup(ctx context.Context, name, email, password string) (Session, error) {
	return c.startSession(ctx, pathSignup, map[string]string{"name": name, "email": email, "password": password})
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	return c.startSession(ctx, pathLogin, map[string]string{"email": email, "password": password})
}

func (c *Client) startSession(ctx context.Context, path string, in any) (Session, error) {
	var s Session
	if err := c.Do(ctx, http.MethodPost, path, in, &s); err != nil {
		return Session{}, err
	}
	if s.AccessToken != "" {
		err := c.store.Save(Tokens{
			AccessToken:     s.AccessToken,
			RefreshToken:    s.RefreshToken,
			AccessExpiresAt: s.AccessExpiresAt,
		})
		if err != nil {
			return s, fmt.Errorf("client: persist tokens: %w", err)
		}
	}
	return s, nil
}

// Refresh forces an access-token refresh.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	cur, _ := c.store.Load()
	return c.refresh(ctx, cur.AccessToken)
}

// Logout ends the server session and clears every store even when the
// server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.Do(ctx, http.MethodPost, pathLogout, nil, nil)
	if cerr := c.store.Clear(); cerr != nil {
		return errors.Join(err, cerr)
	}
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrNoSession) {
		return nil
	}
	return err
}

// Profile returns the identity the stored session belongs to.
func (c *Client) Profile(ctx context.Context) (model.PublicIdentity, error) {
	var p model.PublicIdentity
	err := c.Do(ctx, http.MethodGet, pathProfile, nil, &p)
	return p, err
}

func isAuthEndpoint(path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch path {
	case pathSignup, pathLogin, pathRefresh:
		return true
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// withField sets key in a JSON object payload.  Non-object payloads are
// returned unchanged.
func withField(payload []byte, key, value string) []byte {
	obj := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &obj); err != nil {
			return payload
		}
	}
	v, _ := json.Marshal(value)
	obj[key] = v
	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		if apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

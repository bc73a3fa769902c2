package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ricart/storefront/internal/model"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// IssuerConfig carries the signing material and expiry policy.  AccessSecret
// and RefreshSecret must differ so that leaking one never allows forging the
// other kind.  DevSecret is only honoured outside production.
type IssuerConfig struct {
	AccessSecret  string
	RefreshSecret string
	DevSecret     string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Production    bool
	Now           func() time.Time
}

// Claims are the verified contents of a token.
type Claims struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer mints and parses HS256 access and refresh tokens.  It performs no
// I/O and is safe for concurrent use.
type Issuer struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	insecure   bool
	now        func() time.Time
}

// NewIssuer validates cfg and builds an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	const op = "session.NewIssuer"

	access, refresh := cfg.AccessSecret, cfg.RefreshSecret
	insecure := false
	if access == "" || refresh == "" {
		if cfg.DevSecret == "" || cfg.Production {
			return nil, fmt.Errorf("%s: %w: ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET are required", op, ErrSigning)
		}
		if access == "" {
			access = cfg.DevSecret + ".access"
		}
		if refresh == "" {
			refresh = cfg.DevSecret + ".refresh"
		}
		insecure = true
	}
	if access == refresh {
		return nil, fmt.Errorf("%s: %w: access and refresh secrets must differ", op, ErrSigning)
	}

	iss := &Issuer{
		accessKey:  []byte(access),
		refreshKey: []byte(refresh),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		insecure:   insecure,
		now:        cfg.Now,
	}
	if iss.accessTTL <= 0 {
		iss.accessTTL = DefaultAccessTTL
	}
	if iss.refreshTTL <= 0 {
		iss.refreshTTL = DefaultRefreshTTL
	}
	if iss.now == nil {
		iss.now = time.Now
	}
	return iss, nil
}

// Insecure reports whether the issuer fell back to the development secret.
func (i *Issuer) Insecure() bool { return i.insecure }

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Issue mints a fresh access/refresh pair for identityID.
func (i *Issuer) Issue(identityID string) (model.TokenPair, error) {
	access, err := i.IssueAccess(identityID)
	if err != nil {
		return model.TokenPair{}, err
	}
	raw, exp, err := i.sign(i.refreshKey, identityID, i.refreshTTL)
	if err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{
		Access:  access,
		Refresh: model.RefreshToken{Token: raw, Exp: exp},
	}, nil
}

// IssueAccess mints an access token only.
func (i *Issuer) IssueAccess(identityID string) (model.AccessToken, error) {
	raw, exp, err := i.sign(i.accessKey, identityID, i.accessTTL)
	if err != nil {
		return model.AccessToken{}, err
	}
	return model.AccessToken{Token: raw, Exp: exp}, nil
}

// ParseAccess verifies an access token's signature and expiry.
func (i *Issuer) ParseAccess(token string) (Claims, error) {
	return i.parse(i.accessKey, token)
}

// ParseRefresh verifies a refresh token's signature and expiry.  It does not
// consult storage; see Manager.VerifyRefresh for that.
func (i *Issuer) ParseRefresh(token string) (Claims, error) {
	return i.parse(i.refreshKey, token)
}

func (i *Issuer) sign(key []byte, identityID string, ttl time.Duration) (string, time.Time, error) {
	if identityID == "" {
		return "", time.Time{}, fmt.Errorf("session.sign: empty identity id: %w", ErrTokenInvalid)
	}
	now := i.now().UTC()
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   identityID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session.sign: %w: %v", ErrSigning, err)
	}
	// exp as seen by verifiers is truncated to whole seconds.
	return signed, exp.Truncate(time.Second), nil
}

func (i *Issuer) parse(key []byte, raw string) (Claims, error) {
	const op = "session.parse"

	var rc jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(raw, &rc,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrTokenInvalid
			}
			return key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}
		return Claims{}, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}
	if !tok.Valid || rc.Subject == "" {
		return Claims{}, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	c := Claims{Subject: rc.Subject, ID: rc.ID}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}

// Package session implements the token lifecycle of the storefront: issuing
// access/refresh pairs, tracking the single live refresh token of each
// identity and verifying presented tokens.
//
// Access tokens are stateless and verified by signature and expiry only.
// Refresh tokens are stateful: they are honoured only while their digest
// equals the identity's stored refresh-token slot, which is what makes logout
// and supersession by a newer login effective.
package session

import "errors"

var (
	// ErrSigning is a configuration-level failure: a signing secret is
	// missing or both token kinds would share one key.  Startup must abort.
	ErrSigning = errors.New("signing key unavailable")

	// ErrStoreUnavailable means the identity store could not be reached in
	// time.  Retryable; surfaced as 503.
	ErrStoreUnavailable = errors.New("identity store unavailable")

	// ErrTokenExpired is returned for a well-signed token past its exp claim.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid covers malformed tokens, bad signatures and unexpected
	// signing methods.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenRevoked is returned when a refresh token no longer matches the
	// identity's stored slot (logout or a newer login).
	ErrTokenRevoked = errors.New("token revoked")

	// ErrIdentityNotFound is returned when a token names an identity that no
	// longer exists.
	ErrIdentityNotFound = errors.New("identity not found")
)

package model

import "time"

// AccessToken is a signed, short-lived JWT together with its expiry.  Access
// tokens are stateless: they are verified by signature and expiry only.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken is a signed, long-lived JWT used to obtain new access tokens.
// Unlike access tokens it is only honoured while its digest matches the
// identity's refresh-token slot.
type RefreshToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// TokenPair is what a successful signup or login produces.
type TokenPair struct {
	Access  AccessToken
	Refresh RefreshToken
}

package model

import "time"

// Role names the permission level of an identity.  Only two roles exist:
// regular shoppers and store administrators.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAdmin
}

// Identity represents a registered user as persisted by an identity store.
// Stores never hold the plaintext password; PasswordHash is a bcrypt digest.
// RefreshTokenHash is the single refresh-token slot of the identity: the
// SHA-256 hex digest of the currently valid refresh token, or "" when the
// identity has no live session.
type Identity struct {
	ID               string
	Email            string
	PasswordHash     string
	Name             string
	Role             Role
	RefreshTokenHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PublicIdentity is the serialisable view of an Identity handed to route
// handlers and clients.  Secret fields are not part of the type at all, so
// they cannot leak through a forgotten json tag.
type PublicIdentity struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Public strips secret fields from the identity.
func (i Identity) Public() PublicIdentity {
	return PublicIdentity{
		ID:        i.ID,
		Name:      i.Name,
		Email:     i.Email,
		Role:      i.Role,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

package utils

import "golang.org/x/crypto/bcrypt"

// DefaultBcryptCost matches the cost the storefront has always hashed with.
const DefaultBcryptCost = 10

// HashPassword returns a salted bcrypt hash.  Costs outside bcrypt's accepted
// range fall back to DefaultBcryptCost.
func HashPassword(plain string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword compares a bcrypt hash with a candidate password.  An empty
// or malformed hash never verifies.
func VerifyPassword(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

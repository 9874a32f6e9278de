// Package auth provides API token hashing and comparison helpers.
package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing.
	BcryptCost = 12

	bcryptHashLength = 60
)

// HashToken generates a bcrypt hash for an API token, suitable for storing
// in configuration instead of the plaintext token.
func HashToken(token string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(token), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// IsTokenHashed reports whether a stored value is a bcrypt hash rather
// than a plaintext token. Bcrypt hashes start with "$2" and are exactly
// 60 characters.
func IsTokenHashed(value string) bool {
	return strings.HasPrefix(value, "$2") && len(value) == bcryptHashLength
}

// TokenMatches compares a presented token against the configured value.
// Hashed configured values are checked with bcrypt; plaintext values are
// compared in constant time.
func TokenMatches(configured, presented string) bool {
	if configured == "" || presented == "" {
		return false
	}
	if IsTokenHashed(configured) {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// Package crypto provides bcrypt hashing for the intake API token.
package crypto

import (
	"golang.org/x/crypto/bcrypt"
)

// HashTokenAsBcrypt generates a bcrypt hash of the given token.
func HashTokenAsBcrypt(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckTokenHash verifies the given token against a bcrypt hash.
func CheckTokenHash(hash, token string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	return err == nil
}

package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used for new password digests.
const DefaultBcryptCost = 12

var (
	errEmptyPassword = errors.New("password must be provided")

	// ErrPasswordMismatch reports a digest that does not match the supplied password.
	ErrPasswordMismatch = errors.New("password does not match digest")
)

// PasswordHasher derives and verifies bcrypt digests for account passwords.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher constructs a hasher clamped to a usable bcrypt cost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash derives a digest from the plaintext password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Compare verifies the plaintext password against a stored digest.
func (h *PasswordHasher) Compare(digest string, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}

package accounts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxIdentifierLength = 190

// ErrInvalidAccountID indicates that an account identifier is empty or
// exceeds storage bounds.
var ErrInvalidAccountID = errors.New("accounts: invalid account id")

// AccountID represents a validated account identifier.
type AccountID string

// NewAccountID validates raw input and returns an AccountID.
func NewAccountID(rawInput string) (AccountID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAccountID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAccountID, maxIdentifierLength)
	}
	return AccountID(trimmed), nil
}

// String returns the underlying string identifier.
func (id AccountID) String() string {
	return string(id)
}

// IDProvider issues identifiers for newly created rows.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasherRoundTrip(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	digest, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if digest == "" || digest == "correct horse battery staple" {
		t.Fatalf("expected opaque digest, got %q", digest)
	}

	if err := hasher.Compare(digest, "correct horse battery staple"); err != nil {
		t.Fatalf("expected matching password to verify: %v", err)
	}
	if err := hasher.Compare(digest, "wrong password"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
}

func TestPasswordHasherRejectsEmptyPassword(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	if _, err := hasher.Hash(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestNewPasswordHasherClampsCost(t *testing.T) {
	hasher := NewPasswordHasher(-1)
	if hasher.cost != DefaultBcryptCost {
		t.Fatalf("expected default cost for out-of-range input, got %d", hasher.cost)
	}

	hasher = NewPasswordHasher(bcrypt.MinCost)
	if hasher.cost != bcrypt.MinCost {
		t.Fatalf("expected explicit cost to be kept, got %d", hasher.cost)
	}
}

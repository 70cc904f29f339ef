package family

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	// codeAlphabet omits 0, O, 1, and I so codes survive being read aloud
	// or copied by hand.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8

	// maxCodeAttempts bounds the uniqueness retry loop when issuing codes.
	maxCodeAttempts = 32
)

// GenerateCode produces a random family code from the unambiguous alphabet.
func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	for index := 0; index < codeLength; index++ {
		position, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		code[index] = codeAlphabet[position.Int64()]
	}
	return string(code), nil
}

// NormalizeCode canonicalizes user-entered codes before lookup.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

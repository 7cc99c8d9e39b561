package random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const tokenBytes = 32

// NewOpaqueToken returns a high-entropy token for verification and
// password-reset links. Not a JWT: the value carries no claims and is
// only meaningful as an exact match against the stored copy.
func NewOpaqueToken() (string, error) {
	const op = "random.NewOpaqueToken"

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return hex.EncodeToString(buf), nil
}

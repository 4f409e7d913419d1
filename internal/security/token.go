package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateID creates a new UUID for account identification
func GenerateID() string {
	return uuid.New().String()
}

// GenerateToken generates a cryptographically secure random token of
// length random bytes, hex-encoded. Remember-me and reset tokens use 32
// bytes (256 bits of entropy).
func GenerateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

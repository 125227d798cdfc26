package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Entropy of the opaque tokens, in bytes before encoding.
const (
	refreshTokenBytes = 64
	oneTimeTokenBytes = 32
)

// HashToken returns the SHA-256 hex digest stored in place of a raw token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// GenerateRefreshToken returns a new raw refresh token.
func GenerateRefreshToken() (string, error) {
	return randomToken(refreshTokenBytes)
}

// generateOneTimeToken returns a raw e-mail verification or reset token.
func generateOneTimeToken() (string, error) {
	return randomToken(oneTimeTokenBytes)
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

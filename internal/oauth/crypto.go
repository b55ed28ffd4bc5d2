package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Entropy, in bytes, of generated credentials.
const (
	clientIDBytes     = 16
	clientSecretBytes = 48
	codeBytes         = 32
	refreshBytes      = 48
)

// RandomString returns length random bytes encoded as unpadded base64url.
func RandomString(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 of value. Codes and refresh tokens are
// stored only in this form.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func newClientID() (string, error) {
	s, err := RandomString(clientIDBytes)
	if err != nil {
		return "", err
	}
	return "track_" + s, nil
}

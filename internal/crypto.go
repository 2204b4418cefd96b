package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

func generateRandomBytes(n uint32) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// randomHex returns n random bytes hex encoded, for reset codes and share
// access keys.
func randomHex(n uint32) (string, error) {
	b, err := generateRandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken is how single-use tokens sent by email are stored.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

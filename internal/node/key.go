package node

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateKey returns a fresh symmetric key for the mesh, hex encoded.
func GenerateKey() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

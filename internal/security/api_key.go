package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// apiKeyPrefix is the prefix used for generated API keys.
const apiKeyPrefix = "mhub_"

// GenerateAPIKey creates a new random API key string. The raw key is shown
// to the caller exactly once; only its hash is persisted.
func GenerateAPIKey() (string, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(secret), nil
}

// HashAPIKey converts a raw API key into its stored SHA-256 hex form.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// MaskAPIKey obscures an API key for logging, keeping only the edges.
func MaskAPIKey(rawKey string) string {
	if len(rawKey) > 12 {
		return rawKey[:8] + "..." + rawKey[len(rawKey)-4:]
	}
	if len(rawKey) > 4 {
		return rawKey[:2] + "..." + rawKey[len(rawKey)-2:]
	}
	return "***"
}

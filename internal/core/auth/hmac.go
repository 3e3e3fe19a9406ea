package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const keyPrefix = "eg-v1"

// ParseAPIKey splits an API key into its parts.
// Format: eg-v1-<secret_id>-<nonce>-<signature>, where secret_id and nonce
// are 32 hex chars and signature is 64 hex chars.
func ParseAPIKey(key string) (secretID, nonce, signature string, err error) {
	parts := strings.Split(key, "-")
	if len(parts) != 5 || parts[0]+"-"+parts[1] != keyPrefix {
		return "", "", "", ErrInvalidKeyFormat
	}
	secretID, nonce, signature = parts[2], parts[3], parts[4]

	if len(secretID) != 32 || len(nonce) != 32 || len(signature) != 64 {
		return "", "", "", ErrInvalidKeyFormat
	}
	for _, c := range secretID + nonce + signature {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", "", "", ErrInvalidKeyFormat
		}
	}
	return secretID, nonce, signature, nil
}

// ComputeHMAC computes the HMAC-SHA256 signature of the unsigned key prefix.
func ComputeHMAC(secret []byte, secretID, nonce string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(fmt.Sprintf("%s-%s-%s", keyPrefix, secretID, nonce)))
	return h.Sum(nil)
}

// VerifyHMAC compares signatures in constant time.
func VerifyHMAC(expected, computed []byte) bool {
	return hmac.Equal(expected, computed)
}

// FormatAPIKey assembles an API key from its parts.
func FormatAPIKey(secretID, nonce string, signature []byte) string {
	return fmt.Sprintf("%s-%s-%s-%s", keyPrefix, secretID, nonce, hex.EncodeToString(signature))
}

// GenerateAPIKey mints a new key signed by secret.
func GenerateAPIKey(secretID string, secret []byte) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(raw)
	return FormatAPIKey(secretID, nonce, ComputeHMAC(secret, secretID, nonce)), nil
}

// Package auth provides HMAC-signed API key authentication for the local
// ingestion API.
package auth

import (
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderAPIKey carries the API key on requests.
const HeaderAPIKey = "X-API-Key"

// contextKey stores the authenticated secret id on the gin context.
const contextKey = "engage.secret_id"

// Authenticator validates API keys against in-memory secrets.
type Authenticator struct {
	secrets map[string][]byte
}

// NewAuthenticator creates an authenticator over secret_id -> secret.
func NewAuthenticator(secrets map[string][]byte) *Authenticator {
	return &Authenticator{secrets: secrets}
}

// Enabled reports whether any secret is configured.
func (a *Authenticator) Enabled() bool { return len(a.secrets) > 0 }

// Authenticate validates an API key and returns the secret id that signed it.
func (a *Authenticator) Authenticate(apiKey string) (string, error) {
	secretID, nonce, signature, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return "", ErrInvalidKeyFormat
	}
	if !VerifyHMAC(expected, ComputeHMAC(secret, secretID, nonce)) {
		return "", ErrInvalidKey
	}
	return secretID, nil
}

// Middleware rejects requests without a valid API key.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAPIKey)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingKey.Error()})
			return
		}

		secretID, err := a.Authenticate(key)
		if err != nil {
			msg := ErrInvalidKey.Error()
			if errors.Is(err, ErrInvalidKeyFormat) {
				msg = err.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(contextKey, secretID)
		c.Next()
	}
}

// SecretIDFromContext returns the secret id of the authenticated key, or "".
func SecretIDFromContext(c *gin.Context) string {
	return c.GetString(contextKey)
}

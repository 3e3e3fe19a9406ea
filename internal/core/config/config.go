// Package config provides configuration management for the engage agent.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full agent configuration.
type Config struct {
	SDK SDKConfig
	API APIConfig
}

// SDKConfig holds what the SDK needs to bootstrap and persist state.
type SDKConfig struct {
	TenantToken string
	ConfigName  string
	// GlobalConfigURL and TenantConfigURL may contain {token} and {config}.
	GlobalConfigURL string
	TenantConfigURL string
	DataDir         string
	// SharedDataDir holds state shared between processes of one install,
	// such as pending registration intents.
	SharedDataDir   string
	DBURL           string
	BufferCapacity  int
	TrackerBatch    int
	ProbeTimeout    time.Duration
	RequestTimeout  time.Duration
	ConnectivityURL string
}

// APIConfig holds the local ingestion API and health endpoint settings.
type APIConfig struct {
	Host       string
	Port       int
	HealthPort int
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		SDK: SDKConfig{
			ConfigName:     "default",
			DataDir:        "./data",
			SharedDataDir:  "./data/shared",
			DBURL:          "sqlite://./data/engage.db",
			BufferCapacity: 100,
			TrackerBatch:   100,
			ProbeTimeout:   10 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Host:       "127.0.0.1",
			Port:       8470,
			HealthPort: 8471,
		},
	}
}

// APISecrets extracts API signing secrets from environment variables.
// Supports ENGAGE_API_SECRET (single) and ENGAGE_API_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
func APISecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv("ENGAGE_API_SECRET"); val != "" {
		secretID, decoded, err := ParseSecretWithID(val)
		if err != nil {
			return nil, fmt.Errorf("ENGAGE_API_SECRET: %w", err)
		}
		secrets[secretID] = decoded
	}

	// Old and new secrets stay valid together while keys are rotated.
	for i := 1; ; i++ {
		key := fmt.Sprintf("ENGAGE_API_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		secretID, decoded, err := ParseSecretWithID(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return nil, fmt.Errorf("duplicate secret_id '%s' found in environment variables (check ENGAGE_API_SECRET and ENGAGE_API_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
	}

	return secrets, nil
}

// ParseSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 lowercase hex chars.
func ParseSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}

	return secretID, secret, nil
}

package auth

import "errors"

// Authentication errors. Unknown and invalid keys are reported the same
// way to callers so a response never confirms which secret ids exist.
var (
	ErrMissingKey       = errors.New("API key required in X-API-Key header")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
)

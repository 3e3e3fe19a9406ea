package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for engage operations.
var (
	// ErrUnsupportedValue indicates a host value that is not a string, number or bool.
	ErrUnsupportedValue = errors.New("unsupported parameter value")

	// ErrUnknownEvent indicates an event name with no configuration entry.
	ErrUnknownEvent = errors.New("event is not configured")

	// ErrMandatoryParameterMissing indicates a mandatory parameter is absent.
	ErrMandatoryParameterMissing = errors.New("mandatory parameter missing")

	// ErrParameterTypeMismatch indicates a value kind differs from the declared type.
	ErrParameterTypeMismatch = errors.New("parameter type mismatch")

	// ErrParameterTooLong indicates a value rendering exceeds MaxParameterValueLength.
	ErrParameterTooLong = errors.New("parameter value too long")

	// ErrInvalidParameterType indicates a configuration declares an unknown parameter type.
	ErrInvalidParameterType = errors.New("invalid parameter type in configuration")

	// ErrCoercionFailed indicates type coercion failed.
	ErrCoercionFailed = errors.New("type coercion failed")

	// ErrNotConfigured indicates no configuration has been bootstrapped.
	ErrNotConfigured = errors.New("sdk is not configured")

	// ErrDocumentMissing indicates a configuration document could not be fetched.
	ErrDocumentMissing = errors.New("configuration document missing")

	// ErrDocumentDecode indicates a configuration document could not be decoded.
	ErrDocumentDecode = errors.New("configuration document undecodable")

	// ErrCapabilityProbe indicates a capability probe failed or timed out.
	ErrCapabilityProbe = errors.New("capability probe failed")

	// ErrIntentNotFound indicates no persisted registration intent exists for a kind.
	ErrIntentNotFound = errors.New("registration intent not found")

	// ErrNoIdentity indicates neither a customer id nor a visitor id is known.
	ErrNoIdentity = errors.New("either a customer id or a visitor id is required")

	// ErrNoDeviceToken indicates a push registration before any device token was set.
	ErrNoDeviceToken = errors.New("device token unknown")
)

// ValidationError reports why an event was rejected by the pipeline.
// Err is one of the validation sentinels above.
type ValidationError struct {
	Event     string
	Parameter string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("event %q: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("event %q parameter %q: %v", e.Event, e.Parameter, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err originated from schema validation.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// StatusError is returned when a backend answers with a non-2xx status.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.URL, e.Status, e.Body)
}

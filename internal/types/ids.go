package types

import (
	"strings"

	"github.com/google/uuid"
)

// NewEventID generates a UUIDv7 event identifier.
// Time-ordered IDs keep backend ingestion roughly sorted by creation time.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewEventID() EventID {
	return EventID(uuid.Must(uuid.NewV7()).String())
}

// NewVisitorID generates the 16 hex char visitor identifier assigned on
// first launch. Random (v4) rather than time-ordered: nothing sorts on it.
func NewVisitorID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewIntentID generates an identifier for a persisted registration intent.
func NewIntentID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// internal/types/rules.go
package types

/*
 * Event schema and merged configuration.
 *
 * EventsConfig is the per-event schema shipped in the remote configuration
 * documents. Configuration is the merged, read-only result of one successful
 * bootstrap; every component receives it by value after bootstrap completes.
 *
 * Key types:
 *   - ParameterSpec: declared type and mandatory flag of one parameter
 *   - EventsConfig: event id, backend support flags, parameter specs
 *   - Configuration: tenant, backend endpoints, merged event definitions
 *
 * JSON keys follow the configuration documents ("supportedOnOptitrack",
 * "supportedOnRealTime", "optional") so the same structs decode both sources.
 */

// Limits applied by the validator.
const (
	// MaxParameterValueLength caps string values and number renderings.
	MaxParameterValueLength = 255
)

// ParamType is the declared type of an event parameter.
type ParamType string

const (
	ParamString  ParamType = "String"
	ParamNumber  ParamType = "Number"
	ParamBoolean ParamType = "Boolean"
)

// ParameterSpec declares one parameter of an event.
// Documents carry "optional"; Mandatory is its negation.
type ParameterSpec struct {
	Type        ParamType `json:"type"`
	Optional    bool      `json:"optional"`
	DimensionID int       `json:"optiTrackDimensionId,omitempty"`
}

// Mandatory reports whether the parameter must be present.
func (p ParameterSpec) Mandatory() bool { return !p.Optional }

// EventsConfig is the schema of one event.
type EventsConfig struct {
	ID                  int                      `json:"id"`
	SupportedOnTracker  bool                     `json:"supportedOnOptitrack"`
	SupportedOnRealtime bool                     `json:"supportedOnRealTime"`
	Parameters          map[string]ParameterSpec `json:"parameters"`
}

// RealtimeConfig addresses the low-latency gateway.
type RealtimeConfig struct {
	Enabled bool
	Token   string
	Gateway string
}

// TrackerConfig addresses the batched analytics tracker.
type TrackerConfig struct {
	SiteID       int
	Endpoint     string
	CategoryName string
}

// RegistrationConfig addresses the push registration service.
type RegistrationConfig struct {
	Endpoint string
}

// Configuration is the merged result of the global and tenant documents.
type Configuration struct {
	TenantID     int
	LogEndpoint  string
	Realtime     RealtimeConfig
	Tracker      TrackerConfig
	Registration RegistrationConfig
	Events       map[string]EventsConfig
}

// Event looks up the schema for name.
func (c Configuration) Event(name string) (EventsConfig, bool) {
	ec, ok := c.Events[name]
	return ec, ok
}

// Package registration keeps the push-registration service in sync with the
// device's identity, token and opt-in choice.
//
// Every mutation is captured as an Intent: a snapshot of identity taken when
// the host made the call. The intent is written to disk before any network
// attempt and removed only after the service acknowledged it, so a failure
// survives a restart and is resubmitted later with the original snapshot.
//
// Each Kind is an independent sub-machine:
//
//	Idle -> Pending (intent persisted) -> InFlight -> Settled (file removed)
//	                                              \-> Failed  (file kept)
package registration

import (
	"fmt"
	"time"
)

// Kind selects which registration mutation an intent carries.
type Kind int

const (
	KindSetUser Kind = iota
	KindUnregister
	KindOptIn
	KindOptOut
)

// Kinds lists every kind in retry order.
var Kinds = []Kind{KindSetUser, KindUnregister, KindOptIn, KindOptOut}

func (k Kind) String() string {
	switch k {
	case KindSetUser:
		return "set_user"
	case KindUnregister:
		return "unregister"
	case KindOptIn:
		return "opt_in"
	case KindOptOut:
		return "opt_out"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindSetUser, KindUnregister, KindOptIn, KindOptOut:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("unknown registration kind %d", int(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for _, candidate := range Kinds {
		if candidate.String() == string(b) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown registration kind %q", b)
}

// path is the service path segment for the kind.
func (k Kind) path() string {
	switch k {
	case KindUnregister:
		return "unregister"
	case KindOptIn, KindOptOut:
		return "optInOut"
	default:
		return "register"
	}
}

// State is the position of one kind's sub-machine.
type State int

const (
	StateIdle State = iota
	StatePending
	StateInFlight
	StateSettled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Intent is the persisted snapshot of one registration mutation.
// Either CustomerID or VisitorID is set.
type Intent struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`

	TenantID  int    `json:"tenant_id"`
	DeviceID  string `json:"device_id"`
	AppNS     string `json:"app_ns"`
	OSVersion string `json:"os_version"`
	OptIn     bool   `json:"opt_in"`
	Token     string `json:"token"`

	VisitorID        string `json:"visitor_id,omitempty"`
	CustomerID       string `json:"customer_id,omitempty"`
	IsConversion     bool   `json:"is_conversion,omitempty"`
	InitialVisitorID string `json:"initial_visitor_id,omitempty"`
}

// IsCustomer reports whether the intent targets an identified customer.
func (i Intent) IsCustomer() bool { return i.CustomerID != "" }

// URL builds the service URL for the intent under endpoint, for example
// https://host/registerCustomer.
func (i Intent) URL(endpoint string) string {
	subject := "Visitor"
	if i.IsCustomer() {
		subject = "Customer"
	}
	for len(endpoint) > 0 && endpoint[len(endpoint)-1] == '/' {
		endpoint = endpoint[:len(endpoint)-1]
	}
	return endpoint + "/" + i.Kind.path() + subject
}

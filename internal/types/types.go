// Package types provides domain models shared across engage components.
//
// Event and Value are the unit of work flowing through the pipeline. Value is a
// closed variant (string, number, boolean) so the validator can match on kind
// exhaustively instead of type-asserting arbitrary interface values.
package types

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// EventID represents a UUIDv7 event identifier.
// String alias keeps JSON serialization a plain string.
type EventID string

// Event categories. Custom events come from the host application and are the
// only ones the normalizer rewrites; core events are produced by the SDK itself.
const (
	CategoryCustom = "custom"
	CategoryCore   = "core"
)

// Event is a named, timestamped occurrence with a key/value context.
// Events are immutable once submitted: stages that change an event build a
// new one with WithName/WithContext rather than mutating Context in place.
type Event struct {
	ID        EventID          `json:"id"`
	Name      string           `json:"name"`
	Category  string           `json:"category"`
	Context   map[string]Value `json:"context"`
	Timestamp int64            `json:"timestamp"` // unix milliseconds
}

// WithName returns a copy of the event carrying name.
func (e Event) WithName(name string) Event {
	e.Context = maps.Clone(e.Context)
	e.Name = name
	return e
}

// WithContext returns a copy of the event carrying ctx.
func (e Event) WithContext(ctx map[string]Value) Event {
	e.Context = ctx
	return e
}

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindInvalid ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindNumber:
		return "Number"
	case KindBool:
		return "Boolean"
	default:
		return "Invalid"
	}
}

// Value is a context parameter value: exactly one of string, number or bool.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue wraps n.
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports which variant v holds.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string variant.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the number variant.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Bool returns the boolean variant.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Any unwraps v into a plain Go value for JSON encoding of request bodies.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// String renders the value the way the backend sees it.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// ValueOf converts a host-supplied value into a Value.
// Integer and float kinds become numbers; anything else is rejected.
func ValueOf(x any) (Value, error) {
	switch v := x.(type) {
	case Value:
		return v, nil
	case string:
		return StringValue(v), nil
	case bool:
		return BoolValue(v), nil
	case float64:
		return NumberValue(v), nil
	case float32:
		return NumberValue(float64(v)), nil
	case int:
		return NumberValue(float64(v)), nil
	case int32:
		return NumberValue(float64(v)), nil
	case int64:
		return NumberValue(float64(v)), nil
	case uint:
		return NumberValue(float64(v)), nil
	case uint32:
		return NumberValue(float64(v)), nil
	case uint64:
		return NumberValue(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return NumberValue(f), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
	}
}

// ContextOf converts a parameter map, failing on the first unsupported value.
func ContextOf(params map[string]any) (map[string]Value, error) {
	ctx := make(map[string]Value, len(params))
	for k, raw := range params {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		ctx[k] = v
	}
	return ctx, nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// OperationKind tags the variant held by an Operation.
type OperationKind int

const (
	OpNone OperationKind = iota
	OpReport
	OpSetUserID
	OpReportScreen
	OpDispatchNow
)

func (k OperationKind) String() string {
	switch k {
	case OpReport:
		return "report"
	case OpSetUserID:
		return "set_user_id"
	case OpReportScreen:
		return "report_screen"
	case OpDispatchNow:
		return "dispatch_now"
	default:
		return "none"
	}
}

// Screen describes a screen visit.
type Screen struct {
	Path     string
	Title    string
	Category string
}

// Operation is the unit passed between pipeline stages.
// It is a value type; a stage owns the copy it received and hands a new
// copy to the next stage.
type Operation struct {
	Kind     OperationKind
	Event    Event  // OpReport
	UserID   string // OpSetUserID
	Screen   Screen // OpReportScreen
	Buffered bool   // set only by the in-memory buffer stage
}

// Report wraps an event.
func Report(e Event) Operation { return Operation{Kind: OpReport, Event: e} }

// SetUserID wraps a user identifier change.
func SetUserID(id string) Operation { return Operation{Kind: OpSetUserID, UserID: id} }

// ReportScreen wraps a screen visit.
func ReportScreen(s Screen) Operation { return Operation{Kind: OpReportScreen, Screen: s} }

// DispatchNow asks batching components to flush.
func DispatchNow() Operation { return Operation{Kind: OpDispatchNow} }

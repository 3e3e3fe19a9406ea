// internal/rules/validate.go
package rules

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/solatis/engage/internal/types"
)

/*
 * Schema validation for events.
 *
 * Checks, in order:
 *   1. every mandatory parameter is present
 *   2. every declared parameter has the declared kind; NaN and infinities
 *      are not numbers the backends can carry
 *   3. string values and number renderings fit MaxParameterValueLength
 *
 * Parameters not declared in the schema are ignored. Keys are visited in
 * sorted order so an event with several problems always reports the same one;
 * validation has no other state, which keeps repeated validation stable.
 */

// Validate checks event against cfg and returns a *types.ValidationError.
func Validate(event types.Event, cfg types.EventsConfig) error {
	names := make([]string, 0, len(cfg.Parameters))
	for name := range cfg.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !cfg.Parameters[name].Mandatory() {
			continue
		}
		if _, ok := event.Context[name]; !ok {
			return invalid(event, name, types.ErrMandatoryParameterMissing)
		}
	}

	keys := make([]string, 0, len(event.Context))
	for k := range event.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		spec, ok := cfg.Parameters[key]
		if !ok {
			continue
		}
		if err := CheckValue(event.Context[key], spec.Type); err != nil {
			return invalid(event, key, err)
		}
	}
	return nil
}

// CheckValue verifies value matches paramType and the length limit.
func CheckValue(value types.Value, paramType types.ParamType) error {
	var want types.ValueKind
	switch paramType {
	case types.ParamString:
		want = types.KindString
	case types.ParamNumber:
		want = types.KindNumber
	case types.ParamBoolean:
		want = types.KindBool
	default:
		return types.ErrInvalidParameterType
	}
	if value.Kind() != want {
		return types.ErrParameterTypeMismatch
	}

	if n, ok := value.Num(); ok && (math.IsNaN(n) || math.IsInf(n, 0)) {
		return types.ErrParameterTypeMismatch
	}

	switch value.Kind() {
	case types.KindString, types.KindNumber:
		if utf8.RuneCountInString(value.String()) > types.MaxParameterValueLength {
			return types.ErrParameterTooLong
		}
	case types.KindBool:
	}
	return nil
}

func invalid(event types.Event, param string, err error) *types.ValidationError {
	return &types.ValidationError{Event: event.Name, Parameter: param, Err: err}
}

// internal/rules/coercion.go
package rules

import (
	"strings"

	"github.com/solatis/engage/internal/types"
)

/*
 * Value coercion toward a declared parameter type.
 *
 * Coercion runs during normalization, before validation. It only performs the
 * conversions the backends have always accepted; anything else is reported as
 * ErrCoercionFailed and the original value is left for the validator to reject
 * with a typed error.
 *
 * Type modes:
 *   - String: strings are trimmed; other kinds fail
 *   - Number: numbers pass through; strings and booleans fail (strict)
 *   - Boolean: booleans pass through; numbers truncate to value != 0;
 *     strings fail (avoids "true" vs 1 ambiguity)
 *
 * Unknown declared types return ErrInvalidParameterType so a broken
 * configuration is distinguishable from a bad value.
 */

// Coerce converts value toward paramType.
func Coerce(value types.Value, paramType types.ParamType) (types.Value, error) {
	switch paramType {
	case types.ParamString:
		return coerceString(value)
	case types.ParamNumber:
		return coerceNumber(value)
	case types.ParamBoolean:
		return coerceBoolean(value)
	default:
		return value, types.ErrInvalidParameterType
	}
}

// coerceString trims string values. Lenient conversion of numbers to text
// would hide producer bugs, so other kinds fail.
func coerceString(value types.Value) (types.Value, error) {
	s, ok := value.Str()
	if !ok {
		return value, types.ErrCoercionFailed
	}
	return types.StringValue(strings.TrimSpace(s)), nil
}

// coerceNumber accepts numbers only.
func coerceNumber(value types.Value) (types.Value, error) {
	if _, ok := value.Num(); !ok {
		return value, types.ErrCoercionFailed
	}
	return value, nil
}

// coerceBoolean accepts booleans and truncates numbers.
// Hosts on some platforms hand booleans over as 0/1 numbers.
func coerceBoolean(value types.Value) (types.Value, error) {
	switch value.Kind() {
	case types.KindBool:
		return value, nil
	case types.KindNumber:
		n, _ := value.Num()
		return types.BoolValue(n != 0), nil
	default:
		return value, types.ErrCoercionFailed
	}
}

// NormalizeKey trims s and replaces inner spaces with underscores.
func NormalizeKey(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}

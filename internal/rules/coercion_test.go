package rules

import (
	"errors"
	"testing"

	"github.com/solatis/engage/internal/types"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name      string
		value     types.Value
		paramType types.ParamType
		want      types.Value
		wantErr   error
	}{
		// String type tests
		{
			name:      "string: passthrough",
			value:     types.StringValue("hello"),
			paramType: types.ParamString,
			want:      types.StringValue("hello"),
		},
		{
			name:      "string: trims whitespace",
			value:     types.StringValue("  padded \n"),
			paramType: types.ParamString,
			want:      types.StringValue("padded"),
		},
		{
			name:      "string: number fails",
			value:     types.NumberValue(3),
			paramType: types.ParamString,
			want:      types.NumberValue(3),
			wantErr:   types.ErrCoercionFailed,
		},
		{
			name:      "string: boolean fails",
			value:     types.BoolValue(true),
			paramType: types.ParamString,
			want:      types.BoolValue(true),
			wantErr:   types.ErrCoercionFailed,
		},

		// Number type tests
		{
			name:      "number: passthrough",
			value:     types.NumberValue(9.99),
			paramType: types.ParamNumber,
			want:      types.NumberValue(9.99),
		},
		{
			name:      "number: numeric string fails (strict mode)",
			value:     types.StringValue("25"),
			paramType: types.ParamNumber,
			want:      types.StringValue("25"),
			wantErr:   types.ErrCoercionFailed,
		},
		{
			name:      "number: boolean fails (strict mode)",
			value:     types.BoolValue(false),
			paramType: types.ParamNumber,
			want:      types.BoolValue(false),
			wantErr:   types.ErrCoercionFailed,
		},

		// Boolean type tests
		{
			name:      "boolean: true passthrough",
			value:     types.BoolValue(true),
			paramType: types.ParamBoolean,
			want:      types.BoolValue(true),
		},
		{
			name:      "boolean: one truncates to true",
			value:     types.NumberValue(1),
			paramType: types.ParamBoolean,
			want:      types.BoolValue(true),
		},
		{
			name:      "boolean: zero truncates to false",
			value:     types.NumberValue(0),
			paramType: types.ParamBoolean,
			want:      types.BoolValue(false),
		},
		{
			name:      "boolean: string fails (strict mode)",
			value:     types.StringValue("true"),
			paramType: types.ParamBoolean,
			want:      types.StringValue("true"),
			wantErr:   types.ErrCoercionFailed,
		},

		// Unknown declared type
		{
			name:      "unknown type reported separately",
			value:     types.StringValue("x"),
			paramType: types.ParamType("Date"),
			want:      types.StringValue("x"),
			wantErr:   types.ErrInvalidParameterType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.value, tt.paramType)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Coerce() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Coerce() = %v (%v), want %v (%v)", got, got.Kind(), tt.want, tt.want.Kind())
			}
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"purchase", "purchase"},
		{"  add to cart ", "add_to_cart"},
		{"already_normal", "already_normal"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package rules

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/engage/internal/types"
)

func purchaseConfig() types.EventsConfig {
	return types.EventsConfig{
		ID:                  1001,
		SupportedOnTracker:  true,
		SupportedOnRealtime: true,
		Parameters: map[string]types.ParameterSpec{
			"amount":   {Type: types.ParamNumber},
			"currency": {Type: types.ParamString, Optional: true},
			"gift":     {Type: types.ParamBoolean, Optional: true},
		},
	}
}

func event(ctx map[string]types.Value) types.Event {
	return types.Event{ID: types.NewEventID(), Name: "purchase", Category: types.CategoryCustom, Context: ctx}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		ctx       map[string]types.Value
		wantErr   error
		wantParam string
	}{
		{
			name: "well formed",
			ctx:  map[string]types.Value{"amount": types.NumberValue(9.99), "currency": types.StringValue("EUR")},
		},
		{
			name: "undeclared parameters ignored",
			ctx:  map[string]types.Value{"amount": types.NumberValue(1), "extra": types.BoolValue(true)},
		},
		{
			name:      "mandatory missing",
			ctx:       map[string]types.Value{"currency": types.StringValue("EUR")},
			wantErr:   types.ErrMandatoryParameterMissing,
			wantParam: "amount",
		},
		{
			name:      "type mismatch",
			ctx:       map[string]types.Value{"amount": types.StringValue("9.99")},
			wantErr:   types.ErrParameterTypeMismatch,
			wantParam: "amount",
		},
		{
			name:      "boolean mismatch",
			ctx:       map[string]types.Value{"amount": types.NumberValue(1), "gift": types.NumberValue(1)},
			wantErr:   types.ErrParameterTypeMismatch,
			wantParam: "gift",
		},
		{
			name:      "string too long",
			ctx:       map[string]types.Value{"amount": types.NumberValue(1), "currency": types.StringValue(strings.Repeat("x", 256))},
			wantErr:   types.ErrParameterTooLong,
			wantParam: "currency",
		},
		{
			name: "string at limit",
			ctx:  map[string]types.Value{"amount": types.NumberValue(1), "currency": types.StringValue(strings.Repeat("x", 255))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(event(tt.ctx), purchaseConfig())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr == nil {
				return
			}
			var verr *types.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error type = %T, want *types.ValidationError", err)
			}
			if verr.Parameter != tt.wantParam {
				t.Errorf("Parameter = %q, want %q", verr.Parameter, tt.wantParam)
			}
			if verr.Event != "purchase" {
				t.Errorf("Event = %q, want purchase", verr.Event)
			}
		})
	}
}

func TestValidate_InvalidDeclaredType(t *testing.T) {
	cfg := types.EventsConfig{Parameters: map[string]types.ParameterSpec{
		"when": {Type: types.ParamType("Date"), Optional: true},
	}}
	err := Validate(event(map[string]types.Value{"when": types.StringValue("today")}), cfg)
	if !errors.Is(err, types.ErrInvalidParameterType) {
		t.Errorf("Validate() error = %v, want ErrInvalidParameterType", err)
	}
}

func TestValidate_NonFiniteNumbers(t *testing.T) {
	tests := []struct {
		name  string
		value float64
	}{
		{"nan", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"negative infinity", math.Inf(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(event(map[string]types.Value{"amount": types.NumberValue(tt.value)}), purchaseConfig())
			if !errors.Is(err, types.ErrParameterTypeMismatch) {
				t.Errorf("Validate() error = %v, want ErrParameterTypeMismatch", err)
			}
		})
	}

	if err := CheckValue(types.NumberValue(-1234.5), types.ParamNumber); err != nil {
		t.Errorf("CheckValue(-1234.5) = %v, want nil", err)
	}
}

// Property: validating the same event twice yields the same outcome.
func TestValidate_PropertyIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genValue := gen.OneGenOf(
		gen.AnyString().Map(func(s string) types.Value { return types.StringValue(s) }),
		gen.Float64().Map(func(f float64) types.Value { return types.NumberValue(f) }),
		gen.Bool().Map(func(b bool) types.Value { return types.BoolValue(b) }),
	)
	genKey := gen.OneConstOf("amount", "currency", "gift", "other")

	properties.Property("repeated validation agrees", prop.ForAll(
		func(ctx map[string]types.Value) bool {
			e := event(ctx)
			first := Validate(e, purchaseConfig())
			second := Validate(e, purchaseConfig())
			if (first == nil) != (second == nil) {
				return false
			}
			return first == nil || first.Error() == second.Error()
		},
		gen.MapOf(genKey, genValue),
	))

	properties.TestingRun(t)
}

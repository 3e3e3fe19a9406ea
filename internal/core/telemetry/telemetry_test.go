package telemetry

import (
	"context"
	"testing"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		enabled  string
	}{
		{"noop when endpoint empty", "", ""},
		{"noop when explicitly disabled", "http://localhost:4318", "false"},
		// Non-routable address so nothing is exported.
		{"provider when endpoint set", "http://192.0.2.1:4318", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENGAGE_OTEL_ENDPOINT", tt.endpoint)
			t.Setenv("ENGAGE_OTEL_ENABLED", tt.enabled)

			shutdown, err := Setup(context.Background(), "engage-test")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Fatalf("shutdown error: %v", err)
			}
		})
	}
}

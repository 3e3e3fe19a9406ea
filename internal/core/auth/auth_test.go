package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var testSecret = []byte("testsecret1234567890abcdefghijklmnop")

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(map[string][]byte{testSecretID: testSecret})
}

func TestGenerateAndAuthenticate(t *testing.T) {
	a := newTestAuthenticator()
	key, err := GenerateAPIKey(testSecretID, testSecret)
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	if !strings.HasPrefix(key, "eg-v1-") {
		t.Errorf("unexpected key prefix: %s", key)
	}

	id, err := a.Authenticate(key)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if id != testSecretID {
		t.Errorf("expected secret id %s, got %s", testSecretID, id)
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	a := newTestAuthenticator()
	valid, err := GenerateAPIKey(testSecretID, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	otherID := "fedcba9876543210fedcba9876543210"
	foreign, err := GenerateAPIKey(otherID, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	forged, err := GenerateAPIKey(testSecretID, []byte("another-secret-another-secret-0000"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		key  string
		want error
	}{
		{"empty", "", ErrInvalidKeyFormat},
		{"wrong prefix", strings.Replace(valid, "eg-v1", "tk-v1", 1), ErrInvalidKeyFormat},
		{"truncated", valid[:len(valid)-2], ErrInvalidKeyFormat},
		{"uppercase hex", strings.ToUpper(valid[:6]) + valid[6:], ErrInvalidKeyFormat},
		{"unknown secret", foreign, ErrUnknownKey},
		{"bad signature", forged, ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(tt.key)
			if err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newTestAuthenticator()
	key, err := GenerateAPIKey(testSecretID, testSecret)
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET("/x", a.Middleware(), func(c *gin.Context) {
		c.String(http.StatusOK, SecretIDFromContext(c))
	})

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"invalid", "eg-v1-nope", http.StatusUnauthorized},
		{"valid", key, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.key != "" {
				req.Header.Set(HeaderAPIKey, tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			if tt.status == http.StatusOK && w.Body.String() != testSecretID {
				t.Errorf("expected secret id in context, got %q", w.Body.String())
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	if NewAuthenticator(nil).Enabled() {
		t.Error("empty authenticator should be disabled")
	}
	if !newTestAuthenticator().Enabled() {
		t.Error("authenticator with secrets should be enabled")
	}
}

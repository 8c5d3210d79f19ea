package auth

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NuxGame/dbfailover/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-hmac-256"

func makeToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "ops-user",
		"iss":   "test-issuer",
		"aud":   "test-audience",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "failover:read failover:admin",
	}
}

func testAuthConfig() config.AdminAuthConfig {
	return config.AdminAuthConfig{
		Enabled:   true,
		JWTSecret: testSecret,
		Issuer:    "test-issuer",
		Audience:  "test-audience",
		Scopes:    []string{"failover:read", "failover:admin"},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func guarded(cfg config.AdminAuthConfig, inner http.HandlerFunc) http.Handler {
	if inner == nil {
		inner = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}
	}
	return Middleware(cfg, testLogger())(inner)
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("response is not JSON: %v (%q)", err, body)
	}
	code, _ := resp["error_code"].(string)
	return code
}

func TestMiddleware_ValidToken(t *testing.T) {
	token := makeToken(t, validClaims())

	var capturedClaims *Claims
	handler := guarded(testAuthConfig(), func(w http.ResponseWriter, r *http.Request) {
		capturedClaims, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/switch-primary", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if capturedClaims == nil {
		t.Fatal("expected claims in context")
	}
	if capturedClaims.Subject != "ops-user" {
		t.Errorf("expected sub ops-user, got %q", capturedClaims.Subject)
	}
	if len(capturedClaims.Scopes) != 2 {
		t.Errorf("expected 2 scopes, got %d", len(capturedClaims.Scopes))
	}
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	token := makeToken(t, claims)

	handler := guarded(testAuthConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "FAILOVER_AUTH_INVALID_TOKEN" {
		t.Errorf("error_code = %q", code)
	}
}

func TestMiddleware_WrongAudience(t *testing.T) {
	claims := validClaims()
	claims["aud"] = "wrong-audience"
	token := makeToken(t, claims)

	handler := guarded(testAuthConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_WrongIssuer(t *testing.T) {
	claims := validClaims()
	claims["iss"] = "wrong-issuer"
	token := makeToken(t, claims)

	handler := guarded(testAuthConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_MissingScopes(t *testing.T) {
	claims := validClaims()
	claims["scope"] = "failover:read" // missing failover:admin
	token := makeToken(t, claims)

	handler := guarded(testAuthConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/switch-failover", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "FAILOVER_AUTH_INSUFFICIENT_SCOPE" {
		t.Errorf("error_code = %q", code)
	}
}

func TestMiddleware_MalformedToken(t *testing.T) {
	handler := guarded(testAuthConfig(), nil)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"no bearer prefix", "Token abc123"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not.a.valid.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestMiddleware_AuthDisabled(t *testing.T) {
	cfg := testAuthConfig()
	cfg.Enabled = false

	handler := guarded(cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMiddleware_WrongSigningMethod(t *testing.T) {
	// Token signed with HS384 instead of HS256.
	token := jwt.NewWithClaims(jwt.SigningMethodHS384, validClaims())
	tokenStr, _ := token.SignedString([]byte(testSecret))

	handler := guarded(testAuthConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	if claims, ok := FromContext(req.Context()); ok || claims != nil {
		t.Errorf("expected no claims, got %+v", claims)
	}
}

package pgshare

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestExtractTokenPrefersAuthorizationHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/conn?token=query-token", nil)
	r.Header.Set("Authorization", "Bearer header-token")

	tok, ok := ExtractToken(r)
	if !ok || tok != "header-token" {
		t.Errorf("expected header-token, got %q (ok=%v)", tok, ok)
	}
}

func TestExtractTokenFallsBackToQueryParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/conn?token=query-token", nil)

	tok, ok := ExtractToken(r)
	if !ok || tok != "query-token" {
		t.Errorf("expected query-token, got %q (ok=%v)", tok, ok)
	}
}

func TestExtractTokenMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/conn", nil)
	if _, ok := ExtractToken(r); ok {
		t.Errorf("expected no token to be found")
	}
}

func TestStaticTokenValidatorFromSecret(t *testing.T) {
	v := NewStaticTokenValidatorFromSecret("s3cr3t")
	if !v.Validate("s3cr3t") {
		t.Errorf("expected matching secret to validate")
	}
	if v.Validate("wrong") {
		t.Errorf("expected mismatched secret to fail")
	}
	if v.Validate("") {
		t.Errorf("expected empty token to fail")
	}
}

func TestStaticTokenValidatorReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %s", err)
	}

	v, err := NewStaticTokenValidator(NewLogger("test", LogLevelError), path)
	if err != nil {
		t.Fatalf("NewStaticTokenValidator returned error: %s", err)
	}
	defer v.Close()

	if !v.Validate("first") {
		t.Fatalf("expected initial secret to validate")
	}

	if err := os.WriteFile(path, []byte("second\n"), 0o600); err != nil {
		t.Fatalf("WriteFile returned error: %s", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v.Validate("second") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("expected rotated secret to validate within timeout")
}

func TestJWTTokenValidatorAcceptsValidToken(t *testing.T) {
	key := []byte("test-signing-key")
	claims := jwt.MapClaims{
		"sub": "tunnel-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString returned error: %s", err)
	}

	v := NewJWTTokenValidator(key, []string{"HS256"}, nil)
	if !v.Validate(signed) {
		t.Errorf("expected valid token to validate")
	}
}

func TestJWTTokenValidatorRejectsWrongConnID(t *testing.T) {
	key := []byte("test-signing-key")
	claims := jwt.MapClaims{
		"sub": "tunnel-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString returned error: %s", err)
	}

	other := mustParseUUID(t, "00000000-0000-0000-0000-000000000002")
	v := NewJWTTokenValidator(key, []string{"HS256"}, &other)
	if v.Validate(signed) {
		t.Errorf("expected token bound to a different connection id to be rejected")
	}
}

func TestJWTTokenValidatorRejectsExpiredToken(t *testing.T) {
	key := []byte("test-signing-key")
	claims := jwt.MapClaims{
		"sub": "tunnel-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString returned error: %s", err)
	}

	v := NewJWTTokenValidator(key, []string{"HS256"}, nil)
	if v.Validate(signed) {
		t.Errorf("expected expired token to be rejected")
	}
}

func mustParseUUID(t *testing.T, s string) ConnID {
	t.Helper()
	id, err := ParseConnID(s)
	if err != nil {
		t.Fatalf("ParseConnID(%q) returned error: %s", s, err)
	}
	return id
}

package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signInternalToken(t *testing.T, secret string, expiry time.Duration) string {
	t.Helper()
	claims := internalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestAuthorizeInternalAcceptsValidToken(t *testing.T) {
	token := signInternalToken(t, "top-secret", time.Hour)
	r := httptest.NewRequest(http.MethodPost, "/agent/run", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	if !authorizeInternal(r, "top-secret") {
		t.Fatalf("expected a validly-signed token to authorize")
	}
}

func TestAuthorizeInternalRejectsWrongSecret(t *testing.T) {
	token := signInternalToken(t, "top-secret", time.Hour)
	r := httptest.NewRequest(http.MethodPost, "/agent/run", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	if authorizeInternal(r, "different-secret") {
		t.Fatalf("expected a token signed with a different secret to be rejected")
	}
}

func TestAuthorizeInternalRejectsExpiredToken(t *testing.T) {
	token := signInternalToken(t, "top-secret", -time.Hour)
	r := httptest.NewRequest(http.MethodPost, "/agent/run", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	if authorizeInternal(r, "top-secret") {
		t.Fatalf("expected an expired token to be rejected")
	}
}

func TestAuthorizeInternalRejectsMissingHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/agent/run", nil)

	if authorizeInternal(r, "top-secret") {
		t.Fatalf("expected a request with no Authorization header to be rejected")
	}
}

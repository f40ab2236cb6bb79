package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	ts := NewTokenService("test-secret-key")

	token, err := ts.GenerateAccessToken("u42")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}
	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ts.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error: %v", err)
	}
	if claims.UserID != "u42" {
		t.Errorf("UserID = %q, want u42", claims.UserID)
	}
	if claims.Subject != "u42" {
		t.Errorf("Subject = %q, want u42", claims.Subject)
	}
}

func TestRejectExpiredToken(t *testing.T) {
	ts := NewTokenService("test-secret-key")

	token, err := ts.GenerateAccessTokenWithExpiry("u1", -1*time.Second) // already expired
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}

	_, err = ts.ValidateAccessToken(token)
	if err == nil {
		t.Error("ValidateAccessToken() should reject expired token")
	}
}

func TestRejectTamperedToken(t *testing.T) {
	ts := NewTokenService("test-secret-key")

	token, err := ts.GenerateAccessToken("u1")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}

	// Tamper with a character in the middle of the signature to avoid
	// base64 padding-bit ambiguity at the last position. For HMAC-SHA256
	// (32 bytes), the last base64url char has 2 padding bits that Go's
	// decoder ignores, so changing only those bits won't alter the
	// decoded signature (~6% of runs).
	sigStart := strings.LastIndex(token, ".") + 1
	mid := sigStart + (len(token)-sigStart)/2
	b := token[mid]
	if b == 'A' {
		b = 'B'
	} else {
		b = 'A'
	}
	tampered := token[:mid] + string(b) + token[mid+1:]

	_, err = ts.ValidateAccessToken(tampered)
	if err == nil {
		t.Error("ValidateAccessToken() should reject tampered token")
	}
}

func TestRejectWrongSigningMethod(t *testing.T) {
	// Create a token with a different signing method (none)
	claims := Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing with none: %v", err)
	}

	ts := NewTokenService("test-secret-key")
	_, err = ts.ValidateAccessToken(tokenString)
	if err == nil {
		t.Error("ValidateAccessToken() should reject token with 'none' signing method")
	}
}

func TestRejectMissingUserID(t *testing.T) {
	ts := NewTokenService("test-secret-key")

	if _, err := ts.GenerateAccessToken(""); err != ErrMissingUserID {
		t.Errorf("GenerateAccessToken(\"\") error = %v, want ErrMissingUserID", err)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	if _, err := ts.ValidateAccessToken(token); err != ErrMissingUserID {
		t.Errorf("ValidateAccessToken() error = %v, want ErrMissingUserID", err)
	}
}

func TestRejectOtherSecret(t *testing.T) {
	issuer := NewTokenService("secret-a")
	verifier := NewTokenService("secret-b")

	token, err := issuer.GenerateAccessToken("u1")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error: %v", err)
	}
	if _, err := verifier.ValidateAccessToken(token); err == nil {
		t.Error("ValidateAccessToken() should reject token signed with another secret")
	}
}

// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens and weak secrets

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-for-jwt-signing-0123456789")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("planner-1", RoleAgent, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	p, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if p.Subject != "planner-1" {
		t.Errorf("Subject = %q, want %q", p.Subject, "planner-1")
	}
	if p.Role != RoleAgent {
		t.Errorf("Role = %q, want %q", p.Role, RoleAgent)
	}
}

func TestJWTVerifier_DefaultRoleAndNoExpiry(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate("dashboard", "", 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	p, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if p.Role != RoleClient {
		t.Errorf("Role = %q, want %q", p.Role, RoleClient)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	other, err := NewJWTVerifier([]byte("a-completely-different-secret-of-length"))
	if err != nil {
		t.Fatal(err)
	}
	wrongSecret, _ := other.Generate("planner-1", RoleAgent, time.Hour)

	foreignIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  "someone-else",
		Subject: "planner-1",
	}).SignedString(testSecret)

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: Issuer,
	}).SignedString(testSecret)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty token", "", ErrMissingToken},
		{"garbage token", "not-a-jwt-token", ErrInvalidToken},
		{"malformed JWT", "header.payload.signature", ErrInvalidToken},
		{"wrong secret", wrongSecret, ErrInvalidToken},
		{"foreign issuer", foreignIssuer, ErrInvalidToken},
		{"missing subject", noSubject, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)
	verifier.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := verifier.Generate("planner-1", RoleAgent, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	verifier.now = time.Now
	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	if !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewJWTVerifier() error = %v, want ErrWeakSecret", err)
	}
}

func TestGenerate_EmptySubject(t *testing.T) {
	verifier := newTestVerifier(t)
	if _, err := verifier.Generate("", RoleAgent, time.Hour); err == nil {
		t.Error("Generate() should reject an empty subject")
	}
}

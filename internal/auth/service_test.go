package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, c claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, c).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims(sub string, exp time.Time) claims {
	return claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		},
		Role: "member",
	}
}

func TestValidateToken_Valid(t *testing.T) {
	svc := NewService(testSecret)
	id := uuid.New()
	tok := sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(id.String(), time.Now().Add(time.Hour)))

	got, role, err := svc.ValidateToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got != id || role != "member" {
		t.Errorf("got (%s, %q), want (%s, %q)", got, role, id, "member")
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := NewService(testSecret)
	id := uuid.New().String()
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims(id, future))},
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(id, time.Now().Add(-time.Minute)))},
		{"non-uuid subject", sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("alice", future))},
		{"other hmac alg", sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(id, future))},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		if _, _, err := svc.ValidateToken(context.Background(), tt.token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: got %v, want %v", tt.name, err, ErrInvalidToken)
		}
	}
}

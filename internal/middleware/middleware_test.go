package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubValidator struct {
	id    uuid.UUID
	role  string
	err   error
	token string
}

func (s *stubValidator) ValidateToken(_ context.Context, token string) (uuid.UUID, string, error) {
	s.token = token
	return s.id, s.role, s.err
}

// okHandler writes 200 and the user id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if id := UserIDFromCtx(r.Context()); id != uuid.Nil {
		w.Write([]byte(id.String()))
	}
	w.WriteHeader(http.StatusOK)
})

// ---------------------------------------------------------------------------
// BearerAuth
// ---------------------------------------------------------------------------

func TestBearerAuth_ValidToken(t *testing.T) {
	v := &stubValidator{id: uuid.New(), role: "member"}
	var role string
	h := BearerAuth(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role = RoleFromCtx(r.Context())
		okHandler(w, r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer  tok-123 ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != v.id.String() {
		t.Errorf("expected user id %q in body, got %q", v.id, body)
	}
	if v.token != "tok-123" {
		t.Errorf("token passed to validator: got %q, want %q", v.token, "tok-123")
	}
	if role != "member" {
		t.Errorf("role: got %q, want member", role)
	}
}

func TestBearerAuth_MissingHeader(t *testing.T) {
	h := BearerAuth(&stubValidator{})(okHandler)
	for _, header := range []string{"", "Basic abc", "Bearer"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestBearerAuth_InvalidToken(t *testing.T) {
	h := BearerAuth(&stubValidator{err: errors.New("expired")})(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// AdminKey
// ---------------------------------------------------------------------------

func TestAdminKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	tests := []struct {
		name string
		hash string
		key  string
		want int
	}{
		{"match", string(hash), "s3cret", http.StatusOK},
		{"wrong key", string(hash), "guess", http.StatusUnauthorized},
		{"missing key", string(hash), "", http.StatusUnauthorized},
		{"disabled", "", "s3cret", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.key != "" {
			req.Header.Set(AdminKeyHeader, tt.key)
		}
		rec := httptest.NewRecorder()
		AdminKey(tt.hash)(okHandler).ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, rec.Code, tt.want)
		}
	}
}

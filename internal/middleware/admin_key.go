package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKey admits requests whose X-Admin-Key matches the configured bcrypt
// hash. An empty hash disables the admin surface.
func AdminKey(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				http.Error(w, `{"error":"admin access disabled"}`, http.StatusForbidden)
				return
			}
			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				http.Error(w, `{"error":"missing admin key"}`, http.StatusUnauthorized)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
				http.Error(w, `{"error":"invalid admin key"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

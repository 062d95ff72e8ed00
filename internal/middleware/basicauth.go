package middleware

import (
	"crypto/subtle"
	"net/http"
)

// NewBasicAuthMiddleware guards the admin surface (spec.md §6 "GET
// /api/admin/config (basic auth)"): constant-time username/password
// comparison against the configured ADMIN_USERNAME/ADMIN_PASSWORD,
// grounded on original_source/src/handlers/admin.rs's AdminAuthValidator.
func NewBasicAuthMiddleware(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !credentialsMatch(user, username) || !credentialsMatch(pass, password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func credentialsMatch(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

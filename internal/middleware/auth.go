package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/poe2oai/gateway/internal/apierror"
	"github.com/poe2oai/gateway/internal/emit"
)

type bearerTokenKey struct{}

// BearerToken returns the token extracted by AuthMiddleware, if any.
func BearerToken(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(bearerTokenKey{}).(string)
	return tok, ok
}

type AuthMiddleware struct {
	logger *slog.Logger
}

// NewAuthMiddleware validates the inbound Authorization header and forwards
// the bearer token to the upstream as-is (spec.md §6: "token is forwarded
// to the upstream as-is. Missing/malformed → 401"). There is no local
// secret to check the token against — the gateway does not gate access by
// its own API key, it relays whatever bearer token the client presents.
func NewAuthMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{logger: logger}
	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			am.logger.Warn("missing or malformed authorization header", "remote_addr", r.RemoteAddr)
			emit.WriteError(w, apierror.InvalidAuth())
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" {
			emit.WriteError(w, apierror.InvalidAuth())
			return
		}

		ctx := context.WithValue(r.Context(), bearerTokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

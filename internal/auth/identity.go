// Package auth identifies callers from a trusted proxy header and guards
// state-changing requests with per-user CSRF tokens.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type userKey struct{}

// WithUser returns a context carrying the caller's identity.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the identity stored by the Identity middleware.
func UserFrom(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok && user != ""
}

// Identity reads the caller from header, which the fronting proxy sets after
// authenticating the session. Requests without it are rejected with 401.
func Identity(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get(header))
			if user == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

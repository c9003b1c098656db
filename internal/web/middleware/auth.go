package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/znz-systems/boxmeta/internal/auth"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey string

// PrincipalContextKey is the context key used to store the calling principal.
const PrincipalContextKey contextKey = "principal"

// PrincipalHeader carries the principal asserted by the trusted front end.
const PrincipalHeader = "X-Principal"

// RequireToken returns middleware that rejects requests without a valid
// bearer token. When the verifier has no hash configured every request
// passes.
func RequireToken(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier.Enabled() {
				if err := verifier.Verify(bearerToken(r.Header.Get("Authorization"))); err != nil {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "unauthorized",
					})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(headerValue string) string {
	headerValue = strings.TrimSpace(headerValue)
	const prefix = "Bearer "
	if !strings.HasPrefix(headerValue, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(headerValue, prefix))
}

// Principal stores the principal named by the X-Principal header in the
// request context. A missing header means the anonymous principal.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := strings.TrimSpace(r.Header.Get(PrincipalHeader))
		ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext returns the calling principal, or "" (anonymous).
func PrincipalFromContext(ctx context.Context) string {
	principal, _ := ctx.Value(PrincipalContextKey).(string)
	return principal
}

package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/znz-systems/boxmeta/internal/ratelimit"
)

// RateLimit returns middleware that rate-limits requests per principal, or
// per client IP for anonymous requests. It must run after Principal. When
// the rate limit is exceeded, it responds with a 429 Too Many Requests
// status and a JSON error body.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := PrincipalFromContext(r.Context())
			if key == "" {
				ip, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					// If RemoteAddr has no port, use it as-is.
					ip = r.RemoteAddr
				}
				key = "ip:" + ip
			} else {
				key = "principal:" + key
			}

			if !limiter.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Package auth gates the admin surface behind API keys with per-key
// rate limiting. The webhook, health and metrics endpoints stay open;
// the webhook carries its own HMAC verification.
package auth

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"formflow/pkg/logger"
	"formflow/pkg/utils"
)

// SecConfig drives admin authentication and rate limiting.
type SecConfig struct {
	RPS         float64
	Burst       int
	BackendKeys map[string]struct{}
}

// RequireAPIKey returns middleware that admits only requests carrying a
// configured backend key in X-API-Key (or "Bearer <key>"), and rate
// limits per key.
func RequireAPIKey(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.LogRequest(r)

			key := extractKey(r)
			if key == "" || !keyConfigured(key, cfg.BackendKeys) {
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				return
			}
			if !limiters.Allow(key) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("request_rate_limited", "path", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns middleware that rate limits unauthenticated
// endpoints per client IP.
func RateLimitByIP(cfg SecConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.Allow(clientIP(r)) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
	}
	return ""
}

func keyConfigured(key string, keys map[string]struct{}) bool {
	// constant-time over the candidate set
	ok := false
	for k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			ok = true
		}
	}
	return ok
}

func clientIP(r *http.Request) string {
	if h := r.Header.Get("X-Forwarded-For"); h != "" {
		parts := strings.Split(h, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// AdminSecretHeader carries the shared secret of admin requests.
const AdminSecretHeader = "X-Admin-Secret"

// AdminAuth returns middleware guarding admin routes.
//
// With a non-empty secret the X-Admin-Secret header must match it. With an
// empty secret only loopback clients pass. Rejected requests get 401.
func AdminAuth(secret string) func(http.Handler) http.Handler {
	if secret == "" {
		slog.Warn("auth: ADMIN_SHARED_SECRET is not set, admin routes accept loopback clients only")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				if !validSecret(r.Header.Get(AdminSecretHeader), secret) {
					slog.Warn("auth: invalid admin secret",
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
					)
					writeAuthError(w, http.StatusUnauthorized, "unauthorized", "AUTH_INVALID_SECRET")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if !IsLoopback(r.RemoteAddr) {
				slog.Warn("auth: non-local admin request without a configured secret",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "unauthorized (local-only)", "AUTH_LOCAL_ONLY")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validSecret compares in constant time.
func validSecret(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// IsLoopback reports whether addr (host:port or a plain IP) is a loopback address.
func IsLoopback(addr string) bool {
	if addr == "localhost" {
		return true
	}
	ip := ExtractIP(addr)
	return ip != nil && ip.IsLoopback()
}

// RateLimit returns middleware that admits requests while limiter has tokens
// and answers 429 with a Retry-After header otherwise.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reservation := limiter.Reserve()
			if !reservation.OK() {
				writeAuthError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
				return
			}
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(delay.Round(time.Second)/time.Second)+1))
				writeAuthError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PerMinute builds a limiter allowing n requests per minute with a burst of n.
func PerMinute(n int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

func writeAuthError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":` + strconv.Quote(message) + `,"code":` + strconv.Quote(code) + `}`))
}

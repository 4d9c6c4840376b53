package ratelimit

import (
	"encoding/json"
	"net/http"
)

// Middleware returns a chi-compatible middleware enforcing l's limits on
// every request, matching internal/api/middleware/apikey.go's style of a
// thin struct wrapping a Handler-returning method.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := l.ClientIP(r)
		dec := l.Check(clientIP, r.URL.Path)
		for k, v := range dec.Headers() {
			w.Header()[k] = v
		}
		if !dec.Allowed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error":       "rate_limit_exceeded",
				"retry_after": dec.RetryAfter.Seconds(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

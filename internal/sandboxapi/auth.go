package sandboxapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

const minAPIKeyLen = 32

// auth enforces the loopback control surface's mandatory X-API-Key header:
// keys under 32 characters are rejected with 503. This surface is never
// optional — a misconfigured (too-short) key is a deploy-time error, not
// a feature flag, so it fails every request instead of silently opening
// the sandbox up to anything on loopback.
type auth struct {
	key           string
	misconfigured bool
}

func newAuth(apiKey string) *auth {
	return &auth{key: apiKey, misconfigured: len(apiKey) < minAPIKeyLen}
}

func (a *auth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if a.misconfigured {
			respond(w, http.StatusServiceUnavailable, map[string]string{
				"error": "sandbox api key is not configured (must be >= 32 chars)",
			})
			return
		}
		candidate := r.Header.Get("X-API-Key")
		if len(candidate) < minAPIKeyLen || subtle.ConstantTimeCompare([]byte(candidate), []byte(a.key)) != 1 {
			respond(w, http.StatusServiceUnavailable, map[string]string{
				"error": "missing or invalid X-API-Key",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcpbox/control-plane/internal/ratelimit"
	"github.com/stretchr/testify/require"
)

func TestCheckEnforcesBurstSize(t *testing.T) {
	l := ratelimit.NewLimiter(nil)

	allowed := 0
	for i := 0; i < 20; i++ {
		d := l.Check("1.2.3.4", "/api/v1/tools/run")
		if d.Allowed {
			allowed++
		}
	}
	require.Equal(t, 15, allowed) // burst size for the /api/v1/tools/ prefix
}

func TestCheckEnforcesLoginAttemptLimit(t *testing.T) {
	l := ratelimit.NewLimiter(nil)

	allowed := 0
	for i := 0; i < 8; i++ {
		d := l.Check("5.5.5.5", "/api/v1/auth/login")
		if d.Allowed {
			allowed++
		}
	}
	require.Equal(t, 5, allowed)

	d := l.Check("5.5.5.5", "/api/v1/auth/login")
	require.False(t, d.Allowed)
	require.NotZero(t, d.RetryAfter)
}

func TestCheckBucketsAreIsolatedPerIP(t *testing.T) {
	l := ratelimit.NewLimiter(nil)
	for i := 0; i < 15; i++ {
		require.True(t, l.Check("1.1.1.1", "/mcp").Allowed)
	}
	require.False(t, l.Check("1.1.1.1", "/mcp").Allowed)
	require.True(t, l.Check("2.2.2.2", "/mcp").Allowed)
}

func TestClientIPIgnoresForwardedHeaderWithoutTrustedProxy(t *testing.T) {
	l := ratelimit.NewLimiter(nil)
	r := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	r.RemoteAddr = "9.9.9.9:1234"
	r.Header.Set("X-Forwarded-For", "6.6.6.6")

	require.Equal(t, "9.9.9.9", l.ClientIP(r))
}

func TestClientIPTrustsForwardedHeaderFromTrustedProxy(t *testing.T) {
	l := ratelimit.NewLimiter(map[string]bool{"9.9.9.9": true})
	r := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	r.RemoteAddr = "9.9.9.9:1234"
	r.Header.Set("X-Forwarded-For", "6.6.6.6, 7.7.7.7")

	require.Equal(t, "6.6.6.6", l.ClientIP(r))
}

func TestMiddlewareRejectsWithHeaders(t *testing.T) {
	l := ratelimit.NewLimiter(nil)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 15; i++ {
		r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		r.RemoteAddr = "3.3.3.3:1"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
	}

	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.RemoteAddr = "3.3.3.3:1"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

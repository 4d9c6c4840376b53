// Package ratelimit implements a per-(client-ip, path-prefix) token
// bucket + sliding window limiter, trusting X-Forwarded-For only from a
// configured set of proxy IPs.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PathConfig is the limit configuration for requests matching a path
// prefix.
type PathConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
	BurstSize         int
}

var defaultConfig = PathConfig{RequestsPerMinute: 100, RequestsPerHour: 2000, BurstSize: 20}

type bucket struct {
	tokens         float64
	lastUpdate     time.Time
	minuteRequests []time.Time
	hourRequests   []time.Time
}

// Decision is the outcome of a rate-limit check, including the headers a
// handler should attach to its response.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	LimitHour  int
	RemHour    int
	RetryAfter time.Duration
}

func (d Decision) Headers() http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Limit-Hour", strconv.Itoa(d.LimitHour))
	h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(d.RemHour))
	if !d.Allowed {
		secs := int(d.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		h.Set("Retry-After", strconv.Itoa(secs))
	}
	return h
}

// Limiter is an in-memory, single-instance rate limiter keyed by
// client-ip + path prefix.
type Limiter struct {
	mu              sync.Mutex
	buckets         map[string]*bucket
	pathConfigs     []pathEntry
	defaultConfig   PathConfig
	trustedProxies  map[string]bool
}

type pathEntry struct {
	prefix string
	config PathConfig
}

// NewLimiter builds a limiter with MCPbox's default per-path configuration:
// a tight login-attempt bucket (5/min, so a 6th attempt inside 60s gets a
// 429), lenient health checks, moderate limits on tool execution and the
// MCP gateway itself, and a more generous catch-all (100/min, burst 20).
func NewLimiter(trustedProxies map[string]bool) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		pathConfigs: []pathEntry{
			{"/api/v1/auth/login", PathConfig{RequestsPerMinute: 5, RequestsPerHour: 20, BurstSize: 5}},
			{"/health", PathConfig{RequestsPerMinute: 30, RequestsPerHour: 600, BurstSize: 10}},
			{"/sandbox/health", PathConfig{RequestsPerMinute: 30, RequestsPerHour: 600, BurstSize: 10}},
			{"/api/v1/tools/", PathConfig{RequestsPerMinute: 60, RequestsPerHour: 1000, BurstSize: 15}},
			{"/mcp", PathConfig{RequestsPerMinute: 60, RequestsPerHour: 1000, BurstSize: 15}},
		},
		defaultConfig:  defaultConfig,
		trustedProxies: trustedProxies,
	}
}

func (l *Limiter) configFor(path string) (string, PathConfig) {
	for _, e := range l.pathConfigs {
		if strings.HasPrefix(path, e.prefix) {
			return e.prefix, e.config
		}
	}
	return "default", l.defaultConfig
}

// Check applies the token-bucket + sliding-window algorithm for one
// request and mutates bucket state for clientIP+path accordingly.
func (l *Limiter) Check(clientIP, path string) Decision {
	bucketKey, cfg := l.configFor(path)
	key := clientIP + ":" + bucketKey

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(cfg.BurstSize), lastUpdate: time.Now()}
		l.buckets[key] = b
	}

	now := time.Now()
	b.minuteRequests = pruneBefore(b.minuteRequests, now.Add(-time.Minute))
	b.hourRequests = pruneBefore(b.hourRequests, now.Add(-time.Hour))

	minuteRemaining := cfg.RequestsPerMinute - len(b.minuteRequests)
	hourRemaining := cfg.RequestsPerHour - len(b.hourRequests)

	dec := Decision{
		Limit:     cfg.RequestsPerMinute,
		Remaining: max0(minuteRemaining - 1),
		LimitHour: cfg.RequestsPerHour,
		RemHour:   max0(hourRemaining - 1),
	}

	if minuteRemaining <= 0 {
		dec.RetryAfter = retryAfter(b.minuteRequests, now, time.Minute)
		return dec
	}
	if hourRemaining <= 0 {
		dec.RetryAfter = retryAfter(b.hourRequests, now, time.Hour)
		return dec
	}

	elapsed := now.Sub(b.lastUpdate).Seconds()
	refillRate := float64(cfg.RequestsPerMinute) / 60.0
	b.tokens = minFloat(float64(cfg.BurstSize), b.tokens+elapsed*refillRate)
	b.lastUpdate = now

	if b.tokens < 1.0 {
		dec.RetryAfter = time.Second
		return dec
	}

	b.tokens -= 1.0
	b.minuteRequests = append(b.minuteRequests, now)
	b.hourRequests = append(b.hourRequests, now)
	dec.Allowed = true
	return dec
}

// CleanupInactive removes buckets idle for longer than inactive, returning
// the number removed. Intended to run on a periodic goroutine so abandoned
// client IPs don't grow the map without bound.
func (l *Limiter) CleanupInactive(inactive time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-inactive)
	removed := 0
	for key, b := range l.buckets {
		if b.lastUpdate.Before(cutoff) && len(b.minuteRequests) == 0 && len(b.hourRequests) == 0 {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// ClientIP extracts the client address from r, trusting X-Forwarded-For/
// X-Real-IP only when the direct peer is in trustedProxies — otherwise
// those headers are attacker-controlled and would let a client spoof its
// way around its own rate limit bucket.
func (l *Limiter) ClientIP(r *http.Request) string {
	direct, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		direct = r.RemoteAddr
	}

	if len(l.trustedProxies) > 0 && l.trustedProxies[direct] {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			candidate := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
		if real := r.Header.Get("X-Real-IP"); real != "" && net.ParseIP(real) != nil {
			return real
		}
	}

	if direct != "" {
		return direct
	}
	return "unknown"
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func retryAfter(ts []time.Time, now time.Time, window time.Duration) time.Duration {
	if len(ts) == 0 {
		return time.Second
	}
	oldest := ts[0]
	for _, t := range ts {
		if t.Before(oldest) {
			oldest = t
		}
	}
	d := window - now.Sub(oldest)
	if d < time.Second {
		d = time.Second
	}
	return d
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

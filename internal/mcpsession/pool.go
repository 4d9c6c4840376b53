// Package mcpsession pools upstream MCP client sessions for MCPbox's
// external-source gateway path, so a tools/call against an external MCP
// server reuses its already-initialized session instead of paying a new
// handshake + initialize round trip on every call.
package mcpsession

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultMaxAge    = 5 * time.Minute
	defaultMaxSize   = 50
	maxRetries       = 3
	retryBaseDelay   = 500 * time.Millisecond
	retryMaxDelay    = 5 * time.Second
)

var transientSubstrings = []string{"timed out", "timeout", "connection refused", "connection reset"}
var transientHTTPCodes = []string{"http 429", "http 502", "http 503", "http 504"}

// Client is an upstream MCP client session; implementations own the
// transport (HTTP/SSE) to one external MCP server.
type Client interface {
	Open(ctx context.Context) error
	Initialize(ctx context.Context) error
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (map[string]interface{}, error)
	ListTools(ctx context.Context) ([]map[string]interface{}, error)
	Close() error
}

// ClientFactory constructs a new, unopened Client for a URL + auth header
// combination.
type ClientFactory func(url string, authHeaders map[string]string) Client

// TransientError wraps an upstream error the caller should classify as
// retryable (timeouts, connection resets, 429/502/503/504 responses).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(*TransientError); ok {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientSubstrings {
		if strings.Contains(msg, p) {
			return true
		}
	}
	for _, c := range transientHTTPCodes {
		if strings.Contains(msg, c) {
			return true
		}
	}
	return false
}

type poolEntry struct {
	mu          sync.Mutex
	url         string
	authHeaders map[string]string
	client      Client
	initialized bool
	createdAt   time.Time
	lastUsedAt  time.Time
}

func (e *poolEntry) age() time.Duration { return time.Since(e.createdAt) }

func (e *poolEntry) ensureInitialized(ctx context.Context) error {
	if !e.initialized {
		if err := e.client.Open(ctx); err != nil {
			return err
		}
		if err := e.client.Initialize(ctx); err != nil {
			return err
		}
		e.initialized = true
	}
	e.lastUsedAt = time.Now()
	return nil
}

func (e *poolEntry) callTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	return e.client.CallTool(ctx, name, args)
}

func (e *poolEntry) listTools(ctx context.Context) ([]map[string]interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	return e.client.ListTools(ctx)
}

func (e *poolEntry) healthCheck(ctx context.Context) (healthy bool, latencyMS int64, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	if err := e.client.Open(ctx); err != nil {
		return false, time.Since(start).Milliseconds(), err.Error()
	}
	if err := e.client.Initialize(ctx); err != nil {
		return false, time.Since(start).Milliseconds(), err.Error()
	}
	e.initialized = true
	return true, time.Since(start).Milliseconds(), ""
}

func (e *poolEntry) close() {
	_ = e.client.Close()
	e.initialized = false
}

func poolKey(url string, authHeaders map[string]string) string {
	keys := make([]string, 0, len(authHeaders))
	for k := range authHeaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s;", k, authHeaders[k])
	}
	sum := sha256.Sum256([]byte(url + "|" + b.String()))
	return url + "#" + hex.EncodeToString(sum[:])[:16]
}

// Pool is a bounded LRU pool of upstream MCP sessions, keyed by
// URL+auth-header combination.
type Pool struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *poolEntry]
	maxAge  time.Duration
	factory ClientFactory
}

func NewPool(factory ClientFactory, maxSize int, maxAge time.Duration) *Pool {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	cache, _ := lru.NewWithEvict[string, *poolEntry](maxSize, func(_ string, entry *poolEntry) {
		entry.close()
	})
	return &Pool{entries: cache, maxAge: maxAge, factory: factory}
}

func (p *Pool) getOrCreate(url string, authHeaders map[string]string) *poolEntry {
	key := poolKey(url, authHeaders)

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries.Get(key); ok {
		if entry.age() > p.maxAge {
			p.entries.Remove(key) // triggers onEvicted close
		} else {
			return entry
		}
	}

	entry := &poolEntry{
		url:         url,
		authHeaders: authHeaders,
		client:      p.factory(url, authHeaders),
		createdAt:   time.Now(),
		lastUsedAt:  time.Now(),
	}
	p.entries.Add(key, entry)
	return entry
}

func (p *Pool) evict(url string, authHeaders map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries.Remove(poolKey(url, authHeaders))
}

// CallOutcome is the uniform success/error shape returned to the gateway.
type CallOutcome struct {
	Success bool                   `json:"success"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Tools   []map[string]interface{} `json:"tools,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// CallTool calls a tool on the external server at url, retrying transient
// errors with exponential backoff and evicting the broken session between
// attempts so the next attempt reconnects cleanly.
func (p *Pool) CallTool(ctx context.Context, url, toolName string, args map[string]interface{}, authHeaders map[string]string) CallOutcome {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		entry := p.getOrCreate(url, authHeaders)
		result, err := entry.callTool(ctx, toolName, args)
		if err == nil {
			return CallOutcome{Success: true, Result: result}
		}

		lastErr = err
		p.evict(url, authHeaders)

		if !isTransient(err) || attempt == maxRetries {
			break
		}
		delay := backoffDelay(attempt)
		log.Warn().Str("url", url).Str("tool", toolName).Int("attempt", attempt+1).Dur("delay", delay).Err(err).Msg("transient error calling external MCP tool, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return CallOutcome{Success: false, Error: ctx.Err().Error()}
		}
	}
	return CallOutcome{Success: false, Error: lastErr.Error()}
}

// DiscoverTools lists tools on the external server at url, with the same
// retry/eviction behavior as CallTool.
func (p *Pool) DiscoverTools(ctx context.Context, url string, authHeaders map[string]string) CallOutcome {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		entry := p.getOrCreate(url, authHeaders)
		tools, err := entry.listTools(ctx)
		if err == nil {
			return CallOutcome{Success: true, Tools: tools}
		}

		lastErr = err
		p.evict(url, authHeaders)

		if !isTransient(err) || attempt == maxRetries {
			break
		}
		delay := backoffDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return CallOutcome{Success: false, Error: ctx.Err().Error()}
		}
	}
	return CallOutcome{Success: false, Error: lastErr.Error(), Tools: []map[string]interface{}{}}
}

// HealthCheck reports connectivity to the external server at url,
// evicting the session on failure so the next call reconnects.
func (p *Pool) HealthCheck(ctx context.Context, url string, authHeaders map[string]string) (healthy bool, latencyMS int64, errMsg string) {
	entry := p.getOrCreate(url, authHeaders)
	healthy, latencyMS, errMsg = entry.healthCheck(ctx)
	if !healthy {
		p.evict(url, authHeaders)
	}
	return healthy, latencyMS, errMsg
}

// EvictBySourceURL removes every pooled session for sourceURL, called
// when an ExternalMCPSource's config changes.
func (p *Pool) EvictBySourceURL(sourceURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range p.entries.Keys() {
		entry, ok := p.entries.Peek(key)
		if ok && entry.url == sourceURL {
			p.entries.Remove(key)
		}
	}
}

// CloseAll closes every pooled session, called on process shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries.Purge()
}

// Size returns the current number of pooled sessions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries.Len()
}

func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

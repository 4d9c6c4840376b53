package mcpsession

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// protocolVersionPrimary/Fallback are negotiated during initialize: try
// the newer version first, fall back to the older one if the server
// rejects it.
const (
	protocolVersionPrimary  = "2025-03-26"
	protocolVersionFallback = "2024-11-05"
)

type jsonrpcEnvelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonrpcError) Error() string { return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message) }

var requestID int64

func nextID() int64 { return atomic.AddInt64(&requestID, 1) }

// HTTPClient is the real transport behind the Client interface: HTTP POST
// of JSON-RPC 2.0, accepting either a direct application/json response or
// an SSE text/event-stream one, and tracking the Mcp-Session-Id the server
// hands back at initialize.
type HTTPClient struct {
	url         string
	authHeaders map[string]string
	httpClient  *http.Client

	sessionID       string
	protocolVersion string
}

// NewHTTPClientFactory builds a ClientFactory plugged into mcpsession.Pool,
// sharing one *http.Client (and its connection pool/transport-level
// timeouts) across every session the pool opens.
func NewHTTPClientFactory(httpClient *http.Client) ClientFactory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return func(url string, authHeaders map[string]string) Client {
		return &HTTPClient{url: url, authHeaders: authHeaders, httpClient: httpClient}
	}
}

// Open is a no-op: the underlying http.Client dials lazily on first
// request, and pooled keep-alive connections make an explicit dial step
// pointless.
func (c *HTTPClient) Open(_ context.Context) error { return nil }

func (c *HTTPClient) Initialize(ctx context.Context) error {
	version := protocolVersionPrimary
	_, header, err := c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": version,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "mcpbox-gateway", "version": "1"},
	})
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "transient") {
		// retry once with the older protocol version before giving up
		version = protocolVersionFallback
		_, header, err = c.call(ctx, "initialize", map[string]interface{}{
			"protocolVersion": version,
			"capabilities":    map[string]interface{}{},
			"clientInfo":      map[string]interface{}{"name": "mcpbox-gateway", "version": "1"},
		})
	}
	if err != nil {
		return err
	}
	c.protocolVersion = version
	if sid := header.Get("Mcp-Session-Id"); sid != "" {
		c.sessionID = sid
	}

	// notifications/initialized carries no id and expects no response;
	// fire-and-forget, matching the MCP handshake.
	c.notify(ctx, "notifications/initialized", nil)
	return nil
}

func (c *HTTPClient) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (map[string]interface{}, error) {
	result, _, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) ListTools(ctx context.Context) ([]map[string]interface{}, error) {
	result, _, err := c.call(ctx, "tools/list", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Tools []map[string]interface{} `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return parsed.Tools, nil
}

// Close ends the session with a DELETE carrying the session id. This is
// best-effort; the server may have already dropped it.
func (c *HTTPClient) Close() error {
	if c.sessionID == "" {
		return nil
	}
	req, err := http.NewRequest(http.MethodDelete, c.url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Mcp-Session-Id", c.sessionID)
	c.applyAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	return nil
}

func (c *HTTPClient) applyAuth(req *http.Request) {
	for k, v := range c.authHeaders {
		req.Header.Set(k, v)
	}
}

// call sends a JSON-RPC request expecting a response and returns its raw
// result payload plus the response headers (used to capture
// Mcp-Session-Id on initialize).
func (c *HTTPClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, http.Header, error) {
	envelope := jsonrpcEnvelope{Jsonrpc: "2.0", ID: nextID(), Method: method, Params: params}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal mcp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build mcp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if c.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.Header, err
	}

	contentType := resp.Header.Get("Content-Type")
	var parsed *jsonrpcEnvelope
	if strings.Contains(contentType, "text/event-stream") {
		parsed, err = parseSSEEnvelope(resp.Body)
	} else {
		parsed, err = parseJSONEnvelope(resp.Body)
	}
	if err != nil {
		return nil, resp.Header, err
	}
	if parsed.Error != nil {
		return nil, resp.Header, parsed.Error
	}
	return parsed.Result, resp.Header, nil
}

// notify sends a JSON-RPC notification (no id) and discards the response;
// MCP notifications never carry a reply.
func (c *HTTPClient) notify(ctx context.Context, method string, params interface{}) {
	envelope := struct {
		Jsonrpc string      `json:"jsonrpc"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params,omitempty"`
	}{Jsonrpc: "2.0", Method: method, Params: params}
	body, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", c.sessionID)
	}
	c.applyAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
}

func parseJSONEnvelope(r io.Reader) (*jsonrpcEnvelope, error) {
	var env jsonrpcEnvelope
	if err := json.NewDecoder(io.LimitReader(r, 10<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode mcp response: %w", err)
	}
	return &env, nil
}

// parseSSEEnvelope scans an SSE response for "data: " lines and returns
// the first one that decodes into an envelope carrying a result or an
// error — the rest of the stream (keep-alive comments, other event types)
// is ignored.
func parseSSEEnvelope(r io.Reader) (*jsonrpcEnvelope, error) {
	scanner := bufio.NewScanner(io.LimitReader(r, 10<<20))
	scanner.Buffer(make([]byte, 64*1024), 10<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		var env jsonrpcEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			continue // not every "data:" line is necessarily JSON-RPC (e.g. keep-alives)
		}
		if env.Result != nil || env.Error != nil {
			return &env, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sse stream: %w", err)
	}
	return nil, fmt.Errorf("sse stream ended without a result or error event")
}

func classifyTransportError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "eof") {
		return &TransientError{Err: err}
	}
	return err
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusOK, http.StatusAccepted:
		return nil
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &TransientError{Err: fmt.Errorf("http %d", code)}
	default:
		if code >= 200 && code < 300 {
			return nil
		}
		return fmt.Errorf("http %d", code)
	}
}

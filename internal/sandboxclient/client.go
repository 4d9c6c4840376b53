// Package sandboxclient is the control plane's HTTP client for the sandbox
// process's control surface: tool execution, server
// registration/unregistration, secret rotation, and external MCP tool
// discovery, all authenticated with a shared X-API-Key over loopback HTTP.
// internal/mcpgw uses Execute to route tools/call for sandbox-transport
// tools and RegisterServer/UnregisterServer to sync a server's tools into
// the sandbox; internal/api calls UnregisterServer when a server is deleted
// and DiscoverExternalTools for external sources.
package sandboxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrShortAPIKey mirrors the sandbox side's own rejection of API keys
// under 32 characters, so a misconfigured client fails fast instead of
// sending requests the sandbox will refuse with a 503.
var ErrShortAPIKey = errors.New("sandboxclient: API key must be at least 32 characters")

const minAPIKeyLen = 32

// Client talks to one sandbox process over loopback HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	if len(apiKey) < minAPIKeyLen {
		return nil, ErrShortAPIKey
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, http: httpClient}, nil
}

// ExecuteResult mirrors the sandboxrt execution contract surfaced over HTTP.
type ExecuteResult struct {
	Success    bool        `json:"success"`
	Value      interface{} `json:"value,omitempty"`
	Error      string      `json:"error,omitempty"`
	Stdout     string      `json:"stdout,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
}

// Execute dispatches a tools/call for a tool already registered with the
// sandbox (via RegisterServer) by its full "servername__toolname" name.
func (c *Client) Execute(ctx context.Context, toolName string, arguments map[string]interface{}) (ExecuteResult, error) {
	var result ExecuteResult
	err := c.do(ctx, "POST", "/execute", map[string]interface{}{
		"tool_name": toolName,
		"arguments": arguments,
	}, &result)
	return result, err
}

// RegisterServerTool is one tool's registration payload.
type RegisterServerTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Source      string                 `json:"source"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	TimeoutMS   int                    `json:"timeout_ms,omitempty"`
}

// RegisterServerRequest replaces a server's full tool set in the sandbox
// registry (full-replace semantics, matching internal/registry.Registry).
type RegisterServerRequest struct {
	ServerID       string                `json:"server_id"`
	ServerName     string                `json:"server_name"`
	Tools          []RegisterServerTool  `json:"tools"`
	HelperCode     string                `json:"helper_code,omitempty"`
	AllowedModules []string              `json:"allowed_modules,omitempty"`
	Secrets        map[string]string     `json:"secrets,omitempty"`
}

func (c *Client) RegisterServer(ctx context.Context, req RegisterServerRequest) (toolCount int, err error) {
	var result struct {
		ToolCount int `json:"tool_count"`
	}
	if err := c.do(ctx, "POST", "/register_server", req, &result); err != nil {
		return 0, err
	}
	return result.ToolCount, nil
}

func (c *Client) UnregisterServer(ctx context.Context, serverID string) error {
	return c.do(ctx, "POST", "/unregister_server", map[string]string{"server_id": serverID}, nil)
}

func (c *Client) UpdateServerSecrets(ctx context.Context, serverID string, secrets map[string]string) error {
	return c.do(ctx, "POST", "/update_server_secrets", map[string]interface{}{
		"server_id": serverID,
		"secrets":   secrets,
	}, nil)
}

// DiscoverExternalToolsResult is the sandbox's proxied discovery response
// for one ExternalMCPSource: the sandbox holds the SSRF-aware HTTP client
// used to reach it.
type DiscoverExternalToolsResult struct {
	Success bool                     `json:"success"`
	Tools   []map[string]interface{} `json:"tools,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

func (c *Client) DiscoverExternalTools(ctx context.Context, sourceURL string, authHeaders map[string]string) (DiscoverExternalToolsResult, error) {
	var result DiscoverExternalToolsResult
	err := c.do(ctx, "POST", "/discover_external_tools", map[string]interface{}{
		"source_url":   sourceURL,
		"auth_headers": authHeaders,
	}, &result)
	return result, err
}

type HealthResult struct {
	Status    string `json:"status"`
	ToolCount int    `json:"tool_count"`
}

func (c *Client) Health(ctx context.Context) (HealthResult, error) {
	var result HealthResult
	err := c.do(ctx, "GET", "/health", nil, &result)
	return result, err
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal sandbox request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build sandbox request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read sandbox response %s: %w", path, err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode sandbox response %s: %w", path, err)
	}
	return nil
}

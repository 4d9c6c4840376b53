// Package mcpgw is the MCP JSON-RPC 2.0 gateway: it merges sandboxed
// tools (dispatched over loopback HTTP to the sandbox process) and
// external MCP source tools (dispatched through a pooled upstream
// session) into one tools/list and tools/call surface for a single
// trust domain of servers and tools. Every dispatched call is
// circuit-broken per upstream and rate limited per external source, and
// emits a redacted execution log.
package mcpgw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcpbox/control-plane/internal/circuitbreaker"
	"github.com/mcpbox/control-plane/internal/credential"
	"github.com/mcpbox/control-plane/internal/mcpsession"
	"github.com/mcpbox/control-plane/internal/ratelimit"
	"github.com/mcpbox/control-plane/internal/sandboxclient"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/contracts"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

const protocolVersion = "2025-03-26"

const maxLoggedPayload = 10 * 1024 // 10 KiB, per the execution-log truncation rule

var _ contracts.MCPGatewayService = (*Gateway)(nil)

// Gateway dispatches JSON-RPC 2.0 requests against the merged tool
// catalog. One instance per process.
type Gateway struct {
	store       store.Store
	sandbox     *sandboxclient.Client
	pool        *mcpsession.Pool
	breakers    *circuitbreaker.Registry
	limiter     *ratelimit.Limiter
	credentials *credential.Service

	subsMu sync.RWMutex
	subs   map[chan models.MCPResponse]struct{}
}

func NewGateway(s store.Store, sandbox *sandboxclient.Client, pool *mcpsession.Pool, breakers *circuitbreaker.Registry, limiter *ratelimit.Limiter, credentials *credential.Service) *Gateway {
	return &Gateway{
		store:       s,
		sandbox:     sandbox,
		pool:        pool,
		breakers:    breakers,
		limiter:     limiter,
		credentials: credentials,
		subs:        make(map[chan models.MCPResponse]struct{}),
	}
}

// HandleJSONRPC dispatches one request; the caller (internal/api's /mcp
// handler) owns request-level auth and top-of-stack rate limiting.
func (g *Gateway) HandleJSONRPC(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	switch req.Method {
	case "initialize":
		return g.handleInitialize(req)
	case "tools/list":
		return g.handleToolsList(ctx, req)
	case "tools/call":
		return g.handleToolsCall(ctx, req)
	case "notifications/initialized":
		return nil // notifications carry no id and expect no response
	case "ping":
		return &models.MCPResponse{Jsonrpc: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	default:
		return errorResponse(req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (g *Gateway) handleInitialize(req *models.MCPRequest) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{"listChanged": true},
			},
			"serverInfo": map[string]interface{}{
				"name":    "mcpbox",
				"version": "1",
			},
		},
	}
}

func (g *Gateway) handleToolsList(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	tools, err := g.mergedTools(ctx)
	if err != nil {
		return errorResponse(req.ID, -32000, fmt.Sprintf("list tools: %v", err))
	}

	infos := make([]models.MCPToolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, models.MCPToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema,
		})
	}
	return &models.MCPResponse{Jsonrpc: "2.0", ID: req.ID, Result: map[string]interface{}{"tools": infos}}
}

// mergedTools enumerates every enabled, approved tool across every
// active server, giving each its MCP-visible full name.
func (g *Gateway) mergedTools(ctx context.Context) ([]models.MCPTool, error) {
	servers, err := g.store.ListServers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.MCPTool, 0)
	for _, server := range servers {
		if server.Status != models.ServerStatusActive {
			continue
		}
		tools, err := g.store.ListTools(ctx, server.ID)
		if err != nil {
			return nil, err
		}
		for _, tool := range tools {
			if !tool.Enabled || tool.ApprovalStatus != models.ToolApprovalApproved {
				continue
			}
			out = append(out, models.MCPTool{
				ServerName:  server.Name,
				Name:        tool.FullName(server.Name),
				Description: tool.Description,
				Transport:   tool.Transport,
				Endpoint:    tool.Endpoint,
				AuthConfig:  tool.AuthConfig,
				Schema:      tool.Schema,
				Enabled:     tool.Enabled,
			})
		}
	}
	return out, nil
}

// resolveTool finds the Server+Tool backing an MCP full name
// ("servername__toolname"); mergedTools already filters enablement and
// approval, so this re-walks the store rather than trusting a cached list
// that may be stale by the time tools/call arrives.
func (g *Gateway) resolveTool(ctx context.Context, fullName string) (*models.Server, *models.Tool, error) {
	servers, err := g.store.ListServers(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, server := range servers {
		prefix := server.Name + "__"
		if !strings.HasPrefix(fullName, prefix) {
			continue
		}
		name := strings.TrimPrefix(fullName, prefix)
		tool, err := g.store.GetTool(ctx, server.ID, name)
		if err != nil {
			continue
		}
		return &server, tool, nil
	}
	return nil, nil, fmt.Errorf("tool not found: %s", fullName)
}

func (g *Gateway) handleToolsCall(ctx context.Context, req *models.MCPRequest) *models.MCPResponse {
	var params models.MCPToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, -32602, fmt.Sprintf("invalid params: %v", err))
	}

	server, tool, err := g.resolveTool(ctx, params.Name)
	if err != nil {
		return errorResponse(req.ID, -32601, err.Error())
	}
	if !tool.Enabled || tool.ApprovalStatus != models.ToolApprovalApproved {
		return errorResponse(req.ID, -32001, fmt.Sprintf("tool %q is not available", params.Name))
	}

	start := time.Now()
	result, stdout, execErr := g.executeTool(ctx, *server, *tool, params.Arguments)
	duration := time.Since(start)

	g.logExecution(ctx, *server, *tool, params.Arguments, result, stdout, execErr, duration)

	if execErr != nil {
		return errorResponse(req.ID, -32000, execErr.Error())
	}
	return &models.MCPResponse{Jsonrpc: "2.0", ID: req.ID, Result: result}
}

// executeTool dispatches a call and returns its MCP result alongside the
// tool's captured stdout — populated for sandbox-transport tools even on
// failure, empty for external tools (they run out-of-process and have no
// print-capture hook).
func (g *Gateway) executeTool(ctx context.Context, server models.Server, tool models.Tool, arguments map[string]interface{}) (models.MCPToolResult, string, error) {
	fullName := tool.FullName(server.Name)

	switch tool.Transport {
	case models.TransportSandbox:
		return g.executeSandboxTool(ctx, fullName, arguments)
	case models.TransportHTTP, models.TransportSSE:
		result, err := g.executeExternalTool(ctx, server, tool, fullName, arguments)
		return result, "", err
	default:
		return models.MCPToolResult{}, "", fmt.Errorf("unsupported transport %q for tool %q", tool.Transport, fullName)
	}
}

func (g *Gateway) executeSandboxTool(ctx context.Context, fullName string, arguments map[string]interface{}) (models.MCPToolResult, string, error) {
	var outcome sandboxclient.ExecuteResult
	breakErr := g.breakers.Call("sandbox", func() error {
		var err error
		outcome, err = g.sandbox.Execute(ctx, fullName, arguments)
		return err
	})
	if breakErr != nil {
		return models.MCPToolResult{}, "", fmt.Errorf("sandbox execute %q: %w", fullName, breakErr)
	}
	if !outcome.Success {
		return models.MCPToolResult{Content: []models.MCPContent{{Type: "text", Text: outcome.Error}}, IsError: true}, outcome.Stdout, nil
	}
	return models.MCPToolResult{Content: []models.MCPContent{{Type: "text", Text: toText(outcome.Value)}}}, outcome.Stdout, nil
}

func (g *Gateway) executeExternalTool(ctx context.Context, server models.Server, tool models.Tool, fullName string, arguments map[string]interface{}) (models.MCPToolResult, error) {
	sourceKey := "external:" + server.ID
	if dec := g.limiter.Check(sourceKey, "/mcpgw/external"); !dec.Allowed {
		return models.MCPToolResult{}, fmt.Errorf("rate limited calling %q, retry after %s", fullName, dec.RetryAfter)
	}

	authHeaders := stringHeaders(tool.AuthConfig)
	toolName := strings.TrimPrefix(fullName, server.Name+"__")

	var outcome mcpsession.CallOutcome
	breakErr := g.breakers.Call("external:"+server.ID, func() error {
		outcome = g.pool.CallTool(ctx, tool.Endpoint, toolName, arguments, authHeaders)
		if !outcome.Success {
			return fmt.Errorf("%s", outcome.Error)
		}
		return nil
	})
	if breakErr != nil {
		return models.MCPToolResult{}, fmt.Errorf("external call %q: %w", fullName, breakErr)
	}

	content, isErr := resultToContent(outcome.Result)
	return models.MCPToolResult{Content: content, IsError: isErr}, nil
}

// resultToContent best-effort maps an upstream MCP tools/call result
// (already a decoded map) into MCP content blocks, falling back to a
// single text block of the raw value if the upstream didn't use the
// standard {content:[...]} shape.
func resultToContent(result map[string]interface{}) ([]models.MCPContent, bool) {
	if raw, ok := result["content"]; ok {
		if buf, err := json.Marshal(raw); err == nil {
			var content []models.MCPContent
			if json.Unmarshal(buf, &content) == nil {
				isErr, _ := result["isError"].(bool)
				return content, isErr
			}
		}
	}
	return []models.MCPContent{{Type: "text", Text: toText(result)}}, false
}

func stringHeaders(authConfig map[string]interface{}) map[string]string {
	out := make(map[string]string, len(authConfig))
	for k, v := range authConfig {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func toText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(buf)
}

func errorResponse(id interface{}, code int, message string) *models.MCPResponse {
	return &models.MCPResponse{
		Jsonrpc: "2.0",
		ID:      id,
		Error:   &models.MCPError{Code: code, Message: message},
	}
}

// ── Sandbox (re)registration ─────────────────────────────────

// ReregisterServer implements approval.RegistrationTrigger: it recomputes
// a server's full tool list (sandboxed tools only — external tools are
// dispatched through the session pool, never registered with the sandbox)
// and pushes a full-replace registration, picking up whatever the approval
// engine just changed (a newly approved tool, an updated secret set, a
// network/module grant).
func (g *Gateway) ReregisterServer(ctx context.Context, serverID string) error {
	server, err := g.store.GetServer(ctx, serverID)
	if err != nil {
		return fmt.Errorf("load server %s: %w", serverID, err)
	}

	allTools, err := g.store.ListTools(ctx, serverID)
	if err != nil {
		return fmt.Errorf("list tools for server %s: %w", serverID, err)
	}

	tools := make([]sandboxclient.RegisterServerTool, 0, len(allTools))
	for _, tool := range allTools {
		if tool.Transport != models.TransportSandbox || !tool.Enabled || tool.ApprovalStatus != models.ToolApprovalApproved {
			continue
		}
		version, err := g.store.GetToolVersion(ctx, tool.ID, tool.CurrentVer)
		if err != nil {
			return fmt.Errorf("load active version for tool %s: %w", tool.ID, err)
		}
		tools = append(tools, sandboxclient.RegisterServerTool{
			Name:        tool.Name,
			Description: tool.Description,
			Source:      version.Source,
			Schema:      tool.Schema,
			TimeoutMS:   server.DefaultTimeoutMS,
		})
	}

	secrets, err := g.credentials.ResolveServerSecrets(ctx, serverID)
	if err != nil {
		return fmt.Errorf("resolve secrets for server %s: %w", serverID, err)
	}

	if len(tools) == 0 {
		return g.sandbox.UnregisterServer(ctx, serverID)
	}

	_, err = g.sandbox.RegisterServer(ctx, sandboxclient.RegisterServerRequest{
		ServerID:       server.ID,
		ServerName:     server.Name,
		Tools:          tools,
		HelperCode:     server.HelperCode,
		AllowedModules: server.AllowedModules,
		Secrets:        secrets,
	})
	return err
}

// ── SSE subscriber fan-out ──────────────────────────────────

// Subscribe registers a channel that receives every tools/call response the
// gateway produces, for a server-sent-events bridge on /mcp. MCPbox has a
// single trust domain, so there is one shared subscriber set, not one per
// tenant.
func (g *Gateway) Subscribe() <-chan models.MCPResponse {
	ch := make(chan models.MCPResponse, 32)
	g.subsMu.Lock()
	g.subs[ch] = struct{}{}
	g.subsMu.Unlock()
	return ch
}

func (g *Gateway) Unsubscribe(ch <-chan models.MCPResponse) {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	for c := range g.subs {
		if c == ch {
			delete(g.subs, c)
			close(c)
			return
		}
	}
}

func (g *Gateway) broadcast(resp models.MCPResponse) {
	g.subsMu.RLock()
	defer g.subsMu.RUnlock()
	for c := range g.subs {
		select {
		case c <- resp:
		default:
			log.Warn().Msg("mcpgw subscriber channel full, dropping response")
		}
	}
}

// ── Execution log ────────────────────────────────────────────

var sensitiveArgKeys = []string{"token", "secret", "password", "key", "credential", "authorization"}

func redactArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		lower := strings.ToLower(k)
		redacted := false
		for _, s := range sensitiveArgKeys {
			if strings.Contains(lower, s) {
				redacted = true
				break
			}
		}
		if redacted {
			out[k] = "[redacted]"
		} else {
			out[k] = v
		}
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

func (g *Gateway) logExecution(ctx context.Context, server models.Server, tool models.Tool, args map[string]interface{}, result models.MCPToolResult, stdout string, execErr error, duration time.Duration) {
	var resultText string
	for _, c := range result.Content {
		resultText += c.Text
	}

	entry := &models.ToolExecutionLog{
		ID:         uuid.New().String(),
		ServerID:   server.ID,
		ToolID:     tool.ID,
		InputArgs:  redactArgs(args),
		Result:     truncate(resultText, maxLoggedPayload),
		Stdout:     truncate(stdout, maxLoggedPayload),
		Success:    execErr == nil && !result.IsError,
		DurationMs: duration.Milliseconds(),
		CreatedAt:  time.Now(),
	}
	if execErr != nil {
		entry.ErrorClass = classifyError(execErr)
	}

	if err := g.store.CreateToolExecutionLog(ctx, entry); err != nil {
		log.Warn().Err(err).Str("tool_id", tool.ID).Msg("failed to write tool execution log")
	}

	g.broadcast(models.MCPResponse{Jsonrpc: "2.0", Result: map[string]interface{}{
		"tool_id": tool.ID, "success": entry.Success, "duration_ms": entry.DurationMs,
	}})
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "circuitbreaker"):
		return "circuit_open"
	case strings.Contains(msg, "rate limited"):
		return "rate_limited"
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "not found"):
		return "not_found"
	default:
		return "tool_error"
	}
}

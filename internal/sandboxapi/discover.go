package sandboxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpbox/control-plane/internal/sandboxrt"
)

// discoverTools performs a minimal MCP handshake (initialize, then
// tools/list) against an external source's URL through the sandbox's
// SSRF-guarded client — this is the one place a control-plane operator's
// "add external MCP source" action causes the sandbox process to dial a
// host it doesn't already trust, so it goes through sandboxrt.SafeHTTPClient
// rather than the plain net/http client internal/mcpsession's pooled
// sessions use for already-vetted sources.
//
// Unlike internal/mcpsession.HTTPClient, this skips session continuity
// (no Mcp-Session-Id tracking, no SSE) — discovery is a one-shot call, not
// a pooled long-lived session, so the extra machinery buys nothing here.
func discoverTools(ctx context.Context, client *sandboxrt.SafeHTTPClient, sourceURL string, authHeaders map[string]string) ([]map[string]interface{}, error) {
	headers := make(map[string]string, len(authHeaders)+2)
	for k, v := range authHeaders {
		headers[k] = v
	}
	headers["Content-Type"] = "application/json"
	headers["Accept"] = "application/json"

	initBody, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]interface{}{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]interface{}{},
			"clientInfo":      map[string]interface{}{"name": "mcpbox-sandbox", "version": "1"},
		},
	})
	if status, body, err := client.Do(ctx, "POST", sourceURL, bytes.NewReader(initBody), headers); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	} else if status >= 300 {
		return nil, fmt.Errorf("initialize: external source returned HTTP %d: %s", status, truncateForError(body))
	}

	listBody, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
		"params":  map[string]interface{}{},
	})
	status, body, err := client.Do(ctx, "POST", sourceURL, bytes.NewReader(listBody), headers)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	if status >= 300 {
		return nil, fmt.Errorf("tools/list: external source returned HTTP %d: %s", status, truncateForError(body))
	}

	var envelope struct {
		Result struct {
			Tools []map[string]interface{} `json:"tools"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("tools/list: decode response: %w", err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("tools/list: %s", envelope.Error.Message)
	}
	return envelope.Result.Tools, nil
}

func truncateForError(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

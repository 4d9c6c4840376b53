// Package registry is the per-sandbox-process tool registry: it holds
// each registered server's tools, helper code, allowed modules, and
// decrypted secrets in memory, and dispatches tools/call requests into
// internal/sandboxrt after validating arguments against the tool's
// derived JSON Schema.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mcpbox/control-plane/internal/sandboxrt"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is a registered tool backed by Starlark source.
type Tool struct {
	Name        string
	Description string
	ServerID    string
	ServerName  string
	Source      string
	Schema      map[string]interface{}
	TimeoutMS   int
}

// FullName is the MCP-visible name: "servername__toolname".
func (t Tool) FullName() string {
	return fmt.Sprintf("%s__%s", t.ServerName, t.Name)
}

// Server is a registered server with its tools and execution context.
type Server struct {
	ServerID       string
	ServerName     string
	HelperCode     string
	AllowedModules []string
	Secrets        map[string]string
	Tools          map[string]*Tool // keyed by tool.Name, not FullName
}

// Registry is the sandbox process's in-memory tool catalog. One Registry
// per process; guarded by a single mutex since register/unregister/list
// all touch the same top-level map, and a server's tools are replaced as
// a whole on every re-registration.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*Server
	runtime *sandboxrt.Runtime
}

func NewRegistry(runtime *sandboxrt.Runtime) *Registry {
	return &Registry{
		servers: make(map[string]*Server),
		runtime: runtime,
	}
}

// ToolCount returns the number of tools across all registered servers.
func (r *Registry) ToolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.servers {
		n += len(s.Tools)
	}
	return n
}

// RegisterServer replaces any existing registration for serverID with the
// given tools, in one atomic full-replace (matching the original's
// "unregister existing first" semantics).
func (r *Registry) RegisterServer(serverID, serverName string, tools []Tool, helperCode string, allowedModules []string, secrets map[string]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	server := &Server{
		ServerID:       serverID,
		ServerName:     serverName,
		HelperCode:     helperCode,
		AllowedModules: allowedModules,
		Secrets:        secrets,
		Tools:          make(map[string]*Tool, len(tools)),
	}
	for i := range tools {
		t := tools[i]
		server.Tools[t.Name] = &t
	}

	r.servers[serverID] = server
	log.Info().Str("server_id", serverID).Str("server_name", serverName).Int("tool_count", len(server.Tools)).Msg("registered server")
	return len(server.Tools)
}

// UnregisterServer removes a server and all its tools. Returns false if
// the server wasn't registered.
func (r *Registry) UnregisterServer(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[serverID]; !ok {
		return false
	}
	delete(r.servers, serverID)
	log.Info().Str("server_id", serverID).Msg("unregistered server")
	return true
}

// ServerByID returns a copy of a registered server's tools and config, for
// callers (the sandbox control API's update-secrets path) that need to
// re-register it with everything unchanged except its secrets.
func (r *Registry) ServerByID(serverID string) (Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, ok := r.servers[serverID]
	if !ok {
		return Server{}, false
	}
	cp := Server{
		ServerID:       server.ServerID,
		ServerName:     server.ServerName,
		HelperCode:     server.HelperCode,
		AllowedModules: server.AllowedModules,
		Secrets:        server.Secrets,
		Tools:          make(map[string]*Tool, len(server.Tools)),
	}
	for name, t := range server.Tools {
		toolCopy := *t
		cp.Tools[name] = &toolCopy
	}
	return cp, true
}

// GetTool finds a tool by its full "servername__toolname" name.
func (r *Registry) GetTool(fullName string) (*Tool, *Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, server := range r.servers {
		for _, tool := range server.Tools {
			if tool.FullName() == fullName {
				return tool, server, true
			}
		}
	}
	return nil, nil, false
}

// ListTools returns every registered tool in MCP tools/list shape.
func (r *Registry) ListTools() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]map[string]interface{}, 0, r.ToolCountLocked())
	for _, server := range r.servers {
		for _, tool := range server.Tools {
			out = append(out, map[string]interface{}{
				"name":        tool.FullName(),
				"description": tool.Description,
				"inputSchema": tool.Schema,
			})
		}
	}
	return out
}

// ToolCountLocked assumes the caller already holds r.mu.
func (r *Registry) ToolCountLocked() int {
	n := 0
	for _, s := range r.servers {
		n += len(s.Tools)
	}
	return n
}

// ExecutionOutcome is the dispatch result handed back to the sandbox
// control API, shaped for JSON-RPC "tools/call" embedding. DurationMS is
// populated on every outcome. Stdout is populated whenever the runtime
// returned a result, including a tool that printed diagnostics before
// erroring; an unknown tool, invalid arguments, or an error from the
// runtime itself leave it empty.
type ExecutionOutcome struct {
	Success    bool        `json:"success"`
	Value      interface{} `json:"value,omitempty"`
	Error      string      `json:"error,omitempty"`
	Stdout     string      `json:"stdout"`
	DurationMS int64       `json:"duration_ms"`
}

// Execute validates arguments against the tool's derived schema, then
// runs it through internal/sandboxrt.
func (r *Registry) Execute(ctx context.Context, fullName string, arguments map[string]interface{}) ExecutionOutcome {
	start := time.Now()

	tool, server, ok := r.GetTool(fullName)
	if !ok {
		return ExecutionOutcome{Success: false, Error: fmt.Sprintf("tool not found: %s", fullName), DurationMS: time.Since(start).Milliseconds()}
	}

	if tool.Schema != nil {
		if err := validateArguments(tool.Schema, arguments); err != nil {
			return ExecutionOutcome{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err), DurationMS: time.Since(start).Milliseconds()}
		}
	}

	timeout := time.Duration(tool.TimeoutMS) * time.Millisecond
	source := tool.Source
	if server.HelperCode != "" {
		source = server.HelperCode + "\n" + source
	}

	result, err := r.runtime.Execute(ctx, sandboxrt.Request{
		ToolName:       fullName,
		Source:         source,
		AllowedModules: server.AllowedModules,
		Args:           arguments,
		Secrets:        server.Secrets,
		Timeout:        timeout,
	})
	duration := time.Since(start).Milliseconds()
	if err != nil {
		return ExecutionOutcome{Success: false, Error: err.Error(), DurationMS: duration}
	}
	if result.Error != "" {
		return ExecutionOutcome{Success: false, Error: result.Error, Stdout: result.Stdout, DurationMS: duration}
	}
	return ExecutionOutcome{Success: true, Value: result.Value, Stdout: result.Stdout, DurationMS: duration}
}

// validateArguments compiles schema fresh on each call — tool schemas
// change rarely (only on tool create/update) and compiling a handful of
// properties is cheap next to the Starlark execution it gates.
func validateArguments(schema map[string]interface{}, arguments map[string]interface{}) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool-schema.json", bytes.NewReader(raw)); err != nil {
		return err
	}
	compiled, err := compiler.Compile("tool-schema.json")
	if err != nil {
		return err
	}

	// jsonschema validates against the result of a JSON round-trip shape
	// (map[string]interface{}/[]interface{}/float64/...), which arguments
	// already is, since it was decoded from the JSON-RPC request.
	return compiled.Validate(toInterfaceMap(arguments))
}

func toInterfaceMap(m map[string]interface{}) interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

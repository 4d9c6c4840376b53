// Package sandboxapi is the sandbox process's control HTTP surface: the
// small loopback-only API the control plane's internal/sandboxclient
// talks to. It wraps internal/registry (the in-process tool catalog) and
// internal/sandboxrt's SSRF-guarded client for external-source discovery.
package sandboxapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mcpbox/control-plane/internal/registry"
	"github.com/mcpbox/control-plane/internal/sandboxrt"
	"github.com/rs/zerolog/log"
)

const maxRequestBytes = 4 << 20

// Server is the sandbox's HTTP control surface.
type Server struct {
	registry   *registry.Registry
	httpClient *sandboxrt.SafeHTTPClient
	auth       *auth
}

func NewServer(reg *registry.Registry, httpClient *sandboxrt.SafeHTTPClient, apiKey string) *Server {
	return &Server{registry: reg, httpClient: httpClient, auth: newAuth(apiKey)}
}

// Handler returns the full router, wrapped in the X-API-Key middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.auth.middleware)
	r.Post("/execute", s.handleExecute)
	r.Post("/register_server", s.handleRegisterServer)
	r.Post("/unregister_server", s.handleUnregisterServer)
	r.Post("/update_server_secrets", s.handleUpdateServerSecrets)
	r.Post("/discover_external_tools", s.handleDiscoverExternalTools)
	r.Get("/health", s.handleHealth)
	return r
}

type executeRequest struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	outcome := s.registry.Execute(r.Context(), req.ToolName, req.Arguments)
	respond(w, http.StatusOK, outcome)
}

type registerServerTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Schema      map[string]interface{} `json:"schema"`
	TimeoutMS   int                    `json:"timeout_ms"`
}

type registerServerRequest struct {
	ServerID       string               `json:"server_id"`
	ServerName     string               `json:"server_name"`
	Tools          []registerServerTool `json:"tools"`
	HelperCode     string               `json:"helper_code"`
	AllowedModules []string             `json:"allowed_modules"`
	Secrets        map[string]string    `json:"secrets"`
}

func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ServerID == "" || req.ServerName == "" {
		respond(w, http.StatusBadRequest, map[string]string{"error": "server_id and server_name are required"})
		return
	}

	tools := make([]registry.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, registry.Tool{
			Name:        t.Name,
			Description: t.Description,
			ServerID:    req.ServerID,
			ServerName:  req.ServerName,
			Source:      t.Source,
			Schema:      t.Schema,
			TimeoutMS:   t.TimeoutMS,
		})
	}

	count := s.registry.RegisterServer(req.ServerID, req.ServerName, tools, req.HelperCode, req.AllowedModules, req.Secrets)
	respond(w, http.StatusOK, map[string]interface{}{"success": true, "tool_count": count})
}

type serverIDRequest struct {
	ServerID string `json:"server_id"`
}

func (s *Server) handleUnregisterServer(w http.ResponseWriter, r *http.Request) {
	var req serverIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	found := s.registry.UnregisterServer(req.ServerID)
	respond(w, http.StatusOK, map[string]interface{}{"success": true, "was_registered": found})
}

type updateSecretsRequest struct {
	ServerID string            `json:"server_id"`
	Secrets  map[string]string `json:"secrets"`
}

// handleUpdateServerSecrets re-registers the server's existing tools under
// a new secret set. internal/registry has no in-place secret mutation —
// RegisterServer's full-replace semantics already cover this, so reaching
// into the registry's internals for a narrower update would just
// duplicate that replace logic for no benefit.
func (s *Server) handleUpdateServerSecrets(w http.ResponseWriter, r *http.Request) {
	var req updateSecretsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	existing, ok := s.registry.ServerByID(req.ServerID)
	if !ok {
		respond(w, http.StatusNotFound, map[string]string{"error": "server not registered: " + req.ServerID})
		return
	}

	tools := make([]registry.Tool, 0, len(existing.Tools))
	for _, t := range existing.Tools {
		tools = append(tools, *t)
	}
	s.registry.RegisterServer(existing.ServerID, existing.ServerName, tools, existing.HelperCode, existing.AllowedModules, req.Secrets)
	respond(w, http.StatusOK, map[string]interface{}{"success": true})
}

type discoverRequest struct {
	SourceURL   string            `json:"source_url"`
	AuthHeaders map[string]string `json:"auth_headers"`
}

func (s *Server) handleDiscoverExternalTools(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tools, err := discoverTools(r.Context(), s.httpClient, req.SourceURL, req.AuthHeaders)
	if err != nil {
		log.Warn().Str("source_url", req.SourceURL).Err(err).Msg("external tool discovery failed")
		respond(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"success": true, "tools": tools})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"tool_count": s.registry.ToolCount(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(out); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

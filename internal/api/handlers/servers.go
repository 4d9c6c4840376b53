package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mcpbox/control-plane/internal/api/middleware"
	"github.com/mcpbox/control-plane/internal/staticcheck"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ── Servers ──────────────────────────────────────────────────

func (h *Handlers) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.Store.ListServers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if servers == nil {
		servers = []models.Server{}
	}
	respondJSON(w, http.StatusOK, servers)
}

func (h *Handlers) CreateServer(w http.ResponseWriter, r *http.Request) {
	var s models.Server
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ID = uuid.New().String()
	if s.Status == "" {
		s.Status = models.ServerStatusActive
	}
	if s.NetworkMode == "" {
		s.NetworkMode = models.NetworkModeIsolated
	}
	identity := middleware.Identity(r.Context())
	if identity != nil {
		s.OwnerID = identity.Subject
	}

	if err := h.Store.CreateServer(r.Context(), &s); err != nil {
		respondStoreErr(w, err)
		return
	}
	h.Audit.Record(r.Context(), actorOf(r), "server.created", "server", s.ID, nil)
	respondJSON(w, http.StatusCreated, s)
}

func (h *Handlers) GetServer(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.GetServer(r.Context(), chi.URLParam(r, "serverID"))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handlers) UpdateServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	existing, err := h.Store.GetServer(r.Context(), serverID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	var patch models.Server
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	patch.ID = existing.ID
	patch.OwnerID = existing.OwnerID
	patch.CreatedAt = existing.CreatedAt

	if err := h.Store.UpdateServer(r.Context(), &patch); err != nil {
		respondStoreErr(w, err)
		return
	}
	if err := h.Gateway.ReregisterServer(r.Context(), serverID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Audit.Record(r.Context(), actorOf(r), "server.updated", "server", serverID, nil)
	respondJSON(w, http.StatusOK, patch)
}

func (h *Handlers) DeleteServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	if err := h.Store.DeleteServer(r.Context(), serverID); err != nil {
		respondStoreErr(w, err)
		return
	}
	if h.Sandbox != nil {
		_ = h.Sandbox.UnregisterServer(r.Context(), serverID)
	}
	h.Audit.Record(r.Context(), actorOf(r), "server.deleted", "server", serverID, nil)
	w.WriteHeader(http.StatusNoContent)
}

// ── Tools ────────────────────────────────────────────────────

func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.Store.ListTools(r.Context(), chi.URLParam(r, "serverID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tools == nil {
		tools = []models.Tool{}
	}
	respondJSON(w, http.StatusOK, tools)
}

type createToolRequest struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Transport   models.ToolTransport   `json:"transport"`
	Endpoint    string                 `json:"endpoint"`
	Source      string                 `json:"source"`
	Schema      map[string]interface{} `json:"schema"`
}

func (h *Handlers) CreateTool(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	server, err := h.Store.GetServer(r.Context(), serverID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	var req createToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Transport == "" {
		req.Transport = models.TransportSandbox
	}

	tool := &models.Tool{
		ID:             uuid.New().String(),
		ServerID:       serverID,
		Name:           req.Name,
		Description:    req.Description,
		Transport:      req.Transport,
		Endpoint:       req.Endpoint,
		Schema:         req.Schema,
		Enabled:        true,
		ApprovalStatus: models.ToolApprovalPendingReview,
	}
	if err := h.Store.CreateTool(r.Context(), tool); err != nil {
		respondStoreErr(w, err)
		return
	}

	if req.Transport == models.TransportSandbox && req.Source != "" {
		if err := h.publishVersion(r, server, tool, req.Source, models.ToolChangeEdit); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	h.Audit.Record(r.Context(), actorOf(r), "tool.created", "tool", tool.ID, map[string]interface{}{"server_id": serverID})
	respondJSON(w, http.StatusCreated, tool)
}

func (h *Handlers) GetTool(w http.ResponseWriter, r *http.Request) {
	tool, err := h.Store.GetToolByID(r.Context(), chi.URLParam(r, "toolID"))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tool)
}

type updateToolRequest struct {
	Description *string                `json:"description"`
	Enabled     *bool                  `json:"enabled"`
	Source      *string                `json:"source"`
	Schema      map[string]interface{} `json:"schema"`
}

// UpdateTool patches metadata and, when Source is present, publishes a new
// ToolVersion through the approval gate: editing an approved tool's body
// resets it to pending_review.
func (h *Handlers) UpdateTool(w http.ResponseWriter, r *http.Request) {
	toolID := chi.URLParam(r, "toolID")
	tool, err := h.Store.GetToolByID(r.Context(), toolID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	server, err := h.Store.GetServer(r.Context(), tool.ServerID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	var req updateToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Description != nil {
		tool.Description = *req.Description
	}
	if req.Enabled != nil {
		tool.Enabled = *req.Enabled
	}
	if req.Schema != nil {
		tool.Schema = req.Schema
	}

	if req.Source != nil {
		if err := h.publishVersion(r, server, tool, *req.Source, models.ToolChangeEdit); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else if err := h.Store.UpdateTool(r.Context(), tool); err != nil {
		respondStoreErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, tool)
}

func (h *Handlers) DeleteTool(w http.ResponseWriter, r *http.Request) {
	toolID := chi.URLParam(r, "toolID")
	tool, err := h.Store.GetToolByID(r.Context(), toolID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	if err := h.Store.DeleteTool(r.Context(), toolID); err != nil {
		respondStoreErr(w, err)
		return
	}
	_ = h.Gateway.ReregisterServer(r.Context(), tool.ServerID)
	h.Audit.Record(r.Context(), actorOf(r), "tool.deleted", "tool", toolID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ApproveTool(w http.ResponseWriter, r *http.Request) {
	tool, err := h.Store.GetToolByID(r.Context(), chi.URLParam(r, "toolID"))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	if err := h.Approval.ApproveTool(r.Context(), tool, actorOf(r)); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tool)
}

func (h *Handlers) RejectTool(w http.ResponseWriter, r *http.Request) {
	tool, err := h.Store.GetToolByID(r.Context(), chi.URLParam(r, "toolID"))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	if err := h.Approval.RejectTool(r.Context(), tool, actorOf(r)); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tool)
}

// ── Tool versions ────────────────────────────────────────────

func (h *Handlers) ListToolVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.Store.ListToolVersions(r.Context(), chi.URLParam(r, "toolID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, versions)
}

type rollbackRequest struct {
	Version int `json:"version"`
}

func (h *Handlers) RollbackTool(w http.ResponseWriter, r *http.Request) {
	toolID := chi.URLParam(r, "toolID")
	tool, err := h.Store.GetToolByID(r.Context(), toolID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	server, err := h.Store.GetServer(r.Context(), tool.ServerID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := h.Store.GetToolVersion(r.Context(), toolID, req.Version)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	if err := h.publishVersion(r, server, tool, target.Source, models.ToolChangeRollback); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tool)
}

// publishVersion runs a tool source body through the static scanner,
// raises network/module access requests for anything not yet allowed,
// then publishes the version through the approval gate.
func (h *Handlers) publishVersion(r *http.Request, server *models.Server, tool *models.Tool, source string, changeSource models.ToolChangeSource) error {
	ctx := r.Context()
	actor := actorOf(r)

	scan := staticcheck.Scan(source)
	allowedModules := toSet(server.AllowedModules)
	for _, m := range scan.Modules {
		if _, ok := allowedModules[m]; !ok {
			if _, err := h.Approval.RequestModuleAccess(ctx, server.ID, tool.ID, m, actor); err != nil {
				return err
			}
		}
	}
	allowedHosts := toSet(server.AllowedHosts)
	if server.NetworkMode == models.NetworkModeAllowlist {
		for _, host := range scan.Hosts {
			if _, ok := allowedHosts[host]; !ok {
				if _, err := h.Approval.RequestNetworkAccess(ctx, server.ID, tool.ID, host, actor); err != nil {
					return err
				}
			}
		}
	}

	version := &models.ToolVersion{
		ID:             uuid.New().String(),
		Source:         source,
		AllowedModules: scan.Modules,
	}
	return h.Approval.PublishToolVersion(ctx, tool, version, changeSource, actor)
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		out[i] = struct{}{}
	}
	return out
}

func actorOf(r *http.Request) string {
	if identity := middleware.Identity(r.Context()); identity != nil {
		return identity.Subject
	}
	return "unknown"
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/google/uuid"
)

// exportedServer bundles a server with its tool definitions (current
// source, no secrets — Credential ciphertext never leaves the instance).
type exportedServer struct {
	Server models.Server       `json:"server"`
	Tools  []exportedTool      `json:"tools"`
}

type exportedTool struct {
	Tool   models.Tool   `json:"tool"`
	Source string        `json:"source,omitempty"`
}

// exportBundle is the signed export document: the signature covers
// everything except itself and exported_at, so re-exporting the same
// state at a different time still reproduces the same signature input.
type exportBundle struct {
	Version    string           `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Servers    []exportedServer `json:"servers"`
	Signature  string           `json:"signature"`
}

func (h *Handlers) ExportServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.Store.ListServers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	bundle := exportBundle{Version: "1.0", ExportedAt: time.Now()}
	for _, server := range servers {
		tools, err := h.Store.ListTools(r.Context(), server.ID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		exp := exportedServer{Server: server}
		for _, tool := range tools {
			source := ""
			if tool.Transport == models.TransportSandbox {
				if version, err := h.Store.GetToolVersion(r.Context(), tool.ID, tool.CurrentVer); err == nil {
					source = version.Source
				}
			}
			exp.Tools = append(exp.Tools, exportedTool{Tool: tool, Source: source})
		}
		bundle.Servers = append(bundle.Servers, exp)
	}

	sig, err := h.signBundle(bundle.Version, bundle.Servers)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	bundle.Signature = sig

	h.Audit.Record(r.Context(), actorOf(r), "servers.exported", "server", "", map[string]interface{}{"count": len(bundle.Servers)})
	respondJSON(w, http.StatusOK, bundle)
}

func (h *Handlers) ImportServers(w http.ResponseWriter, r *http.Request) {
	var bundle exportBundle
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	expected, err := h.signBundle(bundle.Version, bundle.Servers)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if expected != bundle.Signature {
		respondError(w, http.StatusUnprocessableEntity, "import signature does not match: refusing untrusted bundle")
		return
	}

	imported := 0
	for _, exp := range bundle.Servers {
		server := exp.Server
		server.ID = uuid.New().String()
		if err := h.Store.CreateServer(r.Context(), &server); err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("import server %s: %v", exp.Server.Name, err))
			return
		}

		for _, et := range exp.Tools {
			tool := et.Tool
			tool.ID = uuid.New().String()
			tool.ServerID = server.ID
			tool.ApprovalStatus = models.ToolApprovalPendingReview
			tool.ApprovedBy = ""
			tool.ApprovedAt = nil
			if err := h.Store.CreateTool(r.Context(), &tool); err != nil {
				respondError(w, http.StatusInternalServerError, fmt.Sprintf("import tool %s: %v", et.Tool.Name, err))
				return
			}
			if et.Source != "" {
				if err := h.publishImportedVersion(r, &server, &tool, et.Source); err != nil {
					respondError(w, http.StatusInternalServerError, err.Error())
					return
				}
			}
		}
		imported++
	}

	h.Audit.Record(r.Context(), actorOf(r), "servers.imported", "server", "", map[string]interface{}{"count": imported})
	respondJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

func (h *Handlers) publishImportedVersion(r *http.Request, server *models.Server, tool *models.Tool, source string) error {
	version := &models.ToolVersion{ID: uuid.New().String(), Source: source}
	return h.Approval.PublishToolVersion(r.Context(), tool, version, models.ToolChangeImport, actorOf(r))
}

// signBundle computes the HMAC-SHA256 signature over the canonical JSON
// (Go's map/struct-field marshaling already emits fields in a fixed
// order, giving us deterministic bytes without a separate canonicalization
// step) of exactly the fields the signature covers.
func (h *Handlers) signBundle(version string, servers []exportedServer) (string, error) {
	payload, err := json.Marshal(struct {
		Version string           `json:"version"`
		Servers []exportedServer `json:"servers"`
	}{Version: version, Servers: servers})
	if err != nil {
		return "", err
	}
	return cryptoutil.Sign(h.Config.HMACKeyHex, payload)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handlers) ListExternalSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.Store.ListExternalSources(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sources == nil {
		sources = []models.ExternalMCPSource{}
	}
	respondJSON(w, http.StatusOK, sources)
}

func (h *Handlers) CreateExternalSource(w http.ResponseWriter, r *http.Request) {
	var s models.ExternalMCPSource
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ID = uuid.New().String()
	if s.AuthKind == "" {
		s.AuthKind = models.ExternalAuthNone
	}
	s.Enabled = true

	if err := h.Store.CreateExternalSource(r.Context(), &s); err != nil {
		respondStoreErr(w, err)
		return
	}
	h.Audit.Record(r.Context(), actorOf(r), "external_source.created", "external_mcp_source", s.ID, nil)
	respondJSON(w, http.StatusCreated, s)
}

func (h *Handlers) GetExternalSource(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.GetExternalSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handlers) UpdateExternalSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")
	existing, err := h.Store.GetExternalSource(r.Context(), sourceID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	var patch models.ExternalMCPSource
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	patch.ID = existing.ID
	patch.CreatedAt = existing.CreatedAt

	if err := h.Store.UpdateExternalSource(r.Context(), &patch); err != nil {
		respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, patch)
}

func (h *Handlers) DeleteExternalSource(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteExternalSource(r.Context(), chi.URLParam(r, "sourceID")); err != nil {
		respondStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DiscoverExternalTools proxies discovery through the sandbox process,
// which owns the SSRF-guarded HTTP client used to reach external sources.
func (h *Handlers) DiscoverExternalTools(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")
	source, err := h.Store.GetExternalSource(r.Context(), sourceID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	authHeaders := map[string]string{}
	if source.CredentialID != "" {
		secret, err := h.Credentials.Decrypt(r.Context(), source.CredentialID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if token, ok := secret["access_token"]; ok {
			authHeaders["Authorization"] = "Bearer " + token
		}
	}

	result, err := h.Sandbox.DiscoverExternalTools(r.Context(), source.BaseURL, authHeaders)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if !result.Success {
		respondError(w, http.StatusBadGateway, result.Error)
		return
	}

	now := time.Now()
	source.LastDiscovery = &now
	_ = h.Store.UpdateExternalSource(r.Context(), source)

	respondJSON(w, http.StatusOK, result)
}

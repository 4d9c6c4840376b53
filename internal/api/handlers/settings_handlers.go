package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mcpbox/control-plane/pkg/models"
)

func (h *Handlers) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.ListSettings(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

type upsertSettingRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *Handlers) UpsertSetting(w http.ResponseWriter, r *http.Request) {
	var req upsertSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	setting := &models.Setting{Key: req.Key, Value: req.Value, UpdatedBy: actorOf(r)}
	if err := h.Store.UpsertSetting(r.Context(), setting); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Audit.Record(r.Context(), actorOf(r), "setting.updated", "setting", req.Key, map[string]interface{}{"value": req.Value})
	respondJSON(w, http.StatusOK, setting)
}

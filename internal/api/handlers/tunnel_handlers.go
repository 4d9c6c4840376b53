package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mcpbox/control-plane/pkg/contracts"
)

func (h *Handlers) TunnelStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Tunnel.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) TunnelConfigure(w http.ResponseWriter, r *http.Request) {
	var cfg contracts.TunnelConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Tunnel.Configure(r.Context(), cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.Audit.Record(r.Context(), actorOf(r), "tunnel.configured", "tunnel", cfg.Provider, nil)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

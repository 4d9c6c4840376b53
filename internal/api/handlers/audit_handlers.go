package handlers

import (
	"net/http"
	"strconv"

	"github.com/mcpbox/control-plane/internal/store"
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) ListActivityLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Store.ListActivityLogs(r.Context(), filterFromQuery(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handlers) ListToolExecutionLogs(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	logs, err := h.Store.ListToolExecutionLogs(r.Context(), serverID, filterFromQuery(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func filterFromQuery(r *http.Request) store.ListFilter {
	filter := store.ListFilter{Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	return filter
}

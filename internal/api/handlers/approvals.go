package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mcpbox/control-plane/internal/approval"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) ListNetworkAccessRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Store.ListNetworkAccessRequests(r.Context(), store.ListFilter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, requests)
}

type decideRequest struct {
	Approve bool `json:"approve"`
}

func (h *Handlers) DecideNetworkAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.Approval.DecideNetworkAccess(r.Context(), chi.URLParam(r, "requestID"), req.Approve, actorOf(r))
	if err != nil {
		respondDecisionErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) ListModuleRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Store.ListModuleRequests(r.Context(), store.ListFilter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, requests)
}

func (h *Handlers) DecideModuleRequest(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.Approval.DecideModuleAccess(r.Context(), chi.URLParam(r, "requestID"), req.Approve, actorOf(r))
	if err != nil {
		respondDecisionErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Security profile ─────────────────────────────────────────

func (h *Handlers) GetSecurityProfile(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"policy": h.Approval.CurrentPolicy(r.Context()),
	})
}

type setSecurityProfileRequest struct {
	Profile string `json:"profile"`
}

func (h *Handlers) SetSecurityProfile(w http.ResponseWriter, r *http.Request) {
	var req setSecurityProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Approval.SetSecurityProfile(r.Context(), approval.SecurityProfile(req.Profile), actorOf(r)); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondDecisionErr(w http.ResponseWriter, err error) {
	switch err {
	case approval.ErrAlreadyDecided:
		respondError(w, http.StatusConflict, err.Error())
	default:
		if _, ok := err.(*store.ErrNotFound); ok {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

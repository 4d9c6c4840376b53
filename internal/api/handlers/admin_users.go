package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handlers) ListAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListAdminUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, users)
}

type createAdminUserRequest struct {
	Email    string           `json:"email"`
	Password string           `json:"password"`
	Role     models.AdminRole `json:"role"`
}

func (h *Handlers) CreateAdminUser(w http.ResponseWriter, r *http.Request) {
	var req createAdminUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hash, err := cryptoutil.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}

	user := &models.AdminUser{
		ID:              uuid.New().String(),
		Email:           req.Email,
		PasswordHash:    hash,
		PasswordVersion: 1,
		Role:            req.Role,
		Active:          true,
	}
	if err := h.Store.CreateAdminUser(r.Context(), user); err != nil {
		respondStoreErr(w, err)
		return
	}
	h.Audit.Record(r.Context(), actorOf(r), "admin_user.created", "admin_user", user.ID, map[string]interface{}{"role": string(user.Role)})
	respondJSON(w, http.StatusCreated, user)
}

func (h *Handlers) GetAdminUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.Store.GetAdminUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

type updateAdminUserRequest struct {
	Role   *models.AdminRole `json:"role"`
	Active *bool             `json:"active"`
}

func (h *Handlers) UpdateAdminUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	user, err := h.Store.GetAdminUser(r.Context(), userID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	var req updateAdminUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if err := h.Store.UpdateAdminUser(r.Context(), user); err != nil {
		respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

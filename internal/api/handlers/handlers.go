// Package handlers implements the HTTP handlers for the MCPbox control
// plane: server/tool CRUD and the approval workflow they drive, external
// MCP source management, credentials, the admin session, the OAuth and
// tunnel bridges, audit reads, and the MCP JSON-RPC gateway endpoint
// itself.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mcpbox/control-plane/internal/api/middleware"
	"github.com/mcpbox/control-plane/internal/approval"
	"github.com/mcpbox/control-plane/internal/audit"
	"github.com/mcpbox/control-plane/internal/auth"
	"github.com/mcpbox/control-plane/internal/config"
	"github.com/mcpbox/control-plane/internal/credential"
	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/internal/mcpgw"
	"github.com/mcpbox/control-plane/internal/oauth"
	"github.com/mcpbox/control-plane/internal/sandboxclient"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/contracts"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// Handlers holds every dependency the HTTP layer needs.
type Handlers struct {
	Store       store.Store
	Config      *config.Config
	Gateway     *mcpgw.Gateway
	Credentials *credential.Service
	Approval    *approval.Service
	OAuth       *oauth.Service
	Tunnel      contracts.TunnelController
	Sandbox     *sandboxclient.Client
	Audit       *audit.Logger
	Tokens      *auth.TokenIssuer
}

// New wires the handler layer from its service dependencies.
func New(s store.Store, cfg *config.Config, gw *mcpgw.Gateway, creds *credential.Service, appr *approval.Service, oa *oauth.Service, tun contracts.TunnelController, sandbox *sandboxclient.Client, tokens *auth.TokenIssuer) *Handlers {
	return &Handlers{
		Store:       s,
		Config:      cfg,
		Gateway:     gw,
		Credentials: creds,
		Approval:    appr,
		OAuth:       oa,
		Tunnel:      tun,
		Sandbox:     sandbox,
		Audit:       audit.NewLogger(s),
		Tokens:      tokens,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.Config.ServiceName})
}

func (h *Handlers) Version(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"version": cfg.Version, "service": cfg.ServiceName})
	}
}

// ── Auth ─────────────────────────────────────────────────────

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	User         *models.AdminUser `json:"user"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := auth.VerifyAdminLogin(r.Context(), h.Store, req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	access, _, err := h.Tokens.IssueAccessToken(user.ID, user.Email, string(user.Role), user.PasswordVersion)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	refresh, _, err := h.Tokens.IssueRefreshToken(user.ID, user.PasswordVersion)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	h.Audit.Record(r.Context(), user.ID, "auth.login", "admin_user", user.ID, nil)
	respondJSON(w, http.StatusOK, loginResponse{AccessToken: access, RefreshToken: refresh, User: user})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	identity := middleware.Identity(r.Context())
	if identity == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if identity.JTI != "" {
		_ = h.Store.BlacklistToken(r.Context(), &models.TokenBlacklist{
			JTI:       identity.JTI,
			ExpiresAt: identity.ExpiresAt,
			RevokedAt: time.Now(),
			Reason:    "logout",
		})
	}
	h.Audit.Record(r.Context(), identity.Subject, "auth.logout", "admin_user", identity.Subject, nil)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.Identity(r.Context())
	if identity == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	respondJSON(w, http.StatusOK, identity)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword rehashes the user's password and bumps PasswordVersion,
// which invalidates every access/refresh token issued before this call:
// JWTProvider.Authenticate rejects any token whose pv claim no longer
// matches the stored value.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity := middleware.Identity(r.Context())
	if identity == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.Store.GetAdminUser(r.Context(), identity.Subject)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if ok, err := verifyAndRehash(user, req.CurrentPassword, req.NewPassword); err != nil || !ok {
		respondError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}
	user.PasswordVersion++
	if err := h.Store.UpdateAdminUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Audit.Record(r.Context(), identity.Subject, "auth.password_changed", "admin_user", user.ID, nil)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Response helpers ─────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// verifyAndRehash checks currentPassword against user's stored hash and,
// on success, overwrites it in place with a fresh hash of newPassword —
// the caller persists user afterward.
func verifyAndRehash(user *models.AdminUser, currentPassword, newPassword string) (bool, error) {
	ok, err := cryptoutil.VerifyPassword(currentPassword, user.PasswordHash)
	if err != nil || !ok {
		return false, err
	}
	hash, err := cryptoutil.HashPassword(newPassword)
	if err != nil {
		return false, err
	}
	user.PasswordHash = hash
	return true, nil
}

func respondStoreErr(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *store.ErrNotFound:
		respondError(w, http.StatusNotFound, err.Error())
	case *store.ErrConflict:
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type credentialRequest struct {
	Name                  string                   `json:"name"`
	Kind                  models.CredentialKind    `json:"kind"`
	ServerID              string                   `json:"server_id"`
	Secret                map[string]string        `json:"secret"`
	OAuthClientID         string                   `json:"oauth_client_id"`
	OAuthTokenURL         string                   `json:"oauth_token_url"`
	OAuthAuthorizationURL string                   `json:"oauth_authorization_url"`
	OAuthScopes           []string                 `json:"oauth_scopes"`
	OAuthGrantType        models.OAuthGrantType    `json:"oauth_grant_type"`
}

func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	owner := actorOf(r)
	creds, err := h.Store.ListCredentials(r.Context(), owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if creds == nil {
		creds = []models.Credential{}
	}
	respondJSON(w, http.StatusOK, creds)
}

func (h *Handlers) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cred := &models.Credential{
		ID:                    uuid.New().String(),
		Name:                  req.Name,
		Kind:                  req.Kind,
		OwnerID:               actorOf(r),
		ServerID:              req.ServerID,
		OAuthClientID:         req.OAuthClientID,
		OAuthTokenURL:         req.OAuthTokenURL,
		OAuthAuthorizationURL: req.OAuthAuthorizationURL,
		OAuthScopes:           req.OAuthScopes,
		OAuthGrantType:        req.OAuthGrantType,
	}

	if err := h.Credentials.Create(r.Context(), cred, req.Secret); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Audit.Record(r.Context(), actorOf(r), "credential.created", "credential", cred.ID, map[string]interface{}{"kind": string(cred.Kind)})
	respondJSON(w, http.StatusCreated, cred)
}

func (h *Handlers) GetCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.Store.GetCredential(r.Context(), chi.URLParam(r, "credentialID"))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cred)
}

func (h *Handlers) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	credentialID := chi.URLParam(r, "credentialID")
	cred, err := h.Store.GetCredential(r.Context(), credentialID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != "" {
		cred.Name = req.Name
	}

	if err := h.Credentials.Update(r.Context(), cred, req.Secret); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cred)
}

func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteCredential(r.Context(), chi.URLParam(r, "credentialID")); err != nil {
		respondStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Server secrets ───────────────────────────────────────────

func (h *Handlers) ListServerSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := h.Store.ListServerSecrets(r.Context(), chi.URLParam(r, "serverID"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, secrets)
}

type createServerSecretRequest struct {
	Key          string `json:"key"`
	CredentialID string `json:"credential_id"`
}

func (h *Handlers) CreateServerSecret(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	var req createServerSecretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	secret := &models.ServerSecret{
		ID:           uuid.New().String(),
		ServerID:     serverID,
		Key:          req.Key,
		CredentialID: req.CredentialID,
	}
	if err := h.Store.CreateServerSecret(r.Context(), secret); err != nil {
		respondStoreErr(w, err)
		return
	}
	if err := h.Gateway.ReregisterServer(r.Context(), serverID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, secret)
}

func (h *Handlers) DeleteServerSecret(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "serverID")
	if err := h.Store.DeleteServerSecret(r.Context(), chi.URLParam(r, "secretID")); err != nil {
		respondStoreErr(w, err)
		return
	}
	_ = h.Gateway.ReregisterServer(r.Context(), serverID)
	w.WriteHeader(http.StatusNoContent)
}

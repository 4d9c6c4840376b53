package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListOAuthProviders is a static catalog of the OAuth flows the admin
// console offers when creating an oauth_tokens credential; MCPbox doesn't
// preconfigure provider endpoints (spec's Non-goals exclude a managed
// provider directory) — the admin supplies authorization_url/token_url.
func (h *Handlers) ListOAuthProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, []map[string]string{
		{"grant_type": "authorization_code", "label": "Authorization Code (PKCE)"},
		{"grant_type": "client_credentials", "label": "Client Credentials"},
	})
}

func (h *Handlers) StartOAuth(w http.ResponseWriter, r *http.Request) {
	credentialID := chi.URLParam(r, "credentialID")
	cred, err := h.Store.GetCredential(r.Context(), credentialID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	url, _, err := h.OAuth.StartAuthorization(r.Context(), cred)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"authorization_url": url})
}

func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if r.Method == http.MethodPost {
		var body struct {
			State string `json:"state"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			state, code = body.State, body.Code
		}
	}

	result, err := h.OAuth.HandleCallback(r.Context(), state, code)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) RefreshOAuthCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.Store.GetCredential(r.Context(), chi.URLParam(r, "credentialID"))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	result, err := h.OAuth.RefreshToken(r.Context(), cred)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) OAuthCredentialStatus(w http.ResponseWriter, r *http.Request) {
	cred, err := h.Store.GetCredential(r.Context(), chi.URLParam(r, "credentialID"))
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"has_access_token":  cred.HasAccessToken,
		"has_refresh_token": cred.HasRefreshToken,
		"expired":           h.OAuth.IsTokenExpired(cred),
	})
}

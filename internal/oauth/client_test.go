package oauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/mcpbox/control-plane/internal/credential"
	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/internal/oauth"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

func newTestBox(t *testing.T) *cryptoutil.Box {
	t.Helper()
	box, err := cryptoutil.NewBox(strings.Repeat("cd", 32))
	require.NoError(t, err)
	return box
}

func newOAuthCredential(s store.Store, tokenURL string) *models.Credential {
	return &models.Credential{
		Name:                  "external-mcp",
		Kind:                  models.CredentialKindOAuthTokens,
		OwnerID:               "admin-1",
		OAuthGrantType:        models.OAuthGrantAuthorizationCode,
		OAuthClientID:         "client-123",
		OAuthAuthorizationURL: "https://provider.example.com/authorize",
		OAuthTokenURL:         tokenURL,
		OAuthScopes:           []string{"tools.read"},
	}
}

func TestStartAuthorizationBuildsPKCEURLAndPersistsState(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	credSvc := credential.NewService(s, newTestBox(t))
	svc := oauth.NewService(s, credSvc, "https://mcpbox.local/api/oauth/callback", nil)

	cred := newOAuthCredential(s, "https://provider.example.com/token")
	require.NoError(t, credSvc.Create(context.Background(), cred, map[string]string{"client_secret": "shh"}))

	authURL, state, err := svc.StartAuthorization(context.Background(), cred)
	require.NoError(t, err)
	require.NotEmpty(t, state)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	require.Equal(t, "client-123", q.Get("client_id"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.Equal(t, state, q.Get("state"))

	stored, err := s.GetCredential(context.Background(), cred.ID)
	require.NoError(t, err)
	require.Equal(t, state, stored.OAuthState)
}

func TestHandleCallbackExchangesCodeForTokens(t *testing.T) {
	var gotForm url.Values
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.Form
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-xyz",
			"refresh_token": "refresh-abc",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	}))
	t.Cleanup(tokenServer.Close)

	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	credSvc := credential.NewService(s, newTestBox(t))
	svc := oauth.NewService(s, credSvc, "https://mcpbox.local/api/oauth/callback", tokenServer.Client())

	cred := newOAuthCredential(s, tokenServer.URL)
	require.NoError(t, credSvc.Create(context.Background(), cred, map[string]string{"client_secret": "shh"}))

	_, state, err := svc.StartAuthorization(context.Background(), cred)
	require.NoError(t, err)

	result, err := svc.HandleCallback(context.Background(), state, "auth-code-1")
	require.NoError(t, err)
	require.True(t, result.HasRefreshToken)
	require.NotNil(t, result.ExpiresAt)

	require.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	require.Equal(t, "auth-code-1", gotForm.Get("code"))
	require.NotEmpty(t, gotForm.Get("code_verifier"))

	secret, err := credSvc.Decrypt(context.Background(), cred.ID)
	require.NoError(t, err)
	require.Equal(t, "access-xyz", secret["access_token"])
	require.Equal(t, "refresh-abc", secret["refresh_token"])
	require.Equal(t, "shh", secret["client_secret"])

	stored, err := s.GetCredential(context.Background(), cred.ID)
	require.NoError(t, err)
	require.Empty(t, stored.OAuthState, "state should be cleared once consumed")
	require.True(t, stored.HasAccessToken)
}

func TestHandleCallbackRejectsUnknownState(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	credSvc := credential.NewService(s, newTestBox(t))
	svc := oauth.NewService(s, credSvc, "https://mcpbox.local/api/oauth/callback", nil)

	_, err := svc.HandleCallback(context.Background(), "nonexistent-state", "code")
	require.ErrorIs(t, err, oauth.ErrInvalidState)
}

func TestRefreshTokenRequiresStoredRefreshToken(t *testing.T) {
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	credSvc := credential.NewService(s, newTestBox(t))
	svc := oauth.NewService(s, credSvc, "https://mcpbox.local/api/oauth/callback", nil)

	cred := newOAuthCredential(s, "https://provider.example.com/token")
	require.NoError(t, credSvc.Create(context.Background(), cred, map[string]string{"client_secret": "shh"}))

	_, err := svc.RefreshToken(context.Background(), cred)
	require.ErrorIs(t, err, oauth.ErrNoRefreshToken)
}

func TestRefreshTokenExchangesRefreshToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "refresh-abc", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-new",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(tokenServer.Close)

	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	credSvc := credential.NewService(s, newTestBox(t))
	svc := oauth.NewService(s, credSvc, "https://mcpbox.local/api/oauth/callback", tokenServer.Client())

	cred := newOAuthCredential(s, tokenServer.URL)
	require.NoError(t, credSvc.Create(context.Background(), cred, map[string]string{
		"client_secret": "shh",
		"refresh_token": "refresh-abc",
	}))
	cred.HasRefreshToken = true

	result, err := svc.RefreshToken(context.Background(), cred)
	require.NoError(t, err)
	require.NotNil(t, result.ExpiresAt)

	secret, err := credSvc.Decrypt(context.Background(), cred.ID)
	require.NoError(t, err)
	require.Equal(t, "access-new", secret["access_token"])
	require.Equal(t, "refresh-abc", secret["refresh_token"], "provider did not rotate refresh token, old one must survive")
}

func TestTokenErrorCarriesProviderDetail(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error":             "invalid_grant",
			"error_description": "authorization code expired",
		})
	}))
	t.Cleanup(tokenServer.Close)

	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	credSvc := credential.NewService(s, newTestBox(t))
	svc := oauth.NewService(s, credSvc, "https://mcpbox.local/api/oauth/callback", tokenServer.Client())

	cred := newOAuthCredential(s, tokenServer.URL)
	require.NoError(t, credSvc.Create(context.Background(), cred, map[string]string{}))

	_, state, err := svc.StartAuthorization(context.Background(), cred)
	require.NoError(t, err)

	_, err = svc.HandleCallback(context.Background(), state, "bad-code")
	require.Error(t, err)
	require.Contains(t, err.Error(), "authorization code expired")
}

package oauth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcpbox/control-plane/internal/oauth"
	"github.com/stretchr/testify/require"
)

func TestDiscoverReturnsErrNoOAuthRequiredWhenServerAnswersDirectly(t *testing.T) {
	mcpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(mcpServer.Close)

	_, err := oauth.Discover(context.Background(), mcpServer.Client(), mcpServer.URL)
	require.ErrorIs(t, err, oauth.ErrNoOAuthRequired)
}

func TestDiscoverFollowsWWWAuthenticateToAuthServerMetadata(t *testing.T) {
	var authServerURL string

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata="%s/.well-known/oauth-protected-resource"`, authServerURL))
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"authorization_servers": []string{authServerURL},
		})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"authorization_endpoint": authServerURL + "/authorize",
			"token_endpoint":         authServerURL + "/token",
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	authServerURL = srv.URL

	meta, err := oauth.Discover(context.Background(), srv.Client(), srv.URL+"/mcp")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/token", meta.TokenEndpoint)
	require.Equal(t, srv.URL+"/authorize", meta.AuthorizationEndpoint)
}

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strings"
)

// ErrNoOAuthRequired is returned by Discover when the target MCP server
// answered an unauthenticated probe request directly — it needs no OAuth
// setup at all.
var ErrNoOAuthRequired = errors.New("oauth: server accepted request without authorization")

// ServerMetadata is the subset of RFC 8414 authorization-server metadata
// the client needs to drive the code flow.
type ServerMetadata struct {
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

type protectedResourceMetadata struct {
	AuthorizationServers []string `json:"authorization_servers"`
}

var resourceMetadataParam = regexp.MustCompile(`resource_metadata="([^"]+)"`)

// Discover probes an external MCP server with an empty request; if it
// answers 401, Discover follows the WWW-Authenticate header (or the
// well-known fallback) to the protected-resource metadata, then to the
// authorization-server metadata.
func Discover(ctx context.Context, client *http.Client, mcpServerURL string) (*ServerMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mcpServerURL, strings.NewReader(`{}`))
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", mcpServerURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil, ErrNoOAuthRequired
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return nil, fmt.Errorf("probe %s: unexpected status %d", mcpServerURL, resp.StatusCode)
	}

	resourceMetadataURL := resourceMetadataURLFrom(resp.Header.Get("WWW-Authenticate"), mcpServerURL)

	var prm protectedResourceMetadata
	if err := fetchJSON(ctx, client, resourceMetadataURL, &prm); err != nil {
		return nil, fmt.Errorf("fetch protected-resource metadata: %w", err)
	}
	if len(prm.AuthorizationServers) == 0 {
		return nil, errors.New("oauth: protected-resource metadata lists no authorization servers")
	}

	var meta ServerMetadata
	authServerMetadataURL := strings.TrimRight(prm.AuthorizationServers[0], "/") + "/.well-known/oauth-authorization-server"
	if err := fetchJSON(ctx, client, authServerMetadataURL, &meta); err != nil {
		return nil, fmt.Errorf("fetch authorization-server metadata: %w", err)
	}
	return &meta, nil
}

func resourceMetadataURLFrom(wwwAuthenticate, mcpServerURL string) string {
	if m := resourceMetadataParam.FindStringSubmatch(wwwAuthenticate); len(m) == 2 {
		return m[1]
	}
	return strings.TrimRight(mcpServerURL, "/") + "/.well-known/oauth-protected-resource"
}

func fetchJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if ct != "" && ct != "application/json" {
		return fmt.Errorf("unexpected content type %q from %s", ct, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Package contracts defines the service interfaces that sit at package
// boundaries within the MCPbox control plane — between the in-memory
// Store and a future SQL-backed one, and between the gateway/credential
// services and the HTTP handlers that call them.
package contracts

import (
	"context"
	"net/http"
	"time"

	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
)

// Store is a type alias for the internal Store interface, exposed here so
// packages outside internal/ (if any ship later) can depend on the
// interface without reaching into internal/store directly.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Auth ──────────────────────────────────────────────────────

// Identity is the authenticated caller an AuthProvider produces: an admin
// console user (admin_jwt), or the sandbox process itself (service_token).
type Identity struct {
	Subject     string    `json:"subject"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Provider    string    `json:"provider"`
	Role        string    `json:"role"`
	JTI         string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthProvider authenticates one kind of credential out of an HTTP request.
// Authenticate returns (identity, nil) on success, (nil, nil) when this
// provider doesn't recognize the request's credentials (try the next one
// in the chain), and (nil, err) when it recognized them and they're
// invalid (stop the chain, reject the request).
type AuthProvider interface {
	Name() string
	Enabled() bool
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// AuthProviderChain walks a set of AuthProviders in registration order.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	ListProviders() []string
}

// ── MCP Gateway Service ─────────────────────────────────────

// MCPGatewayService handles MCP JSON-RPC 2.0 requests against the merged
// tool catalog (sandboxed + external sources).
type MCPGatewayService interface {
	HandleJSONRPC(ctx context.Context, req *models.MCPRequest) *models.MCPResponse
	Subscribe() <-chan models.MCPResponse
	Unsubscribe(ch <-chan models.MCPResponse)
}

// ── Tunnel Controller ───────────────────────────────────────

// TunnelController supervises the reverse-tunnel subprocess used to expose
// the gateway publicly. MCPbox only proxies status/configure calls to it —
// the tunnel wizard itself is out of scope (spec's Out-of-scope list).
type TunnelController interface {
	Status(ctx context.Context) (TunnelStatus, error)
	Configure(ctx context.Context, cfg TunnelConfig) error
}

type TunnelStatus struct {
	Running    bool   `json:"running"`
	PublicURL  string `json:"public_url,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type TunnelConfig struct {
	Provider string `json:"provider"` // e.g. "cloudflare"
	Token    string `json:"token,omitempty"`
}

// ── Credential Service ──────────────────────────────────────

// CredentialService is the boundary between credential storage (encrypted
// at rest) and every caller that needs a decrypted secret value, so that
// the decryption key material and AAD convention live in exactly one
// place.
type CredentialService interface {
	Decrypt(ctx context.Context, credentialID string) (map[string]string, error)
	Create(ctx context.Context, c *models.Credential, secret map[string]string) error
	Update(ctx context.Context, c *models.Credential, secret map[string]string) error
	ResolveServerSecrets(ctx context.Context, serverID string) (map[string]string, error)
}

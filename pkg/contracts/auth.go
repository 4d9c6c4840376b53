// Package contracts holds the interfaces that separate authentication
// (pluggable, one implementation per credential type) from the rest of the
// control plane. No handler ever knows whether a caller presented a
// service token or an admin JWT — it only sees an Identity.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated caller of the management API or the
// MCP gateway. Produced by an AuthProvider, consumed by handlers/RBAC.
type Identity struct {
	// Subject is the unique identifier: admin user ID, or "service:<name>"
	// for the loopback service token used between control plane and
	// sandbox.
	Subject string `json:"subject"`

	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`

	// Provider identifies which AuthProvider authenticated this identity:
	// "admin_jwt", "service_token".
	Provider string `json:"provider"`

	// Role is the admin role (owner/admin/member/read_only); empty for
	// service identities.
	Role string `json:"role,omitempty"`

	// JTI is the JWT ID, used to check/record blacklist entries on logout.
	JTI string `json:"jti,omitempty"`

	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// ── AuthProviderChain ───────────────────────────────────────

// AuthProviderChain tries providers in priority order until one returns an
// Identity.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}

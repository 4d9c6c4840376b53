// Package models holds the data shapes shared across the MCPbox control
// plane and sandbox processes: the persisted entities of the data model and
// the wire types of the MCP JSON-RPC 2.0 protocol.
package models

import (
	"encoding/json"
	"time"
)

// ── Server ───────────────────────────────────────────────────

type ServerStatus string

const (
	ServerStatusActive   ServerStatus = "active"
	ServerStatusDisabled ServerStatus = "disabled"
	ServerStatusArchived ServerStatus = "archived"
)

// NetworkMode records what outbound hosts a server's sandboxed tools may
// reach: "isolated" (no network at all) or "allowlist" (only AllowedHosts).
// Neither the mode nor AllowedHosts is sent to the sandbox, whose HTTP
// client blocks private and internal addresses only; at run time a tool in
// either mode can reach any public host.
type NetworkMode string

const (
	NetworkModeIsolated  NetworkMode = "isolated"
	NetworkModeAllowlist NetworkMode = "allowlist"
)

// Server is a logical grouping of tools — either sandboxed (Python-like,
// executed in-process by the sandbox) or proxied from an ExternalMCPSource.
type Server struct {
	ID                string            `json:"id" db:"id"`
	Name              string            `json:"name" db:"name"`
	Description       string            `json:"description,omitempty" db:"description"`
	Status            ServerStatus      `json:"status" db:"status"`
	OwnerID           string            `json:"owner_id" db:"owner_id"`
	Tags              map[string]string `json:"tags,omitempty"`
	NetworkMode       NetworkMode       `json:"network_mode" db:"network_mode"`
	AllowedHosts      []string          `json:"allowed_hosts,omitempty"`
	AllowedModules    []string          `json:"allowed_modules,omitempty"`
	DefaultTimeoutMS  int               `json:"default_timeout_ms" db:"default_timeout_ms"`
	HelperCode        string            `json:"helper_code,omitempty" db:"helper_code"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// ── Tool ─────────────────────────────────────────────────────

type ToolTransport string

const (
	TransportSandbox ToolTransport = "sandbox" // executed by the sandbox process
	TransportHTTP    ToolTransport = "http"     // proxied external MCP tool
	TransportSSE     ToolTransport = "sse"
)

// ToolApprovalStatus tracks a tool's review state, independent of Enabled
// (a tool can be approved but disabled, never the reverse).
type ToolApprovalStatus string

const (
	ToolApprovalPendingReview ToolApprovalStatus = "pending_review"
	ToolApprovalApproved      ToolApprovalStatus = "approved"
	ToolApprovalRejected      ToolApprovalStatus = "rejected"
)

// Tool is the latest-published view of a tool: its current schema and
// enablement live here; source history lives in ToolVersion.
type Tool struct {
	ID          string                 `json:"id" db:"id"`
	ServerID    string                 `json:"server_id" db:"server_id"`
	Name        string                 `json:"name" db:"name"`
	Description string                 `json:"description,omitempty" db:"description"`
	Transport   ToolTransport          `json:"transport" db:"transport"`
	Endpoint    string                 `json:"endpoint,omitempty" db:"endpoint"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
	Enabled     bool                   `json:"enabled" db:"enabled"`
	AuthConfig  map[string]interface{} `json:"auth_config,omitempty"`
	CurrentVer  int                    `json:"current_version" db:"current_version"`

	ApprovalStatus ToolApprovalStatus `json:"approval_status" db:"approval_status"`
	ApprovedBy     string             `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt     *time.Time         `json:"approved_at,omitempty" db:"approved_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName is the registry key: "<server>__<tool>", matching the sandbox
// registry's naming convention.
func (t *Tool) FullName(serverName string) string {
	return serverName + "__" + t.Name
}

// ── ToolVersion ──────────────────────────────────────────────

type ModuleRequestStatus string

const (
	ModuleRequestPending  ModuleRequestStatus = "pending"
	ModuleRequestApproved ModuleRequestStatus = "approved"
	ModuleRequestDenied   ModuleRequestStatus = "denied"
)

// ToolChangeSource records why a ToolVersion was created, so the approval
// engine can tell a normal edit from a rollback: both reset approval the
// same way, but the audit trail keeps them distinct.
type ToolChangeSource string

const (
	ToolChangeEdit     ToolChangeSource = "edit"
	ToolChangeImport   ToolChangeSource = "import"
	ToolChangeRollback ToolChangeSource = "rollback"
)

// ToolVersion is an immutable snapshot of a sandboxed tool's source, created
// on every publish. CurrentVer on the owning Tool points at the active one.
type ToolVersion struct {
	ID              string                 `json:"id" db:"id"`
	ToolID          string                 `json:"tool_id" db:"tool_id"`
	Version         int                    `json:"version" db:"version"`
	Source          string                 `json:"source"`
	AllowedModules  []string               `json:"allowed_modules,omitempty"`
	DerivedSchema   map[string]interface{} `json:"derived_schema,omitempty"`
	StaticCheckHash string                 `json:"static_check_hash" db:"static_check_hash"`
	ChangeSource    ToolChangeSource       `json:"change_source" db:"change_source"`
	CreatedBy       string                 `json:"created_by" db:"created_by"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
}

// ── ExternalMCPSource ────────────────────────────────────────

type ExternalSourceAuthKind string

const (
	ExternalAuthNone   ExternalSourceAuthKind = "none"
	ExternalAuthBearer ExternalSourceAuthKind = "bearer"
	ExternalAuthOAuth  ExternalSourceAuthKind = "oauth2_pkce"
)

type ExternalMCPSource struct {
	ID            string                 `json:"id" db:"id"`
	Name          string                 `json:"name" db:"name"`
	BaseURL       string                 `json:"base_url" db:"base_url"`
	AuthKind      ExternalSourceAuthKind `json:"auth_kind" db:"auth_kind"`
	CredentialID  string                 `json:"credential_id,omitempty" db:"credential_id"`
	Enabled       bool                   `json:"enabled" db:"enabled"`
	LastDiscovery *time.Time             `json:"last_discovery_at,omitempty" db:"last_discovery_at"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// ── Credential ───────────────────────────────────────────────

type CredentialKind string

const (
	CredentialKindAPIKey      CredentialKind = "api_key"
	CredentialKindOAuthTokens CredentialKind = "oauth_tokens"
	CredentialKindBasic       CredentialKind = "basic"
)

// OAuthGrantType selects how a Credential of Kind CredentialKindOAuthTokens
// obtains its access token.
type OAuthGrantType string

const (
	OAuthGrantClientCredentials OAuthGrantType = "client_credentials"
	OAuthGrantAuthorizationCode OAuthGrantType = "authorization_code"
)

// Credential stores secret material encrypted at rest; Ciphertext is
// opaque to every layer above internal/cryptoutil. The OAuth* fields are
// plaintext configuration (no secret material) used by internal/oauth to
// drive discovery, the PKCE exchange, and the refresh loop; the actual
// access/refresh tokens and client secret live inside Ciphertext alongside
// everything else internal/credential encrypts.
type Credential struct {
	ID       string         `json:"id" db:"id"`
	Name     string         `json:"name" db:"name"`
	Kind     CredentialKind `json:"kind" db:"kind"`
	OwnerID  string         `json:"owner_id" db:"owner_id"`
	ServerID string         `json:"server_id,omitempty" db:"server_id"`

	Ciphertext []byte     `json:"-" db:"ciphertext"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`

	// OAuth configuration, present only when Kind == CredentialKindOAuthTokens.
	OAuthClientID         string         `json:"oauth_client_id,omitempty" db:"oauth_client_id"`
	OAuthTokenURL         string         `json:"oauth_token_url,omitempty" db:"oauth_token_url"`
	OAuthAuthorizationURL string         `json:"oauth_authorization_url,omitempty" db:"oauth_authorization_url"`
	OAuthScopes           []string       `json:"oauth_scopes,omitempty" db:"oauth_scopes"`
	OAuthGrantType        OAuthGrantType `json:"oauth_grant_type,omitempty" db:"oauth_grant_type"`
	OAuthState            string         `json:"-" db:"oauth_state"`
	AccessTokenExpiresAt  *time.Time     `json:"access_token_expires_at,omitempty" db:"access_token_expires_at"`
	HasAccessToken        bool           `json:"has_access_token" db:"-"`
	HasRefreshToken       bool           `json:"has_refresh_token" db:"-"`
}

// ── ServerSecret ─────────────────────────────────────────────

// ServerSecret binds a Credential to a Server as an environment-style
// secret visible to that server's sandboxed tools (os.getenv surface).
type ServerSecret struct {
	ID           string    `json:"id" db:"id"`
	ServerID     string    `json:"server_id" db:"server_id"`
	Key          string    `json:"key" db:"key"`
	CredentialID string    `json:"credential_id" db:"credential_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ── NetworkAccessRequest ─────────────────────────────────────

type NetworkAccessStatus string

const (
	NetworkAccessPending  NetworkAccessStatus = "pending"
	NetworkAccessApproved NetworkAccessStatus = "approved"
	NetworkAccessDenied   NetworkAccessStatus = "denied"
	NetworkAccessExpired  NetworkAccessStatus = "expired"
)

// NetworkAccessRequest is raised when a sandboxed tool's static check finds
// an outbound host not yet on the server's allowlist.
type NetworkAccessRequest struct {
	ID          string              `json:"id" db:"id"`
	ServerID    string              `json:"server_id" db:"server_id"`
	ToolID      string              `json:"tool_id" db:"tool_id"`
	Hostname    string              `json:"hostname" db:"hostname"`
	Status      NetworkAccessStatus `json:"status" db:"status"`
	RequestedBy string              `json:"requested_by" db:"requested_by"`
	DecidedBy   string              `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	DecidedAt   *time.Time          `json:"decided_at,omitempty" db:"decided_at"`
}

// ── ModuleRequest ────────────────────────────────────────────

// ModuleRequest is raised when a tool's source imports a module not on the
// global allowed_modules list.
type ModuleRequest struct {
	ID          string              `json:"id" db:"id"`
	ServerID    string              `json:"server_id" db:"server_id"`
	ToolID      string              `json:"tool_id" db:"tool_id"`
	Module      string              `json:"module" db:"module"`
	Status      ModuleRequestStatus `json:"status" db:"status"`
	RequestedBy string              `json:"requested_by" db:"requested_by"`
	DecidedBy   string              `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	DecidedAt   *time.Time          `json:"decided_at,omitempty" db:"decided_at"`
}

// ── AdminUser ────────────────────────────────────────────────

type AdminRole string

const (
	RoleOwner   AdminRole = "owner"
	RoleAdmin   AdminRole = "admin"
	RoleMember  AdminRole = "member"
	RoleReadOnly AdminRole = "read_only"
)

type AdminUser struct {
	ID              string    `json:"id" db:"id"`
	Email           string    `json:"email" db:"email"`
	PasswordHash    string    `json:"-" db:"password_hash"`
	PasswordVersion int       `json:"-" db:"password_version"`
	Role            AdminRole `json:"role" db:"role"`
	Active          bool      `json:"active" db:"active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// ── TokenBlacklist ───────────────────────────────────────────

// TokenBlacklist records revoked JWT IDs (jti) until their natural
// expiry, after which the row (and its in-memory mirror) is pruned.
type TokenBlacklist struct {
	JTI       string    `json:"jti" db:"jti"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	RevokedAt time.Time `json:"revoked_at" db:"revoked_at"`
	Reason    string    `json:"reason,omitempty" db:"reason"`
}

// ── ActivityLog ──────────────────────────────────────────────

type ActivityLog struct {
	ID        string                 `json:"id" db:"id"`
	ActorID   string                 `json:"actor_id" db:"actor_id"`
	Action    string                 `json:"action" db:"action"`
	Entity    string                 `json:"entity" db:"entity"`
	EntityID  string                 `json:"entity_id,omitempty" db:"entity_id"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// ── ToolExecutionLog ─────────────────────────────────────────

type ToolExecutionLog struct {
	ID         string                 `json:"id" db:"id"`
	ServerID   string                 `json:"server_id" db:"server_id"`
	ToolID     string                 `json:"tool_id" db:"tool_id"`
	CallerID   string                 `json:"caller_id,omitempty" db:"caller_id"`
	InputArgs  map[string]interface{} `json:"input_args,omitempty"`
	Result     string                 `json:"result,omitempty" db:"result"`
	Stdout     string                 `json:"stdout,omitempty" db:"stdout"`
	Success    bool                   `json:"success" db:"success"`
	DurationMs int64                  `json:"duration_ms" db:"duration_ms"`
	ErrorClass string                 `json:"error_class,omitempty" db:"error_class"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// ── Setting ──────────────────────────────────────────────────

// Setting is a singleton key/value row for runtime-tunable module
// configuration (e.g. log_retention_days, allowed_modules).
type Setting struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty" db:"updated_by"`
}

// ── MCP JSON-RPC 2.0 wire types ──────────────────────────────

type MCPRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

type MCPResponse struct {
	Jsonrpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type MCPToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPTool is the gateway-internal view of a dispatchable tool: either a
// sandboxed tool (Transport == TransportSandbox, routed to the sandbox
// control API) or a proxied external tool (Transport == http/sse).
type MCPTool struct {
	ServerName  string
	Name        string
	Description string
	Transport   ToolTransport
	Endpoint    string
	AuthConfig  map[string]interface{}
	Schema      map[string]interface{}
	Enabled     bool
}

// Package store provides the storage interface and implementations for the
// MCPbox control plane. Phase 1 is an in-memory implementation; a real
// deployment swaps in a SQL-backed one behind the same Store interface.
package store

import (
	"context"
	"time"

	"github.com/mcpbox/control-plane/pkg/models"
)

// Store is the primary storage interface for the control plane. All
// handler and component code depends on this interface so that tests can
// run against the in-memory implementation without a database.
type Store interface {
	ServerStore
	ToolStore
	ToolVersionStore
	ExternalMCPSourceStore
	CredentialStore
	ServerSecretStore
	NetworkAccessRequestStore
	ModuleRequestStore
	AdminUserStore
	TokenBlacklistStore
	ActivityLogStore
	ToolExecutionLogStore
	SettingStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Server Store ─────────────────────────────────────────────

type ServerStore interface {
	ListServers(ctx context.Context) ([]models.Server, error)
	GetServer(ctx context.Context, id string) (*models.Server, error)
	GetServerByName(ctx context.Context, name string) (*models.Server, error)
	CreateServer(ctx context.Context, s *models.Server) error
	UpdateServer(ctx context.Context, s *models.Server) error
	DeleteServer(ctx context.Context, id string) error
}

// ── Tool Store ───────────────────────────────────────────────

type ToolStore interface {
	ListTools(ctx context.Context, serverID string) ([]models.Tool, error)
	GetTool(ctx context.Context, serverID, name string) (*models.Tool, error)
	GetToolByID(ctx context.Context, id string) (*models.Tool, error)
	CreateTool(ctx context.Context, t *models.Tool) error
	UpdateTool(ctx context.Context, t *models.Tool) error
	DeleteTool(ctx context.Context, id string) error
}

// ── Tool Version Store ───────────────────────────────────────

type ToolVersionStore interface {
	ListToolVersions(ctx context.Context, toolID string) ([]models.ToolVersion, error)
	GetToolVersion(ctx context.Context, toolID string, version int) (*models.ToolVersion, error)
	CreateToolVersion(ctx context.Context, v *models.ToolVersion) error
}

// ── External MCP Source Store ───────────────────────────────

type ExternalMCPSourceStore interface {
	ListExternalSources(ctx context.Context) ([]models.ExternalMCPSource, error)
	GetExternalSource(ctx context.Context, id string) (*models.ExternalMCPSource, error)
	CreateExternalSource(ctx context.Context, s *models.ExternalMCPSource) error
	UpdateExternalSource(ctx context.Context, s *models.ExternalMCPSource) error
	DeleteExternalSource(ctx context.Context, id string) error
}

// ── Credential Store ─────────────────────────────────────────

type CredentialStore interface {
	ListCredentials(ctx context.Context, ownerID string) ([]models.Credential, error)
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	CreateCredential(ctx context.Context, c *models.Credential) error
	UpdateCredential(ctx context.Context, c *models.Credential) error
	DeleteCredential(ctx context.Context, id string) error

	// GetCredentialByOAuthState finds the credential mid-authorization-code
	// flow that issued state, used by the OAuth callback to recover the
	// pending exchange. Returns ErrNotFound if no credential has that
	// pending state.
	GetCredentialByOAuthState(ctx context.Context, state string) (*models.Credential, error)

	// ListExpiringOAuthCredentials returns every oauth_tokens credential
	// with a refresh token and an access_token_expires_at before cutoff,
	// for the background refresh loop.
	ListExpiringOAuthCredentials(ctx context.Context, cutoff time.Time) ([]models.Credential, error)
}

// ── Server Secret Store ──────────────────────────────────────

type ServerSecretStore interface {
	ListServerSecrets(ctx context.Context, serverID string) ([]models.ServerSecret, error)
	CreateServerSecret(ctx context.Context, s *models.ServerSecret) error
	DeleteServerSecret(ctx context.Context, id string) error
}

// ── Network Access Request Store ────────────────────────────

type NetworkAccessRequestStore interface {
	ListNetworkAccessRequests(ctx context.Context, filter ListFilter) ([]models.NetworkAccessRequest, error)
	GetNetworkAccessRequest(ctx context.Context, id string) (*models.NetworkAccessRequest, error)
	CreateNetworkAccessRequest(ctx context.Context, r *models.NetworkAccessRequest) error
	UpdateNetworkAccessRequest(ctx context.Context, r *models.NetworkAccessRequest) error
}

// ── Module Request Store ─────────────────────────────────────

type ModuleRequestStore interface {
	ListModuleRequests(ctx context.Context, filter ListFilter) ([]models.ModuleRequest, error)
	GetModuleRequest(ctx context.Context, id string) (*models.ModuleRequest, error)
	CreateModuleRequest(ctx context.Context, r *models.ModuleRequest) error
	UpdateModuleRequest(ctx context.Context, r *models.ModuleRequest) error
}

// ── Admin User Store ─────────────────────────────────────────

type AdminUserStore interface {
	ListAdminUsers(ctx context.Context) ([]models.AdminUser, error)
	GetAdminUser(ctx context.Context, id string) (*models.AdminUser, error)
	GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	CreateAdminUser(ctx context.Context, u *models.AdminUser) error
	UpdateAdminUser(ctx context.Context, u *models.AdminUser) error
}

// ── Token Blacklist Store ────────────────────────────────────

type TokenBlacklistStore interface {
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
	BlacklistToken(ctx context.Context, entry *models.TokenBlacklist) error
	PruneExpiredTokens(ctx context.Context, now time.Time) (int, error)
}

// ── Activity Log Store ───────────────────────────────────────

type ActivityLogStore interface {
	CreateActivityLog(ctx context.Context, e *models.ActivityLog) error
	ListActivityLogs(ctx context.Context, filter ListFilter) ([]models.ActivityLog, error)
	DeleteActivityLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ── Tool Execution Log Store ─────────────────────────────────

type ToolExecutionLogStore interface {
	CreateToolExecutionLog(ctx context.Context, e *models.ToolExecutionLog) error
	ListToolExecutionLogs(ctx context.Context, serverID string, filter ListFilter) ([]models.ToolExecutionLog, error)
	DeleteToolExecutionLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ── Setting Store ────────────────────────────────────────────

type SettingStore interface {
	GetSetting(ctx context.Context, key string) (*models.Setting, error)
	UpsertSetting(ctx context.Context, s *models.Setting) error
	ListSettings(ctx context.Context) ([]models.Setting, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when a uniqueness constraint would be violated.
type ErrConflict struct {
	Entity string
	Key    string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " already exists: " + e.Key
}

// ── Filter helpers ──────────────────────────────────────────

// ListFilter provides common pagination/filter options.
type ListFilter struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// Package store — in-memory Store implementation.
// Used as the default backend (single-tenant homelab deployments); a
// SQL-backed store can implement the same Store interface for multi-node
// deployments without touching callers.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Servers           map[string]*models.Server               `json:"servers"`
	Tools             map[string]*models.Tool                 `json:"tools"`
	ToolVersions      map[string][]*models.ToolVersion         `json:"tool_versions"` // key: tool_id
	ExternalSources   map[string]*models.ExternalMCPSource     `json:"external_sources"`
	Credentials       map[string]*models.Credential            `json:"credentials"`
	ServerSecrets     map[string]*models.ServerSecret          `json:"server_secrets"`
	NetworkRequests   map[string]*models.NetworkAccessRequest  `json:"network_requests"`
	ModuleRequests    map[string]*models.ModuleRequest         `json:"module_requests"`
	AdminUsers        map[string]*models.AdminUser             `json:"admin_users"`
	Blacklist         map[string]*models.TokenBlacklist        `json:"blacklist"`
	ActivityLogs      []*models.ActivityLog                    `json:"activity_logs"`
	ToolExecutionLogs []*models.ToolExecutionLog                `json:"tool_execution_logs"`
	Settings          map[string]*models.Setting               `json:"settings"`
}

// MemoryStore implements Store with in-memory maps guarded by a single
// RWMutex. Good enough for the single-instance homelab deployment target;
// a multi-node deployment swaps in a SQL-backed Store instead.
type MemoryStore struct {
	mu sync.RWMutex

	servers         map[string]*models.Server              // key: id
	serversByName   map[string]string                      // name -> id
	tools           map[string]*models.Tool                // key: id
	toolsByServer   map[string]map[string]string           // server_id -> name -> tool_id
	toolVersions    map[string][]*models.ToolVersion        // key: tool_id
	externalSources map[string]*models.ExternalMCPSource    // key: id
	credentials     map[string]*models.Credential           // key: id
	serverSecrets   map[string][]*models.ServerSecret       // key: server_id
	networkRequests map[string]*models.NetworkAccessRequest // key: id
	moduleRequests  map[string]*models.ModuleRequest        // key: id
	adminUsers      map[string]*models.AdminUser            // key: id
	adminByEmail    map[string]string                       // email -> id
	blacklist       map[string]*models.TokenBlacklist       // key: jti
	activityLogs    []*models.ActivityLog                   // append-only
	toolExecLogs    []*models.ToolExecutionLog               // append-only
	settings        map[string]*models.Setting              // key: key

	snapshotPath string
	saveCh       chan struct{}
	doneCh       chan struct{}
}

// NewMemoryStore creates a new in-memory store. If MCPBOX_DATA_DIR is set,
// data is persisted to a JSON snapshot file in that directory and reloaded
// on startup; otherwise state lives only in memory for the process lifetime.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		servers:         make(map[string]*models.Server),
		serversByName:   make(map[string]string),
		tools:           make(map[string]*models.Tool),
		toolsByServer:   make(map[string]map[string]string),
		toolVersions:    make(map[string][]*models.ToolVersion),
		externalSources: make(map[string]*models.ExternalMCPSource),
		credentials:     make(map[string]*models.Credential),
		serverSecrets:   make(map[string][]*models.ServerSecret),
		networkRequests: make(map[string]*models.NetworkAccessRequest),
		moduleRequests:  make(map[string]*models.ModuleRequest),
		adminUsers:      make(map[string]*models.AdminUser),
		adminByEmail:    make(map[string]string),
		blacklist:       make(map[string]*models.TokenBlacklist),
		activityLogs:    make([]*models.ActivityLog, 0),
		toolExecLogs:    make([]*models.ToolExecutionLog, 0),
		settings:        make(map[string]*models.Setting),
		saveCh:          make(chan struct{}, 1),
		doneCh:          make(chan struct{}),
	}

	if dataDir := os.Getenv("MCPBOX_DATA_DIR"); dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	return m
}

func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Err(err).Msg("corrupt snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Servers != nil {
		m.servers = snap.Servers
		for id, s := range m.servers {
			m.serversByName[s.Name] = id
		}
	}
	if snap.Tools != nil {
		m.tools = snap.Tools
		for id, t := range m.tools {
			if m.toolsByServer[t.ServerID] == nil {
				m.toolsByServer[t.ServerID] = make(map[string]string)
			}
			m.toolsByServer[t.ServerID][t.Name] = id
		}
	}
	if snap.ToolVersions != nil {
		m.toolVersions = snap.ToolVersions
	}
	if snap.ExternalSources != nil {
		m.externalSources = snap.ExternalSources
	}
	if snap.Credentials != nil {
		m.credentials = snap.Credentials
	}
	if snap.ServerSecrets != nil {
		m.serverSecrets = snap.ServerSecrets
	}
	if snap.NetworkRequests != nil {
		m.networkRequests = snap.NetworkRequests
	}
	if snap.ModuleRequests != nil {
		m.moduleRequests = snap.ModuleRequests
	}
	if snap.AdminUsers != nil {
		m.adminUsers = snap.AdminUsers
		for id, u := range m.adminUsers {
			m.adminByEmail[u.Email] = id
		}
	}
	if snap.Blacklist != nil {
		m.blacklist = snap.Blacklist
	}
	if snap.ActivityLogs != nil {
		m.activityLogs = snap.ActivityLogs
	}
	if snap.ToolExecutionLogs != nil {
		m.toolExecLogs = snap.ToolExecutionLogs
	}
	if snap.Settings != nil {
		m.settings = snap.Settings
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Servers:           m.servers,
		Tools:             m.tools,
		ToolVersions:      m.toolVersions,
		ExternalSources:   m.externalSources,
		Credentials:       m.credentials,
		ServerSecrets:     m.serverSecrets,
		NetworkRequests:   m.networkRequests,
		ModuleRequests:    m.moduleRequests,
		AdminUsers:        m.adminUsers,
		Blacklist:         m.blacklist,
		ActivityLogs:      m.activityLogs,
		ToolExecutionLogs: m.toolExecLogs,
		Settings:          m.settings,
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("marshal snapshot")
		return
	}
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Error().Err(err).Msg("write snapshot")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Msg("rename snapshot")
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	if m.snapshotPath != "" {
		close(m.doneCh)
		m.saveSnapshot()
	}
	return nil
}

func newID() string { return uuid.New().String() }

// ── Server ───────────────────────────────────────────────────

func (m *MemoryStore) ListServers(ctx context.Context) ([]models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, *s)
	}
	return out, nil
}

func (m *MemoryStore) GetServer(ctx context.Context, id string) (*models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "server", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) GetServerByName(ctx context.Context, name string) (*models.Server, error) {
	m.mu.RLock()
	id, ok := m.serversByName[name]
	m.mu.RUnlock()
	if !ok {
		return nil, &ErrNotFound{Entity: "server", Key: name}
	}
	return m.GetServer(ctx, id)
}

func (m *MemoryStore) CreateServer(ctx context.Context, s *models.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = newID()
	}
	if _, exists := m.serversByName[s.Name]; exists {
		return &ErrConflict{Entity: "server", Key: s.Name}
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.servers[s.ID] = &cp
	m.serversByName[s.Name] = s.ID
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateServer(ctx context.Context, s *models.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[s.ID]; !ok {
		return &ErrNotFound{Entity: "server", Key: s.ID}
	}
	s.UpdatedAt = time.Now()
	cp := *s
	m.servers[s.ID] = &cp
	m.serversByName[s.Name] = s.ID
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteServer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return &ErrNotFound{Entity: "server", Key: id}
	}
	delete(m.servers, id)
	delete(m.serversByName, s.Name)
	delete(m.toolsByServer, id)
	m.requestSave()
	return nil
}

// ── Tool ─────────────────────────────────────────────────────

func (m *MemoryStore) ListTools(ctx context.Context, serverID string) ([]models.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Tool, 0)
	for _, id := range m.toolsByServer[serverID] {
		out = append(out, *m.tools[id])
	}
	return out, nil
}

func (m *MemoryStore) GetTool(ctx context.Context, serverID, name string) (*models.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName, ok := m.toolsByServer[serverID]
	if !ok {
		return nil, &ErrNotFound{Entity: "tool", Key: name}
	}
	id, ok := byName[name]
	if !ok {
		return nil, &ErrNotFound{Entity: "tool", Key: name}
	}
	cp := *m.tools[id]
	return &cp, nil
}

func (m *MemoryStore) GetToolByID(ctx context.Context, id string) (*models.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tools[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "tool", Key: id}
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) CreateTool(ctx context.Context, t *models.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = newID()
	}
	if m.toolsByServer[t.ServerID] == nil {
		m.toolsByServer[t.ServerID] = make(map[string]string)
	}
	if _, exists := m.toolsByServer[t.ServerID][t.Name]; exists {
		return &ErrConflict{Entity: "tool", Key: t.Name}
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	m.tools[t.ID] = &cp
	m.toolsByServer[t.ServerID][t.Name] = t.ID
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateTool(ctx context.Context, t *models.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tools[t.ID]; !ok {
		return &ErrNotFound{Entity: "tool", Key: t.ID}
	}
	t.UpdatedAt = time.Now()
	cp := *t
	m.tools[t.ID] = &cp
	if m.toolsByServer[t.ServerID] == nil {
		m.toolsByServer[t.ServerID] = make(map[string]string)
	}
	m.toolsByServer[t.ServerID][t.Name] = t.ID
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteTool(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tools[id]
	if !ok {
		return &ErrNotFound{Entity: "tool", Key: id}
	}
	delete(m.tools, id)
	if byName, ok := m.toolsByServer[t.ServerID]; ok {
		delete(byName, t.Name)
	}
	delete(m.toolVersions, id)
	m.requestSave()
	return nil
}

// ── Tool Version ─────────────────────────────────────────────

func (m *MemoryStore) ListToolVersions(ctx context.Context, toolID string) ([]models.ToolVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.toolVersions[toolID]
	out := make([]models.ToolVersion, len(versions))
	for i, v := range versions {
		out[i] = *v
	}
	return out, nil
}

func (m *MemoryStore) GetToolVersion(ctx context.Context, toolID string, version int) (*models.ToolVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.toolVersions[toolID] {
		if v.Version == version {
			cp := *v
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "tool_version", Key: toolID}
}

func (m *MemoryStore) CreateToolVersion(ctx context.Context, v *models.ToolVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = newID()
	}
	v.CreatedAt = time.Now()
	existing := m.toolVersions[v.ToolID]
	v.Version = len(existing) + 1
	cp := *v
	m.toolVersions[v.ToolID] = append(existing, &cp)
	m.requestSave()
	return nil
}

// ── External MCP Source ──────────────────────────────────────

func (m *MemoryStore) ListExternalSources(ctx context.Context) ([]models.ExternalMCPSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ExternalMCPSource, 0, len(m.externalSources))
	for _, s := range m.externalSources {
		out = append(out, *s)
	}
	return out, nil
}

func (m *MemoryStore) GetExternalSource(ctx context.Context, id string) (*models.ExternalMCPSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.externalSources[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "external_source", Key: id}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CreateExternalSource(ctx context.Context, s *models.ExternalMCPSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = newID()
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	cp := *s
	m.externalSources[s.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateExternalSource(ctx context.Context, s *models.ExternalMCPSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.externalSources[s.ID]; !ok {
		return &ErrNotFound{Entity: "external_source", Key: s.ID}
	}
	s.UpdatedAt = time.Now()
	cp := *s
	m.externalSources[s.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteExternalSource(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.externalSources[id]; !ok {
		return &ErrNotFound{Entity: "external_source", Key: id}
	}
	delete(m.externalSources, id)
	m.requestSave()
	return nil
}

// ── Credential ───────────────────────────────────────────────

func (m *MemoryStore) ListCredentials(ctx context.Context, ownerID string) ([]models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Credential, 0)
	for _, c := range m.credentials {
		if ownerID == "" || c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "credential", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateCredential(ctx context.Context, c *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = newID()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	m.credentials[c.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateCredential(ctx context.Context, c *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[c.ID]; !ok {
		return &ErrNotFound{Entity: "credential", Key: c.ID}
	}
	c.UpdatedAt = time.Now()
	cp := *c
	m.credentials[c.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteCredential(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[id]; !ok {
		return &ErrNotFound{Entity: "credential", Key: id}
	}
	delete(m.credentials, id)
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetCredentialByOAuthState(ctx context.Context, state string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.credentials {
		if c.OAuthState != "" && c.OAuthState == state {
			cp := *c
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "credential", Key: "oauth_state:" + state}
}

func (m *MemoryStore) ListExpiringOAuthCredentials(ctx context.Context, cutoff time.Time) ([]models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Credential, 0)
	for _, c := range m.credentials {
		if c.Kind != models.CredentialKindOAuthTokens || !c.HasRefreshToken {
			continue
		}
		if c.AccessTokenExpiresAt != nil && c.AccessTokenExpiresAt.Before(cutoff) {
			out = append(out, *c)
		}
	}
	return out, nil
}

// ── Server Secret ────────────────────────────────────────────

func (m *MemoryStore) ListServerSecrets(ctx context.Context, serverID string) ([]models.ServerSecret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	secrets := m.serverSecrets[serverID]
	out := make([]models.ServerSecret, len(secrets))
	for i, s := range secrets {
		out[i] = *s
	}
	return out, nil
}

func (m *MemoryStore) CreateServerSecret(ctx context.Context, s *models.ServerSecret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = newID()
	}
	s.CreatedAt = time.Now()
	cp := *s
	m.serverSecrets[s.ServerID] = append(m.serverSecrets[s.ServerID], &cp)
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteServerSecret(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for serverID, secrets := range m.serverSecrets {
		for i, s := range secrets {
			if s.ID == id {
				m.serverSecrets[serverID] = append(secrets[:i], secrets[i+1:]...)
				m.requestSave()
				return nil
			}
		}
	}
	return &ErrNotFound{Entity: "server_secret", Key: id}
}

// ── Network Access Request ───────────────────────────────────

func (m *MemoryStore) ListNetworkAccessRequests(ctx context.Context, filter ListFilter) ([]models.NetworkAccessRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.NetworkAccessRequest, 0, len(m.networkRequests))
	for _, r := range m.networkRequests {
		out = append(out, *r)
	}
	return applyListFilter(out, filter, func(r models.NetworkAccessRequest) time.Time { return r.CreatedAt }), nil
}

func (m *MemoryStore) GetNetworkAccessRequest(ctx context.Context, id string) (*models.NetworkAccessRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.networkRequests[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "network_access_request", Key: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateNetworkAccessRequest(ctx context.Context, r *models.NetworkAccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = time.Now()
	cp := *r
	m.networkRequests[r.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateNetworkAccessRequest(ctx context.Context, r *models.NetworkAccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.networkRequests[r.ID]; !ok {
		return &ErrNotFound{Entity: "network_access_request", Key: r.ID}
	}
	cp := *r
	m.networkRequests[r.ID] = &cp
	m.requestSave()
	return nil
}

// ── Module Request ───────────────────────────────────────────

func (m *MemoryStore) ListModuleRequests(ctx context.Context, filter ListFilter) ([]models.ModuleRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ModuleRequest, 0, len(m.moduleRequests))
	for _, r := range m.moduleRequests {
		out = append(out, *r)
	}
	return applyListFilter(out, filter, func(r models.ModuleRequest) time.Time { return r.CreatedAt }), nil
}

func (m *MemoryStore) GetModuleRequest(ctx context.Context, id string) (*models.ModuleRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.moduleRequests[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "module_request", Key: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) CreateModuleRequest(ctx context.Context, r *models.ModuleRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	r.CreatedAt = time.Now()
	cp := *r
	m.moduleRequests[r.ID] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateModuleRequest(ctx context.Context, r *models.ModuleRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.moduleRequests[r.ID]; !ok {
		return &ErrNotFound{Entity: "module_request", Key: r.ID}
	}
	cp := *r
	m.moduleRequests[r.ID] = &cp
	m.requestSave()
	return nil
}

// ── Admin User ───────────────────────────────────────────────

func (m *MemoryStore) ListAdminUsers(ctx context.Context) ([]models.AdminUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AdminUser, 0, len(m.adminUsers))
	for _, u := range m.adminUsers {
		out = append(out, *u)
	}
	return out, nil
}

func (m *MemoryStore) GetAdminUser(ctx context.Context, id string) (*models.AdminUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.adminUsers[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "admin_user", Key: id}
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	m.mu.RLock()
	id, ok := m.adminByEmail[email]
	m.mu.RUnlock()
	if !ok {
		return nil, &ErrNotFound{Entity: "admin_user", Key: email}
	}
	return m.GetAdminUser(ctx, id)
}

func (m *MemoryStore) CreateAdminUser(ctx context.Context, u *models.AdminUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = newID()
	}
	if _, exists := m.adminByEmail[u.Email]; exists {
		return &ErrConflict{Entity: "admin_user", Key: u.Email}
	}
	u.CreatedAt = time.Now()
	cp := *u
	m.adminUsers[u.ID] = &cp
	m.adminByEmail[u.Email] = u.ID
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAdminUser(ctx context.Context, u *models.AdminUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adminUsers[u.ID]; !ok {
		return &ErrNotFound{Entity: "admin_user", Key: u.ID}
	}
	cp := *u
	m.adminUsers[u.ID] = &cp
	m.adminByEmail[u.Email] = u.ID
	m.requestSave()
	return nil
}

// ── Token Blacklist ──────────────────────────────────────────

func (m *MemoryStore) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blacklist[jti]
	return ok, nil
}

func (m *MemoryStore) BlacklistToken(ctx context.Context, entry *models.TokenBlacklist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.RevokedAt = time.Now()
	cp := *entry
	m.blacklist[entry.JTI] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) PruneExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for jti, e := range m.blacklist {
		if e.ExpiresAt.Before(now) {
			delete(m.blacklist, jti)
			n++
		}
	}
	if n > 0 {
		m.requestSave()
	}
	return n, nil
}

// ── Activity Log ─────────────────────────────────────────────

func (m *MemoryStore) CreateActivityLog(ctx context.Context, e *models.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now()
	cp := *e
	m.activityLogs = append(m.activityLogs, &cp)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListActivityLogs(ctx context.Context, filter ListFilter) ([]models.ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ActivityLog, len(m.activityLogs))
	for i, e := range m.activityLogs {
		out[i] = *e
	}
	return applyListFilter(out, filter, func(e models.ActivityLog) time.Time { return e.CreatedAt }), nil
}

func (m *MemoryStore) DeleteActivityLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.activityLogs[:0]
	removed := 0
	for _, e := range m.activityLogs {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.activityLogs = kept
	if removed > 0 {
		m.requestSave()
	}
	return removed, nil
}

// ── Tool Execution Log ───────────────────────────────────────

func (m *MemoryStore) CreateToolExecutionLog(ctx context.Context, e *models.ToolExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now()
	cp := *e
	m.toolExecLogs = append(m.toolExecLogs, &cp)
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListToolExecutionLogs(ctx context.Context, serverID string, filter ListFilter) ([]models.ToolExecutionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ToolExecutionLog, 0)
	for _, e := range m.toolExecLogs {
		if serverID == "" || e.ServerID == serverID {
			out = append(out, *e)
		}
	}
	return applyListFilter(out, filter, func(e models.ToolExecutionLog) time.Time { return e.CreatedAt }), nil
}

func (m *MemoryStore) DeleteToolExecutionLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.toolExecLogs[:0]
	removed := 0
	for _, e := range m.toolExecLogs {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.toolExecLogs = kept
	if removed > 0 {
		m.requestSave()
	}
	return removed, nil
}

// ── Setting ──────────────────────────────────────────────────

func (m *MemoryStore) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[key]
	if !ok {
		return nil, &ErrNotFound{Entity: "setting", Key: key}
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpsertSetting(ctx context.Context, s *models.Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = time.Now()
	cp := *s
	m.settings[s.Key] = &cp
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListSettings(ctx context.Context) ([]models.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Setting, 0, len(m.settings))
	for _, s := range m.settings {
		out = append(out, *s)
	}
	return out, nil
}

// ── shared filter helper ─────────────────────────────────────

func applyListFilter[T any](items []T, filter ListFilter, at func(T) time.Time) []T {
	out := items
	if filter.Since != nil {
		filtered := make([]T, 0, len(out))
		for _, it := range out {
			if at(it).After(*filter.Since) {
				filtered = append(filtered, it)
			}
		}
		out = filtered
	}
	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}

package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a fresh in-memory store for tests that persists into
// a per-test temporary directory.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	os.Setenv("MCPBOX_DATA_DIR", dir)
	defer os.Unsetenv("MCPBOX_DATA_DIR")
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := &models.Server{Name: "weather", Status: models.ServerStatusActive, OwnerID: "u1"}
	require.NoError(t, s.CreateServer(ctx, srv))
	require.NotEmpty(t, srv.ID)

	got, err := s.GetServerByName(ctx, "weather")
	require.NoError(t, err)
	require.Equal(t, srv.ID, got.ID)

	err = s.CreateServer(ctx, &models.Server{Name: "weather"})
	require.Error(t, err)
	var conflict *store.ErrConflict
	require.ErrorAs(t, err, &conflict)

	srv.Status = models.ServerStatusDisabled
	require.NoError(t, s.UpdateServer(ctx, srv))
	got, _ = s.GetServer(ctx, srv.ID)
	require.Equal(t, models.ServerStatusDisabled, got.Status)

	require.NoError(t, s.DeleteServer(ctx, srv.ID))
	_, err = s.GetServer(ctx, srv.ID)
	require.Error(t, err)
	var notFound *store.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestToolCRUDScopedByServer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := &models.Server{Name: "weather"}
	require.NoError(t, s.CreateServer(ctx, srv))

	tool := &models.Tool{ServerID: srv.ID, Name: "forecast", Transport: models.TransportSandbox, Enabled: true}
	require.NoError(t, s.CreateTool(ctx, tool))

	got, err := s.GetTool(ctx, srv.ID, "forecast")
	require.NoError(t, err)
	require.Equal(t, tool.ID, got.ID)

	list, err := s.ListTools(ctx, srv.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteTool(ctx, tool.ID))
	list, _ = s.ListTools(ctx, srv.ID)
	require.Empty(t, list)
}

func TestToolVersionsAutoIncrement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := &models.ToolVersion{ToolID: "tool-1", Source: "def main(): pass"}
	require.NoError(t, s.CreateToolVersion(ctx, v1))
	require.Equal(t, 1, v1.Version)

	v2 := &models.ToolVersion{ToolID: "tool-1", Source: "def main(): return 1"}
	require.NoError(t, s.CreateToolVersion(ctx, v2))
	require.Equal(t, 2, v2.Version)

	versions, err := s.ListToolVersions(ctx, "tool-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
}

func TestTokenBlacklistRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blacklisted, err := s.IsTokenBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, blacklisted)

	require.NoError(t, s.BlacklistToken(ctx, &models.TokenBlacklist{
		JTI:       "jti-1",
		ExpiresAt: time.Now().Add(-time.Hour), // already expired
	}))

	blacklisted, _ = s.IsTokenBlacklisted(ctx, "jti-1")
	require.True(t, blacklisted)

	n, err := s.PruneExpiredTokens(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	blacklisted, _ = s.IsTokenBlacklisted(ctx, "jti-1")
	require.False(t, blacklisted)
}

func TestActivityLogRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &models.ActivityLog{ActorID: "u1", Action: "login", Entity: "admin_user"}
	require.NoError(t, s.CreateActivityLog(ctx, old))

	removed, err := s.DeleteActivityLogsBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	logs, _ := s.ListActivityLogs(ctx, store.ListFilter{})
	require.Empty(t, logs)
}

func TestCredentialCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cred := &models.Credential{Name: "github-pat", Kind: models.CredentialKindAPIKey, OwnerID: "u1", Ciphertext: []byte("opaque")}
	require.NoError(t, s.CreateCredential(ctx, cred))

	list, err := s.ListCredentials(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteCredential(ctx, cred.ID))
	_, err = s.GetCredential(ctx, cred.ID)
	require.Error(t, err)
}

func TestGetCredentialByOAuthState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cred := &models.Credential{Name: "oauth-cred", Kind: models.CredentialKindOAuthTokens, OwnerID: "u1"}
	require.NoError(t, s.CreateCredential(ctx, cred))
	cred.OAuthState = "state-123"
	require.NoError(t, s.UpdateCredential(ctx, cred))

	found, err := s.GetCredentialByOAuthState(ctx, "state-123")
	require.NoError(t, err)
	require.Equal(t, cred.ID, found.ID)

	_, err = s.GetCredentialByOAuthState(ctx, "no-such-state")
	require.Error(t, err)
}

func TestListExpiringOAuthCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	soon := time.Now().Add(time.Minute)
	later := time.Now().Add(time.Hour)

	expiring := &models.Credential{Name: "expiring", Kind: models.CredentialKindOAuthTokens, OwnerID: "u1", HasRefreshToken: true, AccessTokenExpiresAt: &soon}
	require.NoError(t, s.CreateCredential(ctx, expiring))

	notYet := &models.Credential{Name: "not-yet", Kind: models.CredentialKindOAuthTokens, OwnerID: "u1", HasRefreshToken: true, AccessTokenExpiresAt: &later}
	require.NoError(t, s.CreateCredential(ctx, notYet))

	noRefresh := &models.Credential{Name: "no-refresh", Kind: models.CredentialKindOAuthTokens, OwnerID: "u1", HasRefreshToken: false, AccessTokenExpiresAt: &soon}
	require.NoError(t, s.CreateCredential(ctx, noRefresh))

	list, err := s.ListExpiringOAuthCredentials(ctx, time.Now().Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "expiring", list[0].Name)
}

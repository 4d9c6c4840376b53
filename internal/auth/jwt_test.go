package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mcpbox/control-plane/internal/auth"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeBlacklist struct {
	revoked map[string]bool
	users   map[string]*models.AdminUser
}

func (f *fakeBlacklist) IsTokenBlacklisted(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func (f *fakeBlacklist) GetAdminUser(_ context.Context, id string) (*models.AdminUser, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return &models.AdminUser{ID: id, PasswordVersion: 0}, nil
}

func TestTokenIssuerRoundtrip(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", time.Hour, 24*time.Hour)

	token, jti, err := issuer.IssueAccessToken("user-1", "a@example.com", "admin", 1)
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "admin", claims.Role)
	require.Equal(t, jti, claims.ID)
	require.Equal(t, 1, claims.PasswordVersion)
}

func TestTokenIssuerRejectsWrongSecret(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret-a", time.Hour, time.Hour)
	other := auth.NewTokenIssuer("secret-b", time.Hour, time.Hour)

	token, _, err := issuer.IssueAccessToken("user-1", "a@example.com", "admin", 1)
	require.NoError(t, err)

	_, err = other.Parse(token)
	require.Error(t, err)
}

func TestJWTProviderRejectsBlacklistedToken(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	token, jti, err := issuer.IssueAccessToken("user-1", "a@example.com", "admin", 1)
	require.NoError(t, err)

	provider := auth.NewJWTProvider(issuer, &fakeBlacklist{
		revoked: map[string]bool{jti: true},
		users:   map[string]*models.AdminUser{"user-1": {ID: "user-1", PasswordVersion: 1}},
	})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	identity, err := provider.Authenticate(context.Background(), r)
	require.Nil(t, identity)
	require.ErrorIs(t, err, auth.ErrTokenRevoked)
}

func TestJWTProviderPassesThroughWithoutHeader(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	provider := auth.NewJWTProvider(issuer, &fakeBlacklist{revoked: map[string]bool{}})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	identity, err := provider.Authenticate(context.Background(), r)
	require.NoError(t, err)
	require.Nil(t, identity)
}

func TestJWTProviderAcceptsValidToken(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	token, _, err := issuer.IssueAccessToken("user-1", "a@example.com", "owner", 1)
	require.NoError(t, err)

	provider := auth.NewJWTProvider(issuer, &fakeBlacklist{
		revoked: map[string]bool{},
		users:   map[string]*models.AdminUser{"user-1": {ID: "user-1", PasswordVersion: 1}},
	})
	r := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	identity, err := provider.Authenticate(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.Subject)
	require.Equal(t, "owner", identity.Role)
	require.Equal(t, "admin_jwt", identity.Provider)
}

func TestJWTProviderRejectsTokenAfterPasswordChange(t *testing.T) {
	issuer := auth.NewTokenIssuer("test-secret", time.Hour, time.Hour)
	token, _, err := issuer.IssueAccessToken("user-1", "a@example.com", "owner", 1)
	require.NoError(t, err)

	provider := auth.NewJWTProvider(issuer, &fakeBlacklist{
		revoked: map[string]bool{},
		users:   map[string]*models.AdminUser{"user-1": {ID: "user-1", PasswordVersion: 2}},
	})
	r := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	identity, err := provider.Authenticate(context.Background(), r)
	require.Nil(t, identity)
	require.ErrorIs(t, err, auth.ErrPasswordChanged)
}

package auth_test

import (
	"context"
	"testing"

	"github.com/mcpbox/control-plane/internal/auth"
	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeUserLookup struct {
	users map[string]*models.AdminUser
}

func (f *fakeUserLookup) GetAdminUserByEmail(_ context.Context, email string) (*models.AdminUser, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, &notFoundErr{}
	}
	return u, nil
}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "not found" }

func TestVerifyAdminLoginSucceeds(t *testing.T) {
	hash, err := cryptoutil.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	lookup := &fakeUserLookup{users: map[string]*models.AdminUser{
		"owner@example.com": {ID: "u1", Email: "owner@example.com", PasswordHash: hash, Active: true, Role: models.RoleOwner},
	}}

	user, err := auth.VerifyAdminLogin(context.Background(), lookup, "owner@example.com", "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)
}

func TestVerifyAdminLoginRejectsWrongPassword(t *testing.T) {
	hash, err := cryptoutil.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	lookup := &fakeUserLookup{users: map[string]*models.AdminUser{
		"owner@example.com": {ID: "u1", Email: "owner@example.com", PasswordHash: hash, Active: true},
	}}

	_, err = auth.VerifyAdminLogin(context.Background(), lookup, "owner@example.com", "wrong password")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestVerifyAdminLoginRejectsDisabledAccount(t *testing.T) {
	hash, err := cryptoutil.HashPassword("correct horse battery staple")
	require.NoError(t, err)

	lookup := &fakeUserLookup{users: map[string]*models.AdminUser{
		"owner@example.com": {ID: "u1", Email: "owner@example.com", PasswordHash: hash, Active: false},
	}}

	_, err = auth.VerifyAdminLogin(context.Background(), lookup, "owner@example.com", "correct horse battery staple")
	require.ErrorIs(t, err, auth.ErrAccountDisabled)
}

func TestVerifyAdminLoginRejectsUnknownEmail(t *testing.T) {
	lookup := &fakeUserLookup{users: map[string]*models.AdminUser{}}

	_, err := auth.VerifyAdminLogin(context.Background(), lookup, "nobody@example.com", "whatever")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

package auth

import (
	"context"
	"errors"

	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/pkg/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account disabled")
)

// dummyHash is a fixed Argon2id hash verified against on an unknown
// email, so the work VerifyAdminLogin does is the same whether or not
// the account exists — an unknown email must take as long to reject as
// a known one with a wrong password, or the response latency itself
// leaks which emails are registered.
var dummyHash string

func init() {
	h, err := cryptoutil.HashPassword("mcpbox-enumeration-resistance-dummy-password")
	if err == nil {
		dummyHash = h
	}
}

// AdminUserLookup is the subset of store.AdminUserStore the password
// verifier needs.
type AdminUserLookup interface {
	GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error)
}

// VerifyAdminLogin checks email/password against the stored Argon2id hash.
// It does not issue tokens — callers pass the result to TokenIssuer.
func VerifyAdminLogin(ctx context.Context, users AdminUserLookup, email, password string) (*models.AdminUser, error) {
	user, err := users.GetAdminUserByEmail(ctx, email)
	if err != nil {
		// No such user: still run a full Argon2id verification against a
		// dummy hash before rejecting, so the timing of an unknown email
		// matches that of a known one with a wrong password.
		_, _ = cryptoutil.VerifyPassword(password, dummyHash)
		return nil, ErrInvalidCredentials
	}

	ok, err := cryptoutil.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	if !user.Active {
		return nil, ErrAccountDisabled
	}

	return user, nil
}

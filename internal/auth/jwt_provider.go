package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mcpbox/control-plane/pkg/contracts"
	"github.com/mcpbox/control-plane/pkg/models"
)

// ErrPasswordChanged is returned when a token's password_version no
// longer matches the user's current one — the account's password was
// changed after this token was issued.
var ErrPasswordChanged = errors.New("token invalidated by password change")

// BlacklistChecker is satisfied by internal/store.Store; declared locally
// so JWTProvider depends only on the two lookups it needs (mirroring
// kubilitics-backend's ValidateTokenWithRepo pattern).
type BlacklistChecker interface {
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
	GetAdminUser(ctx context.Context, id string) (*models.AdminUser, error)
}

// JWTProvider authenticates admin session tokens presented as
// "Authorization: Bearer <jwt>".
type JWTProvider struct {
	issuer    *TokenIssuer
	blacklist BlacklistChecker
}

func NewJWTProvider(issuer *TokenIssuer, blacklist BlacklistChecker) *JWTProvider {
	return &JWTProvider{issuer: issuer, blacklist: blacklist}
}

func (p *JWTProvider) Name() string  { return "admin_jwt" }
func (p *JWTProvider) Enabled() bool { return p.issuer != nil }

func (p *JWTProvider) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, nil
	}
	token := strings.TrimPrefix(header, "Bearer ")

	claims, err := p.issuer.Parse(token)
	if err != nil {
		return nil, err
	}

	if p.blacklist != nil {
		blacklisted, err := p.blacklist.IsTokenBlacklisted(ctx, claims.ID)
		if err != nil {
			// best-effort: a blacklist lookup failure should not itself
			// authenticate a revoked token, but it also shouldn't take
			// down the whole API — fail closed only on a confirmed hit.
			blacklisted = false
		}
		if blacklisted {
			return nil, ErrTokenRevoked
		}

		user, err := p.blacklist.GetAdminUser(ctx, claims.Subject)
		if err != nil {
			return nil, err
		}
		if user.PasswordVersion != claims.PasswordVersion {
			return nil, ErrPasswordChanged
		}
	}

	return &contracts.Identity{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Provider:  "admin_jwt",
		Role:      claims.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

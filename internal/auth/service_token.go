package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/mcpbox/control-plane/pkg/contracts"
)

var ErrInvalidServiceToken = errors.New("invalid service token")

// ServiceTokenProvider authenticates requests carrying an X-Service-Token
// header against a single shared key from config — it's a two-process deployment on
// one host, not a multi-tenant credential, so a static compare is enough.
type ServiceTokenProvider struct {
	key     []byte
	enabled bool
}

func NewServiceTokenProvider(key string) *ServiceTokenProvider {
	return &ServiceTokenProvider{key: []byte(key), enabled: key != ""}
}

func (p *ServiceTokenProvider) Name() string  { return "service_token" }
func (p *ServiceTokenProvider) Enabled() bool { return p.enabled }

func (p *ServiceTokenProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	candidate := r.Header.Get("X-Service-Token")
	if candidate == "" {
		return nil, nil
	}
	if subtle.ConstantTimeCompare([]byte(candidate), p.key) != 1 {
		return nil, ErrInvalidServiceToken
	}
	return &contracts.Identity{
		Subject:     "service:sandbox",
		Provider:    "service_token",
		Role:        "service",
		DisplayName: "sandbox process",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}, nil
}

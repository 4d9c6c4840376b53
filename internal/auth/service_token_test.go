package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcpbox/control-plane/internal/auth"
	"github.com/stretchr/testify/require"
)

func TestServiceTokenProviderAcceptsMatchingKey(t *testing.T) {
	p := auth.NewServiceTokenProvider("loopback-secret")

	r := httptest.NewRequest(http.MethodPost, "/internal/credentials/x/decrypt", nil)
	r.Header.Set("X-Service-Token", "loopback-secret")

	identity, err := p.Authenticate(context.Background(), r)
	require.NoError(t, err)
	require.Equal(t, "service:sandbox", identity.Subject)
}

func TestServiceTokenProviderRejectsWrongKey(t *testing.T) {
	p := auth.NewServiceTokenProvider("loopback-secret")

	r := httptest.NewRequest(http.MethodPost, "/internal/credentials/x/decrypt", nil)
	r.Header.Set("X-Service-Token", "wrong")

	identity, err := p.Authenticate(context.Background(), r)
	require.Nil(t, identity)
	require.ErrorIs(t, err, auth.ErrInvalidServiceToken)
}

func TestServiceTokenProviderDisabledWithoutKey(t *testing.T) {
	p := auth.NewServiceTokenProvider("")
	require.False(t, p.Enabled())
}

package ssrf_test

import (
	"context"
	"testing"

	"github.com/mcpbox/control-plane/internal/ssrf"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}
	return nil, context.DeadlineExceeded
}

func TestValidateRejectsBlockedHostname(t *testing.T) {
	_, err := ssrf.Validate(context.Background(), fakeResolver{}, "http://localhost/admin")
	require.Error(t, err)
}

func TestValidateRejectsPrivateResolvedIP(t *testing.T) {
	r := fakeResolver{"internal.example.com": {"10.0.0.5"}}
	_, err := ssrf.Validate(context.Background(), r, "http://internal.example.com/")
	require.Error(t, err)
}

func TestValidateRejectsIPv4MappedPrivateAddress(t *testing.T) {
	r := fakeResolver{"sneaky.example.com": {"::ffff:127.0.0.1"}}
	_, err := ssrf.Validate(context.Background(), r, "http://sneaky.example.com/")
	require.Error(t, err)
}

func TestValidatePinsFirstPublicAddress(t *testing.T) {
	r := fakeResolver{"api.example.com": {"93.184.216.34"}}
	v, err := ssrf.Validate(context.Background(), r, "https://api.example.com/v1")
	require.NoError(t, err)
	require.Equal(t, "93.184.216.34", v.PinnedIP.String())
	require.Equal(t, 443, v.Port)
	require.Equal(t, "93.184.216.34:443", v.DialAddr())
}

func TestValidateRejectsBadScheme(t *testing.T) {
	_, err := ssrf.Validate(context.Background(), fakeResolver{}, "ftp://example.com/file")
	require.Error(t, err)
}

func TestValidateFailsClosedOnDNSFailure(t *testing.T) {
	_, err := ssrf.Validate(context.Background(), fakeResolver{}, "http://nonexistent.invalid/")
	require.Error(t, err)
}

package sandboxrt

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mcpbox/control-plane/internal/ssrf"
)

// SafeHTTPClient performs outbound HTTP requests on behalf of tool code,
// validating every URL through internal/ssrf and dialing the pinned IP
// directly so DNS cannot be re-resolved between validation and dial
// (TOCTOU/rebinding defence).
type SafeHTTPClient struct {
	resolver ssrf.Resolver
	timeout  time.Duration
}

func NewSafeHTTPClient(resolver ssrf.Resolver, timeout time.Duration) *SafeHTTPClient {
	if resolver == nil {
		resolver = ssrf.NetResolver{}
	}
	return &SafeHTTPClient{resolver: resolver, timeout: timeout}
}

// Do validates rawURL, builds a *http.Client pinned to the validated
// address, and executes the request. The response body is read here, up
// to maxHTTPResponseBytes, and closed before Do returns.
func (c *SafeHTTPClient) Do(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (status int, respBody []byte, err error) {
	validated, err := ssrf.Validate(ctx, c.resolver, rawURL)
	if err != nil {
		return 0, nil, err
	}

	client := &http.Client{
		Timeout: c.timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				d := net.Dialer{Timeout: c.timeout}
				return d.DialContext(ctx, network, validated.DialAddr())
			},
			TLSClientConfig: &tls.Config{ServerName: validated.Hostname},
		},
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseBytes))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

const maxHTTPResponseBytes = 4 * 1024 * 1024

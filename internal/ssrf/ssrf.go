// Package ssrf implements outbound URL validation with DNS pinning:
// resolve DNS once, reject private/internal targets, and hand back the
// pinned IP that the actual request must dial — closing the DNS-rebinding
// TOCTOU window between validation and the real connection.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
)

// Error is returned for any URL rejected for SSRF prevention.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "ssrf: " + e.Reason }

// blockedPrefixes mirrors BLOCKED_IP_RANGES from the original validator.
var blockedPrefixes = mustParsePrefixes(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
)

// blockedHostnames mirrors BLOCKED_HOSTNAMES from the original validator.
var blockedHostnames = map[string]bool{
	"localhost":                            true,
	"localhost.localdomain":                true,
	"127.0.0.1":                            true,
	"0.0.0.0":                              true,
	"::1":                                  true,
	"ip6-localhost":                        true,
	"ip6-loopback":                         true,
	"169.254.169.254":                      true,
	"metadata.aws.internal":                true,
	"instance-data.ec2.internal":           true,
	"metadata.google.internal":             true,
	"metadata.gke.internal":                true,
	"169.254.169.255":                      true,
	"metadata.azure.com":                   true,
	"kubernetes":                           true,
	"kubernetes.default":                   true,
	"kubernetes.default.svc":               true,
	"kubernetes.default.svc.cluster.local": true,
}

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic(err) // only ever called with the constants above
		}
		out = append(out, p)
	}
	return out
}

// IsPrivateIP reports whether ip falls in a blocked range, unwrapping
// IPv4-mapped and IPv4-compatible IPv6 addresses first so they cannot be
// used to smuggle a private IPv4 address past the IPv6 check.
func IsPrivateIP(ip netip.Addr) bool {
	if ip.Is4In6() {
		ip = ip.Unmap()
	} else if b := ip.As16(); ip.Is6() && [12]byte(b[:12]) == ([12]byte{}) && !ip.IsUnspecified() && !ip.IsLoopback() {
		ip = netip.AddrFrom4([4]byte(b[12:]))
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// Validated is the result of validation with IP pinning: Resolver/HTTP
// clients must dial PinnedIP directly and present Hostname only via the
// Host header/SNI, never re-resolving the hostname themselves.
type Validated struct {
	OriginalURL string
	Hostname    string
	PinnedIP    netip.Addr
	Port        int
	Scheme      string
}

// DialAddr returns the host:port to dial directly (bypassing DNS).
func (v *Validated) DialAddr() string {
	return net.JoinHostPort(v.PinnedIP.String(), strconv.Itoa(v.Port))
}

// Resolver abstracts DNS resolution so tests can inject fake results.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Validate resolves rawURL's hostname once and rejects it if the scheme,
// hostname, or any resolved address is blocked. The first valid address is
// pinned for the caller to dial directly.
func Validate(ctx context.Context, resolver Resolver, rawURL string) (*Validated, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("invalid URL: %v", err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, &Error{Reason: fmt.Sprintf("scheme must be http or https, got %q", parsed.Scheme)}
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return nil, &Error{Reason: "URL must have a hostname"}
	}
	if blockedHostnames[strings.ToLower(hostname)] {
		return nil, &Error{Reason: fmt.Sprintf("access to %q is not allowed", hostname)}
	}

	port := 80
	if parsed.Scheme == "https" {
		port = 443
	}
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, &Error{Reason: "invalid port"}
		}
	}

	addrs, err := resolver.LookupHost(ctx, hostname)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("DNS resolution failed for %q: cannot verify safety", hostname)}
	}

	var pinned netip.Addr
	found := false
	for _, a := range addrs {
		ip, err := netip.ParseAddr(a)
		if err != nil {
			continue
		}
		if IsPrivateIP(ip) {
			return nil, &Error{Reason: fmt.Sprintf("%q resolves to private IP %s; access to internal resources is not allowed", hostname, ip)}
		}
		if !found {
			pinned = ip
			found = true
		}
	}
	if !found {
		return nil, &Error{Reason: fmt.Sprintf("no valid IP addresses found for %q", hostname)}
	}

	return &Validated{
		OriginalURL: rawURL,
		Hostname:    hostname,
		PinnedIP:    pinned,
		Port:        port,
		Scheme:      parsed.Scheme,
	}, nil
}

// NetResolver is the Resolver backed by net.DefaultResolver.
type NetResolver struct{}

func (NetResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// Package oauth implements C9: an OAuth 2.1 client for external MCP
// servers that require authorization — protected-resource/authorization-
// server discovery, the PKCE authorization-code exchange, refresh-token
// exchange, and a background sweep that keeps access tokens from expiring
// unattended.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// pkcePair is a verifier/challenge pair for RFC 7636 code_challenge_method=S256.
type pkcePair struct {
	Verifier  string
	Challenge string
}

// newPKCEPair generates a verifier of 96 random bytes (128 base64url
// characters, well over the 43-character minimum RFC 7636 requires) and
// its S256 challenge.
func newPKCEPair() (pkcePair, error) {
	raw := make([]byte, 96)
	if _, err := rand.Read(raw); err != nil {
		return pkcePair{}, fmt.Errorf("generate pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	return pkcePair{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// newState generates a CSRF state nonce for the authorization-code flow.
func newState() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

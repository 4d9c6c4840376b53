package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mcpbox/control-plane/pkg/contracts"
	"github.com/rs/zerolog/log"
)

type identityKey struct{}

// AuthMiddleware authenticates every request through a contracts.AuthProviderChain
// (admin session JWTs, the sandbox's service token) and stores the resulting
// Identity in context for handlers to read.
type AuthMiddleware struct {
	chain contracts.AuthProviderChain
}

func NewAuthMiddleware(chain contracts.AuthProviderChain) *AuthMiddleware {
	return &AuthMiddleware{chain: chain}
}

// Handler authenticates the request; public paths (health, MCP gateway —
// the gateway enforces its own email-allowlist policy) bypass the chain.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
			respondUnauthorized(w, err.Error())
			return
		}
		if identity == nil {
			respondUnauthorized(w, "authentication required: set Authorization: Bearer <jwt> or X-Service-Token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identity retrieves the authenticated caller from context, if any.
func Identity(ctx context.Context) *contracts.Identity {
	id, _ := ctx.Value(identityKey{}).(*contracts.Identity)
	return id
}

func isPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return strings.HasPrefix(path, "/mcp")
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="mcpbox"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": msg,
	})
}

// Package api assembles the MCPbox control plane's HTTP surface: the chi
// router, middleware chain, and route tree over internal/api/handlers.
package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/mcpbox/control-plane/internal/api/handlers"
	"github.com/mcpbox/control-plane/internal/api/middleware"
	"github.com/mcpbox/control-plane/internal/config"
	"github.com/mcpbox/control-plane/internal/ratelimit"
	"github.com/mcpbox/control-plane/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the control plane's HTTP router: global middleware,
// pluggable auth, then the full /api/v1 route tree plus the standalone
// /mcp gateway endpoint.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authChain contracts.AuthProviderChain, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	if limiter != nil {
		r.Use(limiter.Middleware)
	}

	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain)
		r.Use(authMW.Handler)
	}

	corsOrigins := parseCORSOrigins(cfg)
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-API-Key", "X-Service-Token"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/version", h.Version(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Post("/change-password", h.ChangePassword)
			r.Get("/me", h.Me)
		})

		r.Route("/servers", func(r chi.Router) {
			r.Get("/", h.ListServers)
			r.Post("/", h.CreateServer)
			r.Route("/{serverID}", func(r chi.Router) {
				r.Get("/", h.GetServer)
				r.Put("/", h.UpdateServer)
				r.Delete("/", h.DeleteServer)

				r.Route("/tools", func(r chi.Router) {
					r.Get("/", h.ListTools)
					r.Post("/", h.CreateTool)
				})

				r.Route("/secrets", func(r chi.Router) {
					r.Get("/", h.ListServerSecrets)
					r.Post("/", h.CreateServerSecret)
					r.Delete("/{secretID}", h.DeleteServerSecret)
				})

				r.Get("/logs", h.ListToolExecutionLogs)
			})
		})

		r.Route("/tools/{toolID}", func(r chi.Router) {
			r.Get("/", h.GetTool)
			r.Put("/", h.UpdateTool)
			r.Delete("/", h.DeleteTool)
			r.Post("/approve", h.ApproveTool)
			r.Post("/reject", h.RejectTool)
			r.Post("/rollback", h.RollbackTool)
			r.Get("/versions", h.ListToolVersions)
		})

		r.Route("/external-sources", func(r chi.Router) {
			r.Get("/", h.ListExternalSources)
			r.Post("/", h.CreateExternalSource)
			r.Route("/{sourceID}", func(r chi.Router) {
				r.Get("/", h.GetExternalSource)
				r.Put("/", h.UpdateExternalSource)
				r.Delete("/", h.DeleteExternalSource)
				r.Post("/discover", h.DiscoverExternalTools)
			})
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", h.ListCredentials)
			r.Post("/", h.CreateCredential)
			r.Route("/{credentialID}", func(r chi.Router) {
				r.Get("/", h.GetCredential)
				r.Put("/", h.UpdateCredential)
				r.Delete("/", h.DeleteCredential)
			})
		})

		r.Route("/network-access-requests", func(r chi.Router) {
			r.Get("/", h.ListNetworkAccessRequests)
			r.Post("/{requestID}/decide", h.DecideNetworkAccessRequest)
		})

		r.Route("/module-requests", func(r chi.Router) {
			r.Get("/", h.ListModuleRequests)
			r.Post("/{requestID}/decide", h.DecideModuleRequest)
		})

		r.Route("/security-profile", func(r chi.Router) {
			r.Get("/", h.GetSecurityProfile)
			r.Put("/", h.SetSecurityProfile)
		})

		r.Route("/admin-users", func(r chi.Router) {
			r.Get("/", h.ListAdminUsers)
			r.Post("/", h.CreateAdminUser)
			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/", h.GetAdminUser)
				r.Put("/", h.UpdateAdminUser)
			})
		})

		r.Route("/oauth", func(r chi.Router) {
			r.Get("/providers", h.ListOAuthProviders)
			r.Get("/callback", h.OAuthCallback)
			r.Post("/callback", h.OAuthCallback)
			r.Route("/credentials/{credentialID}", func(r chi.Router) {
				r.Post("/start", h.StartOAuth)
				r.Post("/refresh", h.RefreshOAuthCredential)
				r.Get("/status", h.OAuthCredentialStatus)
			})
		})

		r.Route("/tunnel", func(r chi.Router) {
			r.Get("/", h.TunnelStatus)
			r.Put("/", h.TunnelConfigure)
		})

		r.Get("/audit", h.ListActivityLogs)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", h.ListSettings)
			r.Put("/", h.UpsertSetting)
		})

		r.Route("/export", func(r chi.Router) {
			r.Get("/", h.ExportServers)
		})
		r.Route("/import", func(r chi.Router) {
			r.Post("/", h.ImportServers)
		})
	})

	r.Route("/mcp", func(r chi.Router) {
		r.Post("/", h.MCPEndpoint)
		r.Get("/sse", h.MCPSSEEndpoint)
	})

	return r
}

// parseCORSOrigins reads allowed CORS origins from config, falling back
// to the MCPBOX_CORS_ORIGINS env var for deployments that set it directly
// instead of through config.Load.
func parseCORSOrigins(cfg *config.Config) []string {
	if len(cfg.CORSOrigins) > 0 {
		return cfg.CORSOrigins
	}
	originsEnv := os.Getenv("MCPBOX_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

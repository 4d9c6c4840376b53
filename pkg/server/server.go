// Package server provides the public entry point for initializing the
// MCPbox control plane: it wires together storage, crypto, the sandbox
// client, the MCP gateway, the approval workflow, OAuth, the tunnel
// bridge, and the HTTP router.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mcpbox/control-plane/internal/api"
	"github.com/mcpbox/control-plane/internal/api/handlers"
	"github.com/mcpbox/control-plane/internal/approval"
	"github.com/mcpbox/control-plane/internal/audit"
	"github.com/mcpbox/control-plane/internal/auth"
	"github.com/mcpbox/control-plane/internal/circuitbreaker"
	"github.com/mcpbox/control-plane/internal/config"
	"github.com/mcpbox/control-plane/internal/credential"
	"github.com/mcpbox/control-plane/internal/cryptoutil"
	"github.com/mcpbox/control-plane/internal/mcpgw"
	"github.com/mcpbox/control-plane/internal/mcpsession"
	"github.com/mcpbox/control-plane/internal/oauth"
	"github.com/mcpbox/control-plane/internal/ratelimit"
	"github.com/mcpbox/control-plane/internal/sandboxclient"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/internal/telemetry"
	"github.com/mcpbox/control-plane/internal/tunnel"
	"github.com/mcpbox/control-plane/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// Server holds the fully wired control plane.
type Server struct {
	Handler  http.Handler
	Store    store.Store
	Gateway  *mcpgw.Gateway
	Approval *approval.Service
	Audit    *audit.Logger
	Janitor  *audit.Janitor
	Tunnel   *tunnel.LocalController
	Config   *config.Config

	janitorCancel context.CancelFunc
	shutdownFunc  func(context.Context) error
}

// New loads configuration from the environment and builds the server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds the control plane from an explicit configuration,
// for deployments and tests that need non-default settings.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore()
	log.Info().Msg("in-memory store initialized")

	return build(ctx, cfg, dataStore, shutdown)
}

func build(ctx context.Context, cfg *config.Config, dataStore store.Store, shutdown func(context.Context) error) (*Server, error) {
	box, err := cryptoutil.NewBox(cfg.EncryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("init encryption box: %w", err)
	}
	creds := credential.NewService(dataStore, box)
	log.Info().Msg("credential service initialized")

	httpClient := &http.Client{Timeout: 30 * time.Second}

	sandbox, err := sandboxclient.New(cfg.SandboxBaseURL, cfg.SandboxAPIKey, httpClient)
	if err != nil {
		return nil, fmt.Errorf("init sandbox client: %w", err)
	}
	log.Info().Str("base_url", cfg.SandboxBaseURL).Msg("sandbox client initialized")

	pool := mcpsession.NewPool(mcpsession.NewHTTPClientFactory(httpClient), cfg.MCPSessionPoolSize, cfg.MCPSessionIdleTTL)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	limiter := ratelimit.NewLimiter(cfg.TrustedProxyIPs)

	gw := mcpgw.NewGateway(dataStore, sandbox, pool, breakers, limiter, creds)
	log.Info().Msg("MCP gateway initialized")

	apprSvc := approval.NewService(dataStore, gw)
	log.Info().Msg("approval service initialized")

	oauthSvc := oauth.NewService(dataStore, creds, "", httpClient)

	tun := tunnel.NewLocalController(fmt.Sprintf("127.0.0.1:%d", cfg.Port))

	auditLogger := audit.NewLogger(dataStore)
	janitor := audit.NewJanitor(dataStore, 6*time.Hour)
	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	go janitor.Run(janitorCtx)
	log.Info().Msg("audit retention janitor started")

	tokens := auth.NewTokenIssuer(cfg.JWTSecretKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	authChain := auth.NewProviderChain()
	authChain.RegisterProvider(auth.NewJWTProvider(tokens, dataStore))
	svcToken := auth.NewServiceTokenProvider(cfg.SandboxAPIKey)
	if svcToken.Enabled() {
		authChain.RegisterProvider(svcToken)
	}

	h := handlers.New(dataStore, cfg, gw, creds, apprSvc, oauthSvc, tun, sandbox, tokens)
	h.Audit = auditLogger

	router := api.NewRouter(cfg, h, authChain, limiter)

	return &Server{
		Handler:       router,
		Store:         dataStore,
		Gateway:       gw,
		Approval:      apprSvc,
		Audit:         auditLogger,
		Janitor:       janitor,
		Tunnel:        tun,
		Config:        cfg,
		janitorCancel: janitorCancel,
		shutdownFunc:  shutdown,
	}, nil
}

// Shutdown stops background goroutines and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.janitorCancel != nil {
		s.janitorCancel()
	}
	if s.Tunnel != nil {
		_ = s.Tunnel.Configure(ctx, contracts.TunnelConfig{})
	}
	if s.shutdownFunc != nil {
		return s.shutdownFunc(ctx)
	}
	return nil
}

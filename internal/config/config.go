// Package config loads MCPbox configuration from the environment: small
// typed helpers with defaults, one Load() that returns a fully-populated
// Config.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the management-process configuration.
type Config struct {
	Port        int
	ServiceName string
	Version     string

	DatabaseURL string

	OTELEnabled  bool
	OTELEndpoint string

	// Crypto
	EncryptionKeyHex string // 32-byte AES-256 key, hex-encoded
	HMACKeyHex       string // key for export/import signatures

	// Auth
	JWTSecretKey         string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	AdminSessionCacheTTL time.Duration

	// Sandbox control API
	SandboxAPIKey         string
	SandboxBaseURL        string
	RequireResourceLimits bool
	SandboxMaxOutputBytes int
	SandboxMaxMemoryBytes int64
	SandboxDefaultTimeout time.Duration
	SandboxAllowedModules []string

	// Networking
	TrustedProxyIPs map[string]bool
	CORSOrigins     []string

	// Retention
	LogRetentionDays int

	// Session pool
	MCPSessionPoolSize int
	MCPSessionIdleTTL  time.Duration
}

// Load reads configuration from the environment, matching the envStr/
// envInt/envBool helper pattern the control plane has always used.
func Load() *Config {
	return &Config{
		Port:        envInt("MCPBOX_PORT", 8080),
		ServiceName: envStr("MCPBOX_SERVICE_NAME", "mcpbox-control-plane"),
		Version:     envStr("MCPBOX_VERSION", "0.1.0"),

		DatabaseURL: envStr("DATABASE_URL", ""),

		OTELEnabled:  envBool("OTEL_ENABLED", false),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		EncryptionKeyHex: envStr("MCPBOX_ENCRYPTION_KEY", ""),
		HMACKeyHex:       envStr("MCPBOX_HMAC_KEY", ""),

		JWTSecretKey:         envStr("JWT_SECRET_KEY", ""),
		AccessTokenTTL:       envDuration("MCPBOX_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:      envDuration("MCPBOX_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		AdminSessionCacheTTL: envDuration("MCPBOX_EMAIL_POLICY_CACHE_TTL", 30*time.Second),

		SandboxAPIKey:         envStr("SANDBOX_API_KEY", ""),
		SandboxBaseURL:        envStr("SANDBOX_BASE_URL", "http://127.0.0.1:8090"),
		RequireResourceLimits: envBool("REQUIRE_RESOURCE_LIMITS", false),
		SandboxMaxOutputBytes: envInt("SANDBOX_MAX_OUTPUT_SIZE", 1<<20),
		SandboxMaxMemoryBytes: int64(envInt("SANDBOX_MAX_MEMORY_BYTES", 256<<20)),
		SandboxDefaultTimeout: envDuration("SANDBOX_DEFAULT_TIMEOUT", 10*time.Second),
		SandboxAllowedModules: envStringSlice("SANDBOX_ALLOWED_MODULES", []string{"json", "time", "math"}),

		TrustedProxyIPs: envStringSet("TRUSTED_PROXY_IPS"),
		CORSOrigins:     envStringSlice("MCPBOX_CORS_ORIGINS", []string{"*"}),

		LogRetentionDays: envInt("MCPBOX_LOG_RETENTION_DAYS", 90),

		MCPSessionPoolSize: envInt("MCPBOX_SESSION_POOL_SIZE", 50),
		MCPSessionIdleTTL:  envDuration("MCPBOX_SESSION_IDLE_TTL", 10*time.Minute),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envStringSlice(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envStringSet(key string) map[string]bool {
	out := make(map[string]bool)
	for _, ip := range strings.Split(os.Getenv(key), ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			out[ip] = true
		}
	}
	return out
}

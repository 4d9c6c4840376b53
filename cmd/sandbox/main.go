// MCPbox Sandbox is the execution process in MCPbox's two-process
// architecture. It holds no database connection: the control plane pushes
// server registrations and secrets to it over HTTP, and it runs tool
// source against the Starlark runtime inside a resource-limited process.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mcpbox/control-plane/internal/registry"
	"github.com/mcpbox/control-plane/internal/sandboxapi"
	"github.com/mcpbox/control-plane/internal/sandboxrt"
	"github.com/mcpbox/control-plane/internal/ssrf"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	apiKey := os.Getenv("SANDBOX_API_KEY")
	if apiKey == "" {
		log.Fatal().Msg("SANDBOX_API_KEY is required")
	}

	requireLimits := os.Getenv("REQUIRE_RESOURCE_LIMITS") != "false"
	limits := sandboxrt.SetResourceLimits(uint64(envInt("SANDBOX_MAX_MEMORY_BYTES", 256<<20)))
	if err := sandboxrt.ValidateResourceLimits(limits, requireLimits); err != nil {
		log.Fatal().Err(err).Msg("resource limits not satisfied")
	}

	timeout := envDuration("SANDBOX_HTTP_TIMEOUT", 10*time.Second)
	maxOutputBytes := envInt("SANDBOX_MAX_OUTPUT_SIZE", 1<<20)
	safeClient := sandboxrt.NewSafeHTTPClient(ssrf.NetResolver{}, timeout)
	runtime := sandboxrt.NewRuntimeWithOutputLimit(safeClient, maxOutputBytes)
	reg := registry.NewRegistry(runtime)
	api := sandboxapi.NewServer(reg, safeClient, apiKey)

	port := envInt("SANDBOX_PORT", 8090)
	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Int("port", port).Msg("mcpbox sandbox ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// MCPbox Control Plane is the management process in MCPbox's two-process
// architecture. It serves the admin API and the MCP gateway endpoint, and
// owns all stored state: server/tool registration, the
// approval workflow, credentials, OAuth, and the tunnel bridge. The second
// process, cmd/sandbox, does the actual tool execution.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcpbox/control-plane/internal/config"
	"github.com/mcpbox/control-plane/internal/keyrotation"
	"github.com/mcpbox/control-plane/internal/store"
	"github.com/mcpbox/control-plane/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) > 1 && os.Args[1] == "rotate-key" {
		runRotateKey(os.Args[2:])
		return
	}

	log.Info().Msg("mcpbox control plane starting")

	ctx := context.Background()
	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}
	defer srv.Store.Close()
	defer srv.Shutdown(ctx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Config.Port),
		Handler:      srv.Handler,
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

	log.Info().Int("port", srv.Config.Port).Msg("mcpbox control plane ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// runRotateKey re-encrypts every stored credential, decrypting under the
// key given as --old-key and encrypting under the one given as --new-key,
// for operators rotating the at-rest key on a schedule. The bundled store is in-memory, so this only
// exercises the rotation logic within a single process; a deployment
// with a persistent store points keyrotation.RunCLI at its own
// store.Store implementation.
func runRotateKey(args []string) {
	_ = config.Load()
	ctx := context.Background()

	dataStore := store.NewMemoryStore()
	if err := keyrotation.RunCLI(ctx, dataStore, args, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("key rotation failed")
	}
}

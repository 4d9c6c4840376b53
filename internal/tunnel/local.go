// Package tunnel supervises the reverse-tunnel subprocess (e.g.
// cloudflared) that exposes the gateway's public HTTP endpoint: spawn,
// scan stdout for a readiness/URL signal, monitor exit in the background,
// stop gracefully with a kill fallback. MCPbox only supervises the
// process and surfaces its status/public URL through
// pkg/contracts.TunnelController — the provider-specific setup wizard
// (DNS, named tunnels, dashboard registration) is out of scope.
package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/mcpbox/control-plane/pkg/contracts"
	"github.com/rs/zerolog/log"
)

var publicURLPattern = regexp.MustCompile(`https://[a-zA-Z0-9.-]+\.(trycloudflare\.com|ngrok-free\.app|ngrok\.io)[^\s]*`)

// LocalController starts the configured tunnel binary as a local
// subprocess pointed at listenAddr. One instance per process; Configure
// may be called again to reconfigure or stop the tunnel.
type LocalController struct {
	mu         sync.Mutex
	listenAddr string

	cmd        *exec.Cmd
	cancel     context.CancelFunc
	status     contracts.TunnelStatus
	configured contracts.TunnelConfig
}

func NewLocalController(listenAddr string) *LocalController {
	return &LocalController{listenAddr: listenAddr}
}

func (c *LocalController) Status(_ context.Context) (contracts.TunnelStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, nil
}

// Configure stops any running tunnel and, if cfg names a provider and
// carries a token, starts a new one. Passing a zero-value TunnelConfig
// stops the tunnel without starting a new one.
func (c *LocalController) Configure(ctx context.Context, cfg contracts.TunnelConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.configured = cfg

	if cfg.Provider == "" {
		c.status = contracts.TunnelStatus{Running: false}
		return nil
	}

	binary, args, err := commandFor(cfg, c.listenAddr)
	if err != nil {
		c.status = contracts.TunnelStatus{Running: false, LastError: err.Error()}
		return err
	}

	if _, err := exec.LookPath(binary); err != nil {
		c.status = contracts.TunnelStatus{Running: false, LastError: fmt.Sprintf("%s not found in PATH", binary)}
		return fmt.Errorf("tunnel binary %q not found: %w", binary, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("create tunnel stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout // cloudflared logs its quick-tunnel URL on stderr in some versions too

	if err := cmd.Start(); err != nil {
		cancel()
		c.status = contracts.TunnelStatus{Running: false, LastError: err.Error()}
		return fmt.Errorf("start tunnel process: %w", err)
	}

	c.cmd = cmd
	c.cancel = cancel
	c.status = contracts.TunnelStatus{Running: true}

	go c.watchOutput(stdout)
	go c.watchExit(cmd)

	log.Info().Str("provider", string(cfg.Provider)).Int("pid", cmd.Process.Pid).Msg("tunnel process started")
	return nil
}

func (c *LocalController) watchOutput(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if url := publicURLPattern.FindString(line); url != "" {
			c.mu.Lock()
			c.status.PublicURL = url
			c.status.Running = true
			c.mu.Unlock()
			log.Info().Str("public_url", url).Msg("tunnel public URL detected")
		}
	}
}

func (c *LocalController) watchExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != cmd {
		return // superseded by a later Configure call
	}
	c.status.Running = false
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.cmd = nil
	c.cancel = nil
	log.Warn().Err(err).Msg("tunnel process exited")
}

func (c *LocalController) stopLocked() {
	if c.cmd == nil {
		return
	}
	proc := c.cmd.Process
	cancel := c.cancel
	c.cmd = nil
	c.cancel = nil

	if proc != nil {
		_ = proc.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() {
			_, _ = proc.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			_ = proc.Kill()
		}
	}
	if cancel != nil {
		cancel()
	}
}

// Close stops any running tunnel process; called on server shutdown.
func (c *LocalController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	return nil
}

func commandFor(cfg contracts.TunnelConfig, listenAddr string) (binary string, args []string, err error) {
	switch cfg.Provider {
	case "cloudflare":
		if cfg.Token != "" {
			return "cloudflared", []string{"tunnel", "run", "--token", cfg.Token}, nil
		}
		return "cloudflared", []string{"tunnel", "--url", "http://" + listenAddr}, nil
	case "ngrok":
		return "ngrok", []string{"http", listenAddr}, nil
	default:
		return "", nil, fmt.Errorf("unsupported tunnel provider %q", cfg.Provider)
	}
}

package sandboxrt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
)

// defaultMaxStdoutBytes caps captured print() output when a Runtime is
// built without an explicit limit (tests, mostly) — production wiring
// passes SANDBOX_MAX_OUTPUT_SIZE from config.
const defaultMaxStdoutBytes = 1 << 20

// Request is one tool invocation.
type Request struct {
	ToolName       string
	Source         string
	AllowedModules []string
	Args           map[string]interface{}
	Secrets        map[string]string
	Timeout        time.Duration
}

// Result is the outcome of a tool invocation.
type Result struct {
	Value  interface{}
	Error  string // set instead of Value on a tool-level failure
	Stdout string // captured print() output, capped at maxStdoutBytes
}

// Runtime executes Starlark tool sources against a shared SSRF-guarded
// HTTP client.
type Runtime struct {
	httpClient     *SafeHTTPClient
	maxStdoutBytes int
}

func NewRuntime(httpClient *SafeHTTPClient) *Runtime {
	return &Runtime{httpClient: httpClient, maxStdoutBytes: defaultMaxStdoutBytes}
}

// NewRuntimeWithOutputLimit is NewRuntime with an explicit stdout cap,
// for callers wiring SANDBOX_MAX_OUTPUT_SIZE through from config.
func NewRuntimeWithOutputLimit(httpClient *SafeHTTPClient, maxStdoutBytes int) *Runtime {
	if maxStdoutBytes <= 0 {
		maxStdoutBytes = defaultMaxStdoutBytes
	}
	return &Runtime{httpClient: httpClient, maxStdoutBytes: maxStdoutBytes}
}

// cappedWriter is an io.Writer-like sink for thread.Print that stops
// appending once it reaches limit, so a tool that prints in a loop can't
// grow the log entry (or the HTTP response carrying it) without bound.
type cappedWriter struct {
	buf   strings.Builder
	limit int
}

func (w *cappedWriter) writeString(s string) {
	if w.buf.Len() >= w.limit {
		return
	}
	remaining := w.limit - w.buf.Len()
	if len(s) > remaining {
		s = s[:remaining]
	}
	w.buf.WriteString(s)
}

// Execute runs req.Source's main() with req.Args, enforcing req.Timeout by
// racing the (non-preemptible) Starlark execution against a timer — a
// goroutine still running past the deadline is abandoned, its result
// discarded. A CPU-bound tool can still hold a worker until the per-call
// timeout fires; Starlark gives no preemption hook to stop it sooner.
func (rt *Runtime) Execute(ctx context.Context, req Request) (*Result, error) {
	if err := PreFilter(req.Source); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := rt.run(ctx, req)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("tool %q exceeded %s timeout", req.ToolName, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (rt *Runtime) run(ctx context.Context, req Request) (*Result, error) {
	env, err := buildEnv(req.AllowedModules, req.Secrets, rt.httpClient)
	if err != nil {
		return nil, err
	}

	cw := &cappedWriter{limit: rt.maxStdoutBytes}
	thread := &starlark.Thread{
		Name: req.ToolName,
		Print: func(_ *starlark.Thread, msg string) {
			cw.writeString(msg)
			cw.writeString("\n")
		},
	}
	thread.SetLocal("ctx", ctx)

	globals, err := starlark.ExecFile(thread, req.ToolName+".star", req.Source, env)
	if err != nil {
		return &Result{Error: fmt.Sprintf("tool %q failed to load: %v", req.ToolName, err), Stdout: cw.buf.String()}, nil
	}

	mainFn, ok := globals["main"]
	if !ok {
		return &Result{Error: fmt.Sprintf("tool %q defines no main() function", req.ToolName), Stdout: cw.buf.String()}, nil
	}
	callable, ok := mainFn.(starlark.Callable)
	if !ok {
		return &Result{Error: fmt.Sprintf("tool %q's main is not callable", req.ToolName), Stdout: cw.buf.String()}, nil
	}

	kwargs := make([]starlark.Tuple, 0, len(req.Args))
	for k, v := range req.Args {
		sv, err := toStarlarkValue(v)
		if err != nil {
			return &Result{Error: fmt.Sprintf("argument %q: %v", k, err), Stdout: cw.buf.String()}, nil
		}
		kwargs = append(kwargs, starlark.Tuple{starlark.String(k), sv})
	}

	out, err := starlark.Call(thread, callable, nil, kwargs)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return &Result{Error: evalErr.Msg, Stdout: cw.buf.String()}, nil
		}
		return &Result{Error: err.Error(), Stdout: cw.buf.String()}, nil
	}

	goValue, err := fromStarlarkValue(out)
	if err != nil {
		return &Result{Error: fmt.Sprintf("tool %q returned an unsupported value: %v", req.ToolName, err), Stdout: cw.buf.String()}, nil
	}
	return &Result{Value: goValue, Stdout: cw.buf.String()}, nil
}

package sandboxrt_test

import (
	"context"
	"testing"
	"time"

	"github.com/mcpbox/control-plane/internal/sandboxrt"
	"github.com/stretchr/testify/require"
)

func TestExecuteRunsMainAndReturnsValue(t *testing.T) {
	rt := sandboxrt.NewRuntime(sandboxrt.NewSafeHTTPClient(nil, time.Second))

	src := `# main(x: int, y: int = 1)
def main(x, y=1):
    return x + y
`
	result, err := rt.Execute(context.Background(), sandboxrt.Request{
		ToolName: "adder",
		Source:   src,
		Args:     map[string]interface{}{"x": float64(4)},
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	require.Empty(t, result.Error)
	require.EqualValues(t, 5, result.Value)
}

func TestExecuteCapturesToolLevelError(t *testing.T) {
	rt := sandboxrt.NewRuntime(sandboxrt.NewSafeHTTPClient(nil, time.Second))

	src := `# main()
def main():
    fail("boom")
`
	result, err := rt.Execute(context.Background(), sandboxrt.Request{
		ToolName: "boom",
		Source:   src,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Error)
}

func TestExecuteCapturesStdout(t *testing.T) {
	rt := sandboxrt.NewRuntime(sandboxrt.NewSafeHTTPClient(nil, time.Second))

	src := `# main()
def main():
    print("hello from tool")
    return 1
`
	result, err := rt.Execute(context.Background(), sandboxrt.Request{
		ToolName: "printer",
		Source:   src,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	require.Contains(t, result.Stdout, "hello from tool")
}

func TestExecuteCapturesStdoutOnToolLevelError(t *testing.T) {
	rt := sandboxrt.NewRuntime(sandboxrt.NewSafeHTTPClient(nil, time.Second))

	src := `# main()
def main():
    print("about to fail")
    fail("boom")
`
	result, err := rt.Execute(context.Background(), sandboxrt.Request{
		ToolName: "printer-fail",
		Source:   src,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Error)
	require.Contains(t, result.Stdout, "about to fail")
}

func TestExecuteCapsStdoutAtOutputLimit(t *testing.T) {
	rt := sandboxrt.NewRuntimeWithOutputLimit(sandboxrt.NewSafeHTTPClient(nil, time.Second), 10)

	src := `# main()
def main():
    print("this line is much longer than the cap")
    return 1
`
	result, err := rt.Execute(context.Background(), sandboxrt.Request{
		ToolName: "loud",
		Source:   src,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	require.LessOrEqual(t, len(result.Stdout), 10)
}

func TestExecuteRejectsForbiddenSource(t *testing.T) {
	rt := sandboxrt.NewRuntime(sandboxrt.NewSafeHTTPClient(nil, time.Second))

	src := `# main()
def main():
    return "__class__"
`
	_, err := rt.Execute(context.Background(), sandboxrt.Request{ToolName: "evil", Source: src, Timeout: time.Second})
	require.Error(t, err)
}

func TestExecuteEnforcesTimeout(t *testing.T) {
	rt := sandboxrt.NewRuntime(sandboxrt.NewSafeHTTPClient(nil, time.Second))

	// Starlark has no sleep builtin available here; an unbounded loop
	// simulates a runaway tool instead.
	src := `# main()
def main():
    x = 0
    for i in range(100000000):
        x += i
    return x
`
	_, err := rt.Execute(context.Background(), sandboxrt.Request{
		ToolName: "runaway",
		Source:   src,
		Timeout:  10 * time.Millisecond,
	})
	require.Error(t, err)
}

package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/mcpbox/control-plane/internal/registry"
	"github.com/mcpbox/control-plane/internal/sandboxrt"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *registry.Registry {
	rt := sandboxrt.NewRuntime(sandboxrt.NewSafeHTTPClient(nil, time.Second))
	return registry.NewRegistry(rt)
}

func TestRegisterAndExecuteTool(t *testing.T) {
	reg := newTestRegistry()

	src := `# main(x: int)
def main(x):
    return x * 2
`
	schema, err := sandboxrt.DeriveSchema(src)
	require.NoError(t, err)

	n := reg.RegisterServer("srv-1", "math_tools", []registry.Tool{
		{Name: "double", Description: "doubles a number", ServerID: "srv-1", ServerName: "math_tools", Source: src, Schema: map[string]interface{}{"type": schema.Type, "properties": schema.Properties, "required": schema.Required}, TimeoutMS: 1000},
	}, "", nil, nil)
	require.Equal(t, 1, n)

	outcome := reg.Execute(context.Background(), "math_tools__double", map[string]interface{}{"x": float64(21)})
	require.True(t, outcome.Success)
	require.EqualValues(t, 42, outcome.Value)
	require.GreaterOrEqual(t, outcome.DurationMS, int64(0))
}

func TestExecuteRejectsInvalidArguments(t *testing.T) {
	reg := newTestRegistry()

	src := `# main(x: int)
def main(x):
    return x
`
	schema, err := sandboxrt.DeriveSchema(src)
	require.NoError(t, err)

	reg.RegisterServer("srv-1", "svc", []registry.Tool{
		{Name: "echo", ServerID: "srv-1", ServerName: "svc", Source: src, Schema: map[string]interface{}{"type": schema.Type, "properties": schema.Properties, "required": schema.Required}, TimeoutMS: 1000},
	}, "", nil, nil)

	outcome := reg.Execute(context.Background(), "svc__echo", map[string]interface{}{})
	require.False(t, outcome.Success)
	require.NotEmpty(t, outcome.Error)
}

func TestUnregisterServerRemovesTools(t *testing.T) {
	reg := newTestRegistry()
	reg.RegisterServer("srv-1", "svc", []registry.Tool{{Name: "t", ServerID: "srv-1", ServerName: "svc", Source: "# main()\ndef main():\n    return 1\n"}}, "", nil, nil)
	require.Equal(t, 1, reg.ToolCount())

	ok := reg.UnregisterServer("srv-1")
	require.True(t, ok)
	require.Equal(t, 0, reg.ToolCount())

	require.False(t, reg.UnregisterServer("srv-1"))
}

func TestExecuteUnknownToolReturnsError(t *testing.T) {
	reg := newTestRegistry()
	outcome := reg.Execute(context.Background(), "nope__missing", nil)
	require.False(t, outcome.Success)
	require.Contains(t, outcome.Error, "tool not found")
}

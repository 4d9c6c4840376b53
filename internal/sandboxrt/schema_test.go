package sandboxrt_test

import (
	"testing"

	"github.com/mcpbox/control-plane/internal/sandboxrt"
	"github.com/stretchr/testify/require"
)

func TestDeriveSchemaMapsTypesAndRequired(t *testing.T) {
	src := `# main(x: int, label: str = "", tags: list = None, enabled: bool = True)
def main(x, label="", tags=None, enabled=True):
    return x
`
	schema, err := sandboxrt.DeriveSchema(src)
	require.NoError(t, err)
	require.Equal(t, "object", schema.Type)
	require.Contains(t, schema.Required, "x")
	require.NotContains(t, schema.Required, "label")
	require.NotContains(t, schema.Required, "tags")

	xProp := schema.Properties["x"].(map[string]interface{})
	require.Equal(t, "integer", xProp["type"])

	tagsProp := schema.Properties["tags"].(map[string]interface{})
	require.Equal(t, "array", tagsProp["type"])
}

func TestDeriveSchemaExcludesInjectedParams(t *testing.T) {
	src := `# main(http, x: int)
def main(http, x):
    return x
`
	schema, err := sandboxrt.DeriveSchema(src)
	require.NoError(t, err)
	_, hasHTTP := schema.Properties["http"]
	require.False(t, hasHTTP)
}

func TestDeriveSchemaRejectsMissingSignature(t *testing.T) {
	src := `def main(x):
    return x
`
	_, err := sandboxrt.DeriveSchema(src)
	require.Error(t, err)
}

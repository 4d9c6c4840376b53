package sandboxrt_test

import (
	"testing"

	"github.com/mcpbox/control-plane/internal/sandboxrt"
	"github.com/stretchr/testify/require"
)

func TestPreFilterRejectsForbiddenPatterns(t *testing.T) {
	cases := []string{
		`# main(x: int)
result = x.__class__`,
		`# main()
result = __import__("os")`,
		`# main()
result = sys.modules`,
	}
	for _, src := range cases {
		err := sandboxrt.PreFilter(src)
		require.Error(t, err)
	}
}

func TestPreFilterAllowsCleanSource(t *testing.T) {
	src := `# main(x: int, label: str = "")
def main(x, label=""):
    return x + len(label)
`
	require.NoError(t, sandboxrt.PreFilter(src))
}

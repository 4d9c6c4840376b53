// Package sandboxrt runs tool source code inside a Starlark interpreter
// (go.starlark.net), the sandboxed-execution runtime for MCPbox tools.
// Starlark's grammar has no dunder attribute syntax and no introspection
// builtins, so classic Python sandbox-escape patterns
// (getattr(obj, "__class__"), __import__, sys.modules traversal) have no
// grammatical path into executable code here — they can only occur inside
// string literals or comments. The pre-filter below still rejects their
// textual presence: reject by pattern, not by waiting for a successful
// exploit.
package sandboxrt

import (
	"fmt"
	"strings"
)

// forbiddenPatterns denylists substrings that indicate an attempted
// escape via string-based attribute access or module traversal.
var forbiddenPatterns = []string{
	"__class__",
	"__bases__",
	"__subclasses__",
	"__globals__",
	"__dict__",
	"__builtins__",
	"__import__",
	"__loader__",
	"__spec__",
	"__mro__",
	"__code__",
	"__closure__",
	"sys.modules",
	"importlib",
}

// PreFilterError reports a rejected tool source with the offending pattern.
type PreFilterError struct {
	Pattern string
}

func (e *PreFilterError) Error() string {
	return fmt.Sprintf("tool source rejected: forbidden pattern %q", e.Pattern)
}

// PreFilter scans raw tool source for forbidden substrings before it is
// ever handed to starlark.ExecFile. Static, syntax-free, and runs on every
// execution, whatever path the source took into the registry.
func PreFilter(source string) error {
	for _, pattern := range forbiddenPatterns {
		if strings.Contains(source, pattern) {
			return &PreFilterError{Pattern: pattern}
		}
	}
	return nil
}

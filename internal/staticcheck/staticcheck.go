// Package staticcheck scans tool source text for references that require
// approval before a publish takes effect: sandbox stdlib modules not yet
// on a server's allowlist, and outbound hostnames not yet on its network
// allowlist. It is a regex scanner over raw source, the same "reject/flag
// by pattern, not by successful exploit" style as internal/sandboxrt's
// PreFilter, not a full parse.
package staticcheck

import (
	"regexp"
	"sort"
)

// knownModules is sandboxrt's moduleBuiltins key set duplicated here
// rather than imported: staticcheck has no business depending on the
// starlark runtime just to read three names back out of it.
var knownModules = []string{"json", "math", "time"}

var moduleRefPattern = func() *regexp.Regexp {
	pattern := `\b(`
	for i, m := range knownModules {
		if i > 0 {
			pattern += "|"
		}
		pattern += regexp.QuoteMeta(m)
	}
	pattern += `)\.`
	return regexp.MustCompile(pattern)
}()

var hostRefPattern = regexp.MustCompile(`https?://([A-Za-z0-9.-]+)`)

// Result is what a tool source body references that isn't necessarily
// already allowed: every sandbox module the text uses (via "name.member")
// and every hostname named in an http(s) URL literal.
type Result struct {
	Modules []string
	Hosts   []string
}

// Scan extracts candidate module and host references from source. It
// over-reports: a hostname inside a comment or a module name used as an
// unrelated identifier both surface here, the same false-positive-over-
// false-negative tradeoff PreFilter makes. Callers diff the result against
// a server's current allowlists before raising approval requests.
func Scan(source string) Result {
	moduleSet := map[string]struct{}{}
	for _, m := range moduleRefPattern.FindAllStringSubmatch(source, -1) {
		moduleSet[m[1]] = struct{}{}
	}
	hostSet := map[string]struct{}{}
	for _, m := range hostRefPattern.FindAllStringSubmatch(source, -1) {
		hostSet[m[1]] = struct{}{}
	}
	return Result{Modules: sortedKeys(moduleSet), Hosts: sortedKeys(hostSet)}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

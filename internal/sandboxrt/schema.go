package sandboxrt

import (
	"fmt"
	"regexp"
	"strings"
)

// mainSignature matches a leading "# main(...)" doc comment declaring the
// tool's callable signature, since Starlark carries parameter names but no
// static types. Example:
//
//	# main(x: int, label: str = "", tags: list = None)
var mainSignature = regexp.MustCompile(`(?m)^#\s*main\(([^)]*)\)\s*$`)

// typeMap maps a parameter's type-hint name to its JSON Schema type.
var typeMap = map[string]string{
	"str":   "string",
	"int":   "integer",
	"float": "number",
	"bool":  "boolean",
	"list":  "array",
	"dict":  "object",
}

// excludedParams are never surfaced as schema properties: Starlark has no
// "self"/"cls" but the convention is kept for source ported from the
// original Python tools, and "http" is the injected SSRF-guarded client.
var excludedParams = map[string]bool{"self": true, "cls": true, "http": true}

// DerivedSchema is a minimal JSON-Schema-shaped description of a tool's
// parameters, suitable for both an MCP tools/list inputSchema and
// validation via internal/registry's jsonschema compiler.
type DerivedSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required"`
}

// DeriveSchema parses the "# main(...)" convention out of source and
// returns the JSON-Schema-shaped parameter description. Returns an error
// if no main() signature comment is present — every tool must declare one.
func DeriveSchema(source string) (*DerivedSchema, error) {
	match := mainSignature.FindStringSubmatch(source)
	if match == nil {
		return nil, fmt.Errorf("tool source missing required '# main(...)' signature comment")
	}

	schema := &DerivedSchema{
		Type:       "object",
		Properties: map[string]interface{}{},
		Required:   []string{},
	}

	params := splitParams(match[1])
	for _, raw := range params {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		name, typeHint, hasDefault := parseParam(raw)
		if excludedParams[name] {
			continue
		}

		jsonType, ok := typeMap[typeHint]
		if !ok {
			jsonType = "string" // unannotated params default to string, matching a loose hint
		}

		schema.Properties[name] = map[string]interface{}{"type": jsonType}
		if !hasDefault {
			schema.Required = append(schema.Required, name)
		}
	}

	return schema, nil
}

// splitParams splits a parameter list on top-level commas only, so a
// default value containing a comma (e.g. a list literal) isn't split.
func splitParams(paramList string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range paramList {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, paramList[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, paramList[start:])
	return parts
}

// parseParam splits "name: type = default" into its parts. Type and
// default are both optional.
func parseParam(param string) (name, typeHint string, hasDefault bool) {
	if idx := strings.Index(param, "="); idx >= 0 {
		hasDefault = true
		param = param[:idx]
	}
	param = strings.TrimSpace(param)

	if idx := strings.Index(param, ":"); idx >= 0 {
		name = strings.TrimSpace(param[:idx])
		typeHint = strings.TrimSpace(param[idx+1:])
		return name, typeHint, hasDefault
	}

	return param, "", hasDefault
}

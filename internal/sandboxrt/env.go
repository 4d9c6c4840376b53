package sandboxrt

import (
	"context"
	"fmt"
	"io"
	"strings"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// moduleBuiltins maps an allowed_modules entry to the predeclared name(s)
// it unlocks. "http" and "os" are always present — they're the sandbox's
// own credential/network surface, not optional stdlib.
var moduleBuiltins = map[string]starlark.Value{
	"json": starlarkjson.Module,
	"math": starlarkmath.Module,
	"time": starlarktime.Module,
}

// buildEnv constructs the predeclared StringDict for one execution: the
// allowlisted optional modules plus the always-present os/http objects.
// secrets is the server's decrypted secret map, exposed read-only via
// os.getenv; httpClient is pinned to this execution's SSRF validator.
func buildEnv(allowedModules []string, secrets map[string]string, httpClient *SafeHTTPClient) (starlark.StringDict, error) {
	env := starlark.StringDict{}

	for _, name := range allowedModules {
		mod, ok := moduleBuiltins[name]
		if !ok {
			return nil, fmt.Errorf("module %q is not in the sandbox's allowed module set", name)
		}
		env[name] = mod
	}

	env["os"] = buildOSModule(secrets)
	env["http"] = buildHTTPModule(httpClient)

	return env, nil
}

func buildOSModule(secrets map[string]string) *starlarkstruct.Module {
	environDict := starlark.NewDict(len(secrets))
	for k, v := range secrets {
		_ = environDict.SetKey(starlark.String(k), starlark.String(v))
	}
	environDict.Freeze()

	getenv := starlark.NewBuiltin("getenv", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var key string
		var fallback starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "default?", &fallback); err != nil {
			return nil, err
		}
		if v, ok := secrets[key]; ok {
			return starlark.String(v), nil
		}
		return fallback, nil
	})

	return &starlarkstruct.Module{
		Name: "os",
		Members: starlark.StringDict{
			"getenv":  getenv,
			"environ": environDict,
		},
	}
}

func buildHTTPModule(client *SafeHTTPClient) *starlarkstruct.Module {
	doMethod := func(method string) *starlark.Builtin {
		return starlark.NewBuiltin("http."+method, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var url string
			var headersVal *starlark.Dict
			var bodyStr starlark.String
			if err := starlark.UnpackArgs(b.Name(), args, kwargs,
				"url", &url,
				"headers?", &headersVal,
				"body?", &bodyStr,
			); err != nil {
				return nil, err
			}

			headers := map[string]string{}
			if headersVal != nil {
				for _, item := range headersVal.Items() {
					key, ok1 := starlark.AsString(item[0])
					val, ok2 := starlark.AsString(item[1])
					if ok1 && ok2 {
						headers[key] = val
					}
				}
			}

			ctx, ok := thread.Local("ctx").(context.Context)
			if !ok {
				ctx = context.Background()
			}

			var bodyReader io.Reader
			if bodyStr != "" {
				bodyReader = strings.NewReader(string(bodyStr))
			}

			status, respBody, err := client.Do(ctx, method, url, bodyReader, headers)
			if err != nil {
				return nil, fmt.Errorf("http.%s: %w", method, err)
			}

			return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
				"status_code": starlark.MakeInt(status),
				"text":        starlark.String(string(respBody)),
			}), nil
		})
	}

	return &starlarkstruct.Module{
		Name: "http",
		Members: starlark.StringDict{
			"get":  doMethod("GET"),
			"post": doMethod("POST"),
		},
	}
}

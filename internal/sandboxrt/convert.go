package sandboxrt

import (
	"fmt"

	"go.starlark.net/starlark"
)

// toStarlarkValue converts a JSON-decoded Go value (the shape
// encoding/json produces: string, float64, bool, nil, []interface{},
// map[string]interface{}) into a starlark.Value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case float64:
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case []interface{}:
		elems := make([]starlark.Value, len(val))
		for i, e := range val {
			sv, err := toStarlarkValue(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, e := range val {
			sv, err := toStarlarkValue(e)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported argument type %T", v)
	}
}

// fromStarlarkValue converts a starlark.Value back into a plain Go value
// suitable for json.Marshal, so a tool's return value becomes the
// JSON-RPC result.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return val.String(), nil // overflow: fall back to decimal string
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case *starlark.List:
		out := make([]interface{}, 0, val.Len())
		iter := val.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("non-string dict key in tool return value")
			}
			gv, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported return value type %s", v.Type())
	}
}

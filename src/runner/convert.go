package runner

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"
)

// toStarlark converts a plain Go value (the JSON-stable representation) into
// its Starlark form.
func toStarlark(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		// JSON numbers arrive as float64; keep integral values as ints so
		// scripts can do arithmetic without surprise floats.
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return starlark.MakeInt64(int64(v)), nil
		}
		return starlark.Float(v), nil
	case []any:
		elems := make([]starlark.Value, len(v))
		for i, e := range v {
			conv, err := toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = conv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(v))
		for k, val := range v {
			conv, err := toStarlark(val)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), conv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("runner: unsupported host value %T", v)
}

// fromStarlark converts a Starlark value into the JSON-stable Go form.
func fromStarlark(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return v.String(), nil
	case starlark.Float:
		return float64(v), nil
	case *starlark.List:
		out := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			e, err := fromStarlark(v.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, 0, len(v))
		for _, e := range v {
			conv, err := fromStarlark(e)
			if err != nil {
				return nil, err
			}
			out = append(out, conv)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				key = item[0].String()
			}
			val, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = val
		}
		return out, nil
	}
	if hasAttrs, ok := v.(starlark.HasAttrs); ok {
		out := map[string]any{}
		for _, name := range hasAttrs.AttrNames() {
			attr, err := hasAttrs.Attr(name)
			if err != nil || attr == nil {
				continue
			}
			if _, isCallable := attr.(starlark.Callable); isCallable {
				continue
			}
			conv, err := fromStarlark(attr)
			if err != nil {
				continue
			}
			out[name] = conv
		}
		return out, nil
	}
	return nil, fmt.Errorf("runner: script produced an unsupported value of type %s", v.Type())
}

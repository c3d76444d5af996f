package sandbox

import (
	"fmt"
	"reflect"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ToStarlark converts a JSON-shaped Go value into a Starlark value.
//
// Maps become dicts with sorted keys so that programs iterate them in a
// stable order.
func ToStarlark(v any) (starlark.Value, error) {
	switch v := v.(type) {

	case nil:
		return starlark.None, nil

	case starlark.Value:
		return v, nil

	case bool:
		return starlark.Bool(v), nil

	case string:
		return starlark.String(v), nil
	case []byte:
		return starlark.Bytes(v), nil

	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		return starlark.Float(v), nil

	case []any:
		elems := make([]starlark.Value, len(v))
		for i, e := range v {
			sv, err := ToStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil

	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		d := starlark.NewDict(len(v))
		for _, k := range keys {
			sv, err := ToStarlark(v[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil

	}

	value := reflect.ValueOf(v)
	switch value.Kind() {

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(value.Int()), nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return starlark.MakeUint64(value.Uint()), nil

	case reflect.Float32, reflect.Float64:
		return starlark.Float(value.Float()), nil

	case reflect.String:
		return starlark.String(value.String()), nil

	case reflect.Slice, reflect.Array:
		elems := make([]any, value.Len())
		for i := range elems {
			elems[i] = value.Index(i).Interface()
		}
		return ToStarlark(elems)

	case reflect.Map:
		if value.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, value.Len())
		iter := value.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return ToStarlark(m)

	case reflect.Pointer, reflect.Interface:
		if value.IsNil() {
			return starlark.None, nil
		}
		return ToStarlark(value.Elem().Interface())

	}

	return nil, fmt.Errorf("unsupported type for starlark: %T", v)
}

// FromStarlark converts a Starlark value into a JSON-shaped Go value.
//
// Integers become float64, matching what values decode to on the wire, so
// that a value set by the program compares equal to the same value echoed
// back by the peer.
func FromStarlark(v starlark.Value) (any, error) {
	switch v := v.(type) {

	case starlark.NoneType:
		return nil, nil

	case starlark.Bool:
		return bool(v), nil

	case starlark.String:
		return string(v), nil

	case starlark.Int:
		return float64(v.Float()), nil

	case starlark.Float:
		return float64(v), nil

	case *starlark.List:
		out := make([]any, v.Len())
		for i := range out {
			e, err := FromStarlark(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil

	case starlark.Tuple:
		out := make([]any, len(v))
		for i, e := range v {
			ge, err := FromStarlark(e)
			if err != nil {
				return nil, err
			}
			out[i] = ge
		}
		return out, nil

	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			k, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", item[0].Type())
			}
			e, err := FromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(k)] = e
		}
		return out, nil

	case *starlarkstruct.Struct:
		d := make(starlark.StringDict)
		v.ToStringDict(d)
		out := make(map[string]any, len(d))
		for k, member := range d {
			e, err := FromStarlark(member)
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		return out, nil

	}

	return nil, fmt.Errorf("cannot convert starlark %s to a data value", v.Type())
}

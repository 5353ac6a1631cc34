package scenario

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/yodler/yodler/pkg/value"
)

// toStarlark converts a Value to a Starlark value. Integral numbers become
// ints.
func toStarlark(v value.Value) (starlark.Value, error) {
	switch v.Kind() {
	case value.KindNull:
		return starlark.None, nil
	case value.KindBool:
		b, _ := v.AsBool()
		return starlark.Bool(b), nil
	case value.KindNumber:
		n, _ := v.AsNumber()
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return starlark.MakeInt64(int64(n)), nil
		}
		return starlark.Float(n), nil
	case value.KindString:
		s, _ := v.AsString()
		return starlark.String(s), nil
	case value.KindList:
		items, _ := v.AsList()
		list := make([]starlark.Value, len(items))
		for i, item := range items {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case value.KindMap:
		keys := v.Keys()
		dict := starlark.NewDict(len(keys))
		for _, k := range keys {
			field, _ := v.Field(k)
			sv, err := toStarlark(field)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value kind: %s", v.Kind())
	}
}

// fromStarlark converts a Starlark value to a Value. Tuples become lists and
// structs become maps.
func fromStarlark(v starlark.Value) (value.Value, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return value.Null(), nil
	case starlark.Bool:
		return value.Bool(bool(val)), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return value.Int(i), nil
		}
		return value.Number(float64(val.Float())), nil
	case starlark.Float:
		return value.Number(float64(val)), nil
	case starlark.String:
		return value.String(string(val)), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		m := make(map[string]value.Value, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return value.Null(), fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			field, err := fromStarlark(item[1])
			if err != nil {
				return value.Null(), fmt.Errorf("%s: %w", string(key), err)
			}
			m[string(key)] = field
		}
		return value.Map(m), nil
	case *starlarkstruct.Struct:
		names := val.AttrNames()
		sort.Strings(names)
		m := make(map[string]value.Value, len(names))
		for _, name := range names {
			attr, err := val.Attr(name)
			if err != nil {
				return value.Null(), err
			}
			field, err := fromStarlark(attr)
			if err != nil {
				return value.Null(), fmt.Errorf("%s: %w", name, err)
			}
			m[name] = field
		}
		return value.Map(m), nil
	default:
		return value.Null(), fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Indexable, n int) (value.Value, error) {
	items := make([]value.Value, n)
	for i := 0; i < n; i++ {
		item, err := fromStarlark(it.Index(i))
		if err != nil {
			return value.Null(), fmt.Errorf("[%d]: %w", i, err)
		}
		items[i] = item
	}
	return value.List(items...), nil
}

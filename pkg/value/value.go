// Package value defines the closed structured value type shared by the heap,
// the shared-memory fact cache and the scenario runtime.
//
// A Value is exactly one of null, bool, number, string, list or map. Every
// Value has a total JSON encoding and decoding, so anything stored on a heap
// can be snapshotted across process boundaries without loss.
package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf8"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable structured value. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	l    []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64. NaN and infinities have no JSON form and are
// rejected at encode time.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int wraps an integer as a number.
func Int(i int64) Value { return Value{kind: KindNumber, n: float64(i)} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List builds a list value. The slice is copied.
func List(items ...Value) Value {
	l := make([]Value, len(items))
	copy(l, items)
	return Value{kind: KindList, l: l}
}

// Map builds a map value. The map is copied.
func Map(entries map[string]Value) Value {
	m := make(map[string]Value, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return Value{kind: KindMap, m: m}
}

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the number and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsInt returns the number as an int64 when it is integral.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber || v.n != math.Trunc(v.n) || math.IsInf(v.n, 0) {
		return 0, false
	}
	return int64(v.n), true
}

// AsString returns the string and whether v is a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsList returns a copy of the items and whether v is a list.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	l := make([]Value, len(v.l))
	copy(l, v.l)
	return l, true
}

// AsMap returns a copy of the entries and whether v is a map.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	m := make(map[string]Value, len(v.m))
	for k, e := range v.m {
		m[k] = e
	}
	return m, true
}

// Len returns the number of items of a list or map, the byte length of a
// string, and zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.l)
	case KindMap:
		return len(v.m)
	case KindString:
		return len(v.s)
	}
	return 0
}

// Index returns the i-th list item.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.l) {
		return Value{}, false
	}
	return v.l[i], true
}

// Field returns a map entry.
func (v Value) Field(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	e, ok := v.m[key]
	return e, ok
}

// Keys returns the map keys in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports structural equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.l) != len(b.l) {
			return false
		}
		for i := range a.l {
			if !Equal(a.l[i], b.l[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Equal is the method form of Equal, usable by go-cmp.
func (v Value) Equal(other Value) bool { return Equal(v, other) }

// String renders v as compact JSON. Values without a JSON form fall back
// to Go formatting.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err == nil {
		return string(data)
	}
	if v.kind == KindNumber {
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	}
	return fmt.Sprintf("%#v", v.Any())
}

// MarshalJSON implements json.Marshaler. Map keys are emitted sorted.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return fmt.Errorf("value: number %v has no JSON encoding", v.n)
		}
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1e15 {
			buf.WriteString(strconv.FormatInt(int64(v.n), 10))
		} else {
			buf.WriteString(strconv.FormatFloat(v.n, 'g', -1, 64))
		}
	case KindString:
		if err := encodeString(buf, v.s); err != nil {
			return err
		}
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.l {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := v.m[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("value: unknown kind %s", v.kind)
	}
	return nil
}

// encodeString rejects invalid UTF-8, which encoding/json would otherwise
// replace with U+FFFD.
func encodeString(buf *bytes.Buffer, str string) error {
	if !utf8.ValidString(str) {
		return fmt.Errorf("value: string %q is not valid UTF-8", str)
	}
	data, err := json.Marshal(str)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("value: trailing data after JSON document")
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// Parse decodes a JSON document into a Value.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

// FromAny converts plain Go data (as produced by encoding/json, YAML or the
// policy engine) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return Value{}, fmt.Errorf("value: bad number %q: %w", t, err)
		}
		return Number(f), nil
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			item, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = item
		}
		return Value{kind: KindList, l: items}, nil
	case []string:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = String(e)
		}
		return Value{kind: KindList, l: items}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			item, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = item
		}
		return Value{kind: KindMap, m: m}, nil
	case map[string]string:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = String(e)
		}
		return Value{kind: KindMap, m: m}, nil
	case map[string]Value:
		return Map(t), nil
	default:
		return Value{}, fmt.Errorf("value: unsupported type %T", x)
	}
}

// Any converts v back into plain Go data: nil, bool, float64, string,
// []any and map[string]any.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.l))
		for i, item := range v.l {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, item := range v.m {
			out[k] = item.Any()
		}
		return out
	}
	return nil
}

// Truthy follows the usual scripting rules: null, false, 0, "" and empty
// collections are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0
	case KindString:
		return v.s != ""
	case KindList:
		return len(v.l) > 0
	case KindMap:
		return len(v.m) > 0
	}
	return false
}

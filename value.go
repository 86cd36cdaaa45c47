package refconf

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Azhovan/refconf/internal/normalize"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds. The zero Value has KindUndefined.
const (
	KindUndefined Kind = iota
	KindNull
	KindString
	KindInt
	KindFloat
	KindBool
	KindSequence
	KindMapping
	KindOpaque
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindNull:      "null",
	KindString:    "string",
	KindInt:       "int",
	KindFloat:     "float",
	KindBool:      "bool",
	KindSequence:  "sequence",
	KindMapping:   "mapping",
	KindOpaque:    "opaque",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is an immutable configuration node.
// Constructors copy their inputs and accessors return copies, so a Value never
// shares storage with the caller.
type Value struct {
	kind   Kind
	scalar any // string, int64, float64, bool, or the opaque payload
	items  []Value
	keys   []string
	fields map[string]Value
}

// Entry is a single key/value pair of a mapping.
type Entry struct {
	Key   string
	Value Value
}

// Null returns the null scalar.
func Null() Value { return Value{kind: KindNull} }

// StringValue returns a string scalar.
func StringValue(s string) Value { return Value{kind: KindString, scalar: s} }

// IntValue returns an integer scalar.
func IntValue(i int64) Value { return Value{kind: KindInt, scalar: i} }

// FloatValue returns a floating point scalar.
func FloatValue(f float64) Value { return Value{kind: KindFloat, scalar: f} }

// BoolValue returns a boolean scalar.
func BoolValue(b bool) Value { return Value{kind: KindBool, scalar: b} }

// OpaqueValue wraps a payload that merge and resolution never look into
// (raw file bytes, compiled regular expressions, functions).
func OpaqueValue(payload any) Value {
	if b, ok := payload.([]byte); ok {
		payload = append([]byte(nil), b...)
	}
	return Value{kind: KindOpaque, scalar: payload}
}

// SequenceOf returns a sequence holding items in order.
func SequenceOf(items ...Value) Value {
	return Value{kind: KindSequence, items: append(make([]Value, 0, len(items)), items...)}
}

// MappingOf returns a mapping with entries in the given order.
// A repeated key keeps its first position and takes the last value.
func MappingOf(entries ...Entry) Value {
	m := newMappingBuilder(len(entries))
	for _, e := range entries {
		m.set(e.Key, e.Value)
	}
	return m.value()
}

// EmptyMapping returns a mapping with no keys.
func EmptyMapping() Value { return MappingOf() }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsUndefined reports whether v is the zero Value.
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// IsScalar reports whether v is null, a string, a number or a boolean.
func (v Value) IsScalar() bool {
	switch v.kind {
	case KindNull, KindString, KindInt, KindFloat, KindBool:
		return true
	}
	return false
}

// IsContainer reports whether v is a sequence or a mapping.
func (v Value) IsContainer() bool {
	return v.kind == KindSequence || v.kind == KindMapping
}

// Str returns the string held by v.
func (v Value) Str() (string, bool) {
	s, ok := v.scalar.(string)
	return s, ok && v.kind == KindString
}

// Int returns the integer held by v.
func (v Value) Int() (int64, bool) {
	i, ok := v.scalar.(int64)
	return i, ok && v.kind == KindInt
}

// Float returns the number held by v, converting integers.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.scalar.(float64), true
	case KindInt:
		return float64(v.scalar.(int64)), true
	}
	return 0, false
}

// Bool returns the boolean held by v.
func (v Value) Bool() (bool, bool) {
	b, ok := v.scalar.(bool)
	return b, ok && v.kind == KindBool
}

// Opaque returns the payload of an opaque value.
func (v Value) Opaque() (any, bool) {
	if v.kind != KindOpaque {
		return nil, false
	}
	return v.scalar, true
}

// Len returns the number of elements of a sequence or keys of a mapping.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.items)
	case KindMapping:
		return len(v.keys)
	}
	return 0
}

// Items returns a copy of the elements of a sequence.
func (v Value) Items() []Value {
	if v.kind != KindSequence {
		return nil
	}
	return append([]Value(nil), v.items...)
}

// Index returns the i-th element of a sequence.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindSequence || i < 0 || i >= len(v.items) {
		return Value{}, false
	}
	return v.items[i], true
}

// Keys returns the keys of a mapping in insertion order.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// Get returns the value stored under key in a mapping.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	val, ok := v.fields[key]
	return val, ok
}

// Entries returns the entries of a mapping in insertion order.
func (v Value) Entries() []Entry {
	if v.kind != KindMapping {
		return nil
	}
	out := make([]Entry, len(v.keys))
	for i, k := range v.keys {
		out[i] = Entry{Key: k, Value: v.fields[k]}
	}
	return out
}

// Lookup walks a dot-separated path through mappings (by key) and sequences
// (by decimal index). An empty path returns v itself.
func (v Value) Lookup(path string) (Value, bool) {
	cur := v
	for _, step := range normalize.SplitPath(path) {
		switch cur.kind {
		case KindMapping:
			next, ok := cur.fields[step]
			if !ok {
				return Value{}, false
			}
			cur = next
		case KindSequence:
			i, err := strconv.Atoi(step)
			if err != nil {
				return Value{}, false
			}
			next, ok := cur.Index(i)
			if !ok {
				return Value{}, false
			}
			cur = next
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// IsEmpty reports whether v is undefined, null, false, zero, an empty string
// or an empty container.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return true
	case KindString:
		return v.scalar.(string) == ""
	case KindInt:
		return v.scalar.(int64) == 0
	case KindFloat:
		return v.scalar.(float64) == 0
	case KindBool:
		return !v.scalar.(bool)
	case KindSequence:
		return len(v.items) == 0
	case KindMapping:
		return len(v.keys) == 0
	}
	return false
}

// String renders v for diagnostics. It is not a serialization format.
func (v Value) String() string {
	switch v.kind {
	case KindUndefined:
		return "<undefined>"
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(v.scalar.(string))
	case KindInt, KindFloat, KindBool:
		return fmt.Sprint(v.scalar)
	case KindSequence:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMapping:
		parts := make([]string, len(v.keys))
		for i, k := range v.keys {
			parts[i] = k + ": " + v.fields[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindOpaque:
		if b, ok := v.scalar.([]byte); ok {
			return fmt.Sprintf("<opaque %d bytes>", len(b))
		}
		return fmt.Sprintf("<opaque %T>", v.scalar)
	}
	return "<invalid>"
}

// Equal reports deep value equality. Mapping key order is ignored, integers
// and floats compare numerically with NaN equal to itself, opaque payloads
// use reflect.DeepEqual.
func Equal(a, b Value) bool {
	if (a.kind == KindInt || a.kind == KindFloat) && (b.kind == KindInt || b.kind == KindFloat) {
		if a.kind == KindInt && b.kind == KindInt {
			return a.scalar.(int64) == b.scalar.(int64)
		}
		af, _ := a.Float()
		bf, _ := b.Float()
		return af == bf || (math.IsNaN(af) && math.IsNaN(bf))
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindString, KindBool:
		return a.scalar == b.scalar
	case KindSequence:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for k, av := range a.fields {
			bv, ok := b.fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindOpaque:
		return reflect.DeepEqual(a.scalar, b.scalar)
	}
	return false
}

// FromNative converts a decoded Go value into a Value.
// Go maps carry no order, so their keys are sorted. Byte slices, regular
// expressions, functions and any type not listed become opaque.
func FromNative(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return IntValue(int64(t))
	case int8:
		return IntValue(int64(t))
	case int16:
		return IntValue(int64(t))
	case int32:
		return IntValue(int64(t))
	case int64:
		return IntValue(t)
	case uint:
		return fromUint(uint64(t))
	case uint8:
		return IntValue(int64(t))
	case uint16:
		return IntValue(int64(t))
	case uint32:
		return IntValue(int64(t))
	case uint64:
		return fromUint(t)
	case float32:
		return FloatValue(float64(t))
	case float64:
		return FloatValue(t)
	case []byte:
		return OpaqueValue(t)
	case *regexp.Regexp:
		return OpaqueValue(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromNative(item)
		}
		return Value{kind: KindSequence, items: items}
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = StringValue(item)
		}
		return Value{kind: KindSequence, items: items}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := newMappingBuilder(len(keys))
		for _, k := range keys {
			m.set(k, FromNative(t[k]))
		}
		return m.value()
	case map[any]any:
		keys := make([]string, 0, len(t))
		byKey := make(map[string]any, len(t))
		for k, val := range t {
			ks := fmt.Sprint(k)
			keys = append(keys, ks)
			byKey[ks] = val
		}
		sort.Strings(keys)
		m := newMappingBuilder(len(keys))
		for _, k := range keys {
			m.set(k, FromNative(byKey[k]))
		}
		return m.value()
	}
	return OpaqueValue(x)
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return FloatValue(float64(u))
	}
	return IntValue(int64(u))
}

// Native converts v into plain Go values: map[string]any, []any, string,
// int64, float64, bool, nil or the opaque payload.
func (v Value) Native() any {
	switch v.kind {
	case KindSequence:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Native()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = v.fields[k].Native()
		}
		return out
	case KindUndefined, KindNull:
		return nil
	}
	return v.scalar
}

// mappingBuilder accumulates an ordered mapping before it is frozen into a Value.
type mappingBuilder struct {
	keys   []string
	fields map[string]Value
}

func newMappingBuilder(size int) *mappingBuilder {
	return &mappingBuilder{
		keys:   make([]string, 0, size),
		fields: make(map[string]Value, size),
	}
}

func (m *mappingBuilder) get(key string) (Value, bool) {
	v, ok := m.fields[key]
	return v, ok
}

func (m *mappingBuilder) set(key string, v Value) {
	if _, ok := m.fields[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.fields[key] = v
}

func (m *mappingBuilder) value() Value {
	return Value{kind: KindMapping, keys: m.keys, fields: m.fields}
}

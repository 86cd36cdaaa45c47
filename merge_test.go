package refconf

import (
	"math"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_NoFragments(t *testing.T) {
	got := Merge()
	assert.Equal(t, KindMapping, got.Kind())
	assert.Equal(t, 0, got.Len())

	got = MergeRecursive(Value{}, Null())
	assert.Equal(t, KindMapping, got.Kind(), "undefined and null fragments are skipped")
	assert.Equal(t, 0, got.Len())
}

func TestMerge_ShallowKeyUnion(t *testing.T) {
	a := mapping("host", "localhost", "port", 8080, "db", map[string]any{"user": "admin"})
	b := mapping("port", 9090, "debug", true, "db", map[string]any{"pass": "x"})

	got := Merge(a, b)

	assert.Equal(t, []string{"host", "port", "db", "debug"}, got.Keys())
	for _, k := range b.Keys() {
		want, _ := b.Get(k)
		have, _ := got.Get(k)
		assert.True(t, Equal(want, have), "key %s should take the later value", k)
	}
	host, _ := got.Get("host")
	assert.True(t, Equal(host, StringValue("localhost")))
}

func TestMerge_SequenceUnion(t *testing.T) {
	got := Merge(
		SequenceOf(IntValue(1), IntValue(2), IntValue(3)),
		SequenceOf(IntValue(3), IntValue(4), IntValue(1), IntValue(5)),
	)
	want := SequenceOf(IntValue(1), IntValue(2), IntValue(3), IntValue(4), IntValue(5))
	assert.True(t, Equal(got, want), "got %s", got)
}

func TestMerge_SequenceUnionUnderKey(t *testing.T) {
	got := Merge(
		mapping("a", []any{1, 2}),
		mapping("a", []any{2, 3}),
	)
	assert.True(t, Equal(got, mapping("a", []any{1, 2, 3})), "got %s", got)
}

func TestMerge_SequenceDedupeUsesDeepEquality(t *testing.T) {
	got := Merge(
		SequenceOf(mapping("name", "a"), mapping("name", "b")),
		SequenceOf(mapping("name", "a"), IntValue(1)),
		SequenceOf(FloatValue(1)),
	)
	assert.Equal(t, 3, got.Len(), "got %s", got)
}

func TestMerge_NonRecursiveOverwritesNestedMappings(t *testing.T) {
	got := Merge(
		mapping("a", map[string]any{"x": 1, "y": 2}),
		mapping("a", map[string]any{"y": 3}),
	)
	assert.True(t, Equal(got, mapping("a", map[string]any{"y": 3})), "got %s", got)
}

func TestMergeRecursive_NestedMappings(t *testing.T) {
	got := MergeRecursive(
		mapping("a", MappingOf(Entry{"x", IntValue(1)}, Entry{"y", IntValue(2)})),
		mapping("a", MappingOf(Entry{"y", IntValue(3)}, Entry{"z", IntValue(4)})),
	)

	inner, ok := got.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"x", "y", "z"}, inner.Keys())
	assert.True(t, Equal(got, mapping("a", map[string]any{"x": 1, "y": 3, "z": 4})), "got %s", got)
}

func TestMergeRecursive_DeepSequences(t *testing.T) {
	got := MergeRecursive(
		mapping("server", map[string]any{"hosts": []any{"a", "b"}}),
		mapping("server", map[string]any{"hosts": []any{"b", "c"}}),
	)
	hosts, ok := got.Lookup("server.hosts")
	require.True(t, ok)
	assert.True(t, Equal(hosts, FromNative([]any{"a", "b", "c"})), "got %s", hosts)
}

func TestMergeRecursive_TypeMismatchOverwrites(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want Value
	}{
		{
			name: "mapping replaced by scalar",
			a:    mapping("a", map[string]any{"x": 1}),
			b:    mapping("a", "plain"),
			want: mapping("a", "plain"),
		},
		{
			name: "scalar replaced by mapping",
			a:    mapping("a", "plain"),
			b:    mapping("a", map[string]any{"x": 1}),
			want: mapping("a", map[string]any{"x": 1}),
		},
		{
			name: "mapping replaced by sequence",
			a:    mapping("a", map[string]any{"x": 1}),
			b:    mapping("a", []any{1, 1, 2}),
			want: mapping("a", []any{1, 2}),
		},
		{
			name: "sequence replaced by mapping",
			a:    mapping("a", []any{1}),
			b:    mapping("a", map[string]any{"x": 1}),
			want: mapping("a", map[string]any{"x": 1}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeRecursive(tt.a, tt.b)
			assert.True(t, Equal(got, tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestMergeRecursive_OpaqueAlwaysReplaces(t *testing.T) {
	re := regexp.MustCompile(`^[a-z]+$`)
	fn := func() string { return "x" }

	got := MergeRecursive(
		mapping("pattern", map[string]any{"x": 1}, "hook", map[string]any{"y": 2}),
		MappingOf(Entry{"pattern", OpaqueValue(re)}, Entry{"hook", OpaqueValue(fn)}),
	)

	pattern, _ := got.Get("pattern")
	assert.Equal(t, KindOpaque, pattern.Kind())
	payload, _ := pattern.Opaque()
	assert.Same(t, re, payload)

	hook, _ := got.Get("hook")
	assert.Equal(t, KindOpaque, hook.Kind())
}

func TestMerge_TopLevelReplacement(t *testing.T) {
	assert.True(t, Equal(Merge(mapping("a", 1), StringValue("s")), StringValue("s")))
	assert.True(t, Equal(Merge(StringValue("s"), mapping("a", 1)), mapping("a", 1)))
	assert.True(t, Equal(Merge(mapping("a", 1), SequenceOf(IntValue(1))), SequenceOf(IntValue(1))))
	assert.True(t, Equal(Merge(SequenceOf(IntValue(1)), IntValue(7)), IntValue(7)))

	raw := OpaqueValue([]byte("bytes"))
	assert.True(t, Equal(Merge(mapping("a", 1), raw), raw))
}

func TestMergeRecursive_SingleFragmentIdentity(t *testing.T) {
	fragments := []Value{
		mapping("a", map[string]any{"b": []any{1, "two", map[string]any{"c": nil}}}, "d", 1.5),
		SequenceOf(StringValue("x"), IntValue(1)),
		StringValue("scalar"),
		IntValue(42),
		BoolValue(false),
	}
	for _, f := range fragments {
		assert.True(t, Equal(MergeRecursive(f), f), "MergeRecursive(%s)", f)
	}
}

func TestMergeRecursive_SingleSequenceIsDeduplicated(t *testing.T) {
	top := MergeRecursive(SequenceOf(IntValue(1), IntValue(1), IntValue(2)))
	assert.True(t, Equal(top, SequenceOf(IntValue(1), IntValue(2))), "got %s", top)

	nested := MergeRecursive(mapping("a", []any{1, 1}))
	assert.True(t, Equal(nested, mapping("a", []any{1, 1})), "got %s", nested)
}

func TestMerge_SequenceUnionCollapsesNaN(t *testing.T) {
	nan := FloatValue(math.NaN())
	got := Merge(SequenceOf(nan, IntValue(1)), SequenceOf(nan))
	assert.Equal(t, 2, got.Len(), "got %s", got)
}

func TestMerge_DoesNotAliasInputs(t *testing.T) {
	items := []Value{IntValue(1), IntValue(2)}
	input := mapping("list", SequenceOf(items...))

	got := MergeRecursive(input)
	items[0] = IntValue(100)

	list, _ := got.Get("list")
	first, _ := list.Index(0)
	assert.True(t, Equal(first, IntValue(1)))
	assert.True(t, Equal(input, mapping("list", []any{1, 2})), "input must be unchanged")
}

func TestMerge_LeftToRightPrecedence(t *testing.T) {
	got := MergeRecursive(
		mapping("level", "a"),
		mapping("level", "b"),
		Value{},
		mapping("level", "c", "extra", true),
	)
	assert.True(t, Equal(got, MappingOf(Entry{"level", StringValue("c")}, Entry{"extra", BoolValue(true)})))
}

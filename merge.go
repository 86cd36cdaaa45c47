package refconf

// Merge combines fragments left to right without descending into nested
// mappings. A sequence fragment is unioned with an accumulated sequence; two
// sequences stored under the same key are unioned one level deep. Every other
// conflict is won by the later fragment.
//
// Undefined and null fragments are skipped. With no usable fragment the
// result is an empty mapping.
//
// Sequence fragments always go through the union, so a single top-level
// sequence comes back with its duplicates removed. A sequence stored under a
// key is copied unchanged until another fragment supplies the same key.
func Merge(fragments ...Value) Value {
	return merge(false, fragments)
}

// MergeRecursive is like Merge but merges values stored under the same key
// whenever both are mappings or sequences. Opaque values are never merged
// into; they always replace.
func MergeRecursive(fragments ...Value) Value {
	return merge(true, fragments)
}

func merge(recursive bool, fragments []Value) Value {
	result := EmptyMapping()
	for _, next := range fragments {
		switch next.kind {
		case KindUndefined, KindNull:
			continue
		case KindSequence:
			if result.kind == KindSequence {
				result = unionSequences(result.items, next.items)
			} else {
				result = unionSequences(nil, next.items)
			}
		case KindMapping:
			result = mergeMapping(recursive, result, next)
		default:
			result = next
		}
	}
	return result
}

// mergeMapping writes next's keys over acc. A non-mapping acc is discarded.
func mergeMapping(recursive bool, acc, next Value) Value {
	m := newMappingBuilder(acc.Len() + next.Len())
	if acc.kind == KindMapping {
		for _, k := range acc.keys {
			m.set(k, acc.fields[k])
		}
	}
	for _, k := range next.keys {
		val := next.fields[k]
		existing, ok := m.get(k)
		switch {
		case !ok:
		case recursive && existing.IsContainer() && val.IsContainer():
			val = merge(true, []Value{existing, val})
		case existing.kind == KindSequence && val.kind == KindSequence:
			val = unionSequences(existing.items, val.items)
		}
		m.set(k, copyValue(val))
	}
	return m.value()
}

// unionSequences concatenates a and b and removes later duplicates.
// Quadratic in the combined length.
func unionSequences(a, b []Value) Value {
	out := make([]Value, 0, len(a)+len(b))
	for _, src := range [][]Value{a, b} {
		for _, item := range src {
			if !containsValue(out, item) {
				out = append(out, copyValue(item))
			}
		}
	}
	return Value{kind: KindSequence, items: out}
}

func containsValue(items []Value, v Value) bool {
	for _, item := range items {
		if Equal(item, v) {
			return true
		}
	}
	return false
}

// copyValue rebuilds container storage so a merge result never shares
// backing arrays or maps with its inputs.
func copyValue(v Value) Value {
	switch v.kind {
	case KindSequence:
		items := make([]Value, len(v.items))
		for i, item := range v.items {
			items[i] = copyValue(item)
		}
		return Value{kind: KindSequence, items: items}
	case KindMapping:
		m := newMappingBuilder(len(v.keys))
		for _, k := range v.keys {
			m.set(k, copyValue(v.fields[k]))
		}
		return m.value()
	}
	return v
}

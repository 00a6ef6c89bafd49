// Package merge reconciles a stored snapshot of form state with a fresh
// caller-supplied baseline. All functions are pure and operate on
// JSON-shaped values: maps, slices, strings, float64 numbers, bools, nil.
//
// Inputs are assumed acyclic. Both Merge and DeepEqual recurse without
// cycle detection; this is safe because values originate from JSON
// parsing, which cannot produce cycles. Do not feed them arbitrary object
// graphs.
package merge

// Value is a JSON-shaped form state.
type Value = map[string]any

// Strategy selects how stored data is reconciled against the baseline.
type Strategy string

const (
	// Shallow spreads the baseline then the stored value, one level deep.
	// Stored nested objects replace the baseline's wholesale, so fields
	// added to a nested shape after the snapshot was written are silently
	// dropped. This is the documented footgun of the default strategy;
	// use Deep when nested shapes evolve.
	Shallow Strategy = "shallow"

	// Deep merges recursively: stored wins leaf-by-leaf, the baseline
	// supplies keys absent from stored.
	Deep Strategy = "deep"

	// PreferStored takes the union of keys, with the stored value winning
	// wherever it defines a key with a non-nil value.
	PreferStored Strategy = "prefer-stored"

	// PreferInitial keeps the baseline and only fills in values the
	// baseline left empty (nil, "", empty slice, empty map).
	PreferInitial Strategy = "prefer-initial"
)

// Func is a custom merge escape hatch. It receives the stored partial
// state and the baseline and returns the reconciled state.
type Func func(stored, initial Value) Value

// unsafeKeys are skipped during deep merging. Stored JSON can be
// attacker-controlled or corrupted; copying these keys would let it
// tamper with prototype-like machinery in downstream consumers.
var unsafeKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// Merge reconciles stored with initial under the given strategy. A non-nil
// fn takes precedence over the named strategy. Nil inputs are treated as
// empty maps; the inputs are never mutated.
func Merge(strategy Strategy, fn Func, stored, initial Value) Value {
	if fn != nil {
		return fn(stored, initial)
	}

	switch strategy {
	case Deep:
		return deepMerge(stored, initial)
	case PreferStored:
		return preferStored(stored, initial)
	case PreferInitial:
		return preferInitial(stored, initial)
	default:
		return shallowMerge(stored, initial)
	}
}

func shallowMerge(stored, initial Value) Value {
	out := make(Value, len(initial)+len(stored))
	for k, v := range initial {
		out[k] = v
	}
	for k, v := range stored {
		out[k] = v
	}
	return out
}

func deepMerge(stored, initial Value) Value {
	out := make(Value, len(initial)+len(stored))
	for k, v := range initial {
		out[k] = v
	}
	for k, sv := range stored {
		if unsafeKeys[k] {
			continue
		}
		iv, ok := out[k]
		if !ok {
			out[k] = sv
			continue
		}
		sm, sIsMap := sv.(Value)
		im, iIsMap := iv.(Value)
		if sIsMap && iIsMap {
			out[k] = deepMerge(sm, im)
		} else {
			out[k] = sv
		}
	}
	return out
}

func preferStored(stored, initial Value) Value {
	out := make(Value, len(initial)+len(stored))
	for k, v := range initial {
		out[k] = v
	}
	for k, v := range stored {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func preferInitial(stored, initial Value) Value {
	out := make(Value, len(initial))
	for k, v := range initial {
		out[k] = v
	}
	for k, sv := range stored {
		iv, ok := out[k]
		if !ok || isEmpty(iv) {
			out[k] = sv
		}
	}
	return out
}

// isEmpty reports whether a baseline value counts as "not yet filled in"
// for PreferInitial: nil, empty string, empty slice, or empty map.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case Value:
		return len(t) == 0
	default:
		return false
	}
}

// Clone deep-copies a JSON-shaped value so snapshots cannot alias the
// caller's maps. Assumes acyclic input, like everything in this package.
func Clone(v Value) Value {
	if v == nil {
		return nil
	}
	return cloneAny(v).(Value)
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case Value:
		out := make(Value, len(t))
		for k, val := range t {
			out[k] = cloneAny(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneAny(val)
		}
		return out
	default:
		return v
	}
}

// DeepEqual reports structural equality of two JSON-shaped values.
// Slices compare by length and index, maps by key set and recursive value
// equality. Like Merge, it assumes acyclic inputs.
func DeepEqual(a, b any) bool {
	switch av := a.(type) {
	case Value:
		bv, ok := b.(Value)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !DeepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

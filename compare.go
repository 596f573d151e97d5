package relquery

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// typeRank buckets a Value into the fixed cross-type order required by
// spec.md §3: null/absent < bool < number < timestamp < string < sequence,
// with Record treated as falling after sequence (the spec does not order
// records against the other members explicitly; they only ever compare
// against other records via field-wise fallback, see Cmp below).
func typeRank(v Value) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int64, int32, float32, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	case Sequence, []Value:
		return 5
	case Record:
		return 6
	default:
		return 7
	}
}

// Cmp is the total order over the Value domain: it compares across types in
// the fixed sequence of typeRank, and within a type applies the natural
// order. This is the comparator named "cmp" in the standard scope (§6.4) and
// used by every range/ordering computation in rangealg, compile and exec.
//
// Grounded on datalog/compare.go's CompareValues: same nil-least,
// dynamic-type-switch shape, generalized to a fixed cross-type ranking
// instead of a flat type-mismatch-returns-(-1) rule.
func Cmp(left, right Value) int {
	if left == nil && right == nil {
		return 0
	}
	lr, rr := typeRank(left), typeRank(right)
	if lr != rr {
		if lr < rr {
			return -1
		}
		return 1
	}

	switch lr {
	case 0:
		return 0
	case 1:
		l, r := left.(bool), right.(bool)
		return boolCmp(l, r)
	case 2:
		return compareNumeric(left, right)
	case 3:
		l, r := left.(time.Time), right.(time.Time)
		switch {
		case l.Before(r):
			return -1
		case l.After(r):
			return 1
		default:
			return 0
		}
	case 4:
		return strings.Compare(left.(string), right.(string))
	case 5:
		return compareSequence(toSequence(left), toSequence(right))
	case 6:
		return compareRecord(left.(Record), right.(Record))
	default:
		return strings.Compare(fmt.Sprint(left), fmt.Sprint(right))
	}
}

func boolCmp(l, r bool) int {
	switch {
	case l == r:
		return 0
	case !l && r:
		return -1
	default:
		return 1
	}
}

func toFloat64(v Value) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func compareNumeric(left, right Value) int {
	l, r := toFloat64(left), toFloat64(right)
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

func toSequence(v Value) []Value {
	switch s := v.(type) {
	case Sequence:
		return []Value(s)
	case []Value:
		return s
	default:
		return nil
	}
}

func compareSequence(l, r []Value) int {
	n := len(l)
	if len(r) < n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		if c := Cmp(l[i], r[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(l) < len(r):
		return -1
	case len(l) > len(r):
		return 1
	default:
		return 0
	}
}

// compareRecord orders two records field-by-field over the union of their
// sorted keys; absent fields sort as nil. Records are not a member the spec
// assigns a defined cross-record order to beyond "opaque mapping", so this
// is a deterministic tie-breaker used only when grouping/ordering tuples
// that happen to carry bare records (e.g. GroupBy key equality checks that
// fall through to Cmp for non-scalar group keys).
func compareRecord(l, r Record) int {
	keys := make(map[string]struct{}, len(l)+len(r))
	for k := range l {
		keys[k] = struct{}{}
	}
	for k := range r {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	for _, k := range sorted {
		if c := Cmp(l[k], r[k]); c != 0 {
			return c
		}
	}
	return 0
}

// Equal reports structural equality under Cmp — used by GroupBy key lookup
// and SetOperation(union) dedup, both of which require Value equality per
// spec.md §4.7.
func Equal(left, right Value) bool {
	return Cmp(left, right) == 0
}

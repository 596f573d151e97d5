// Package relquery implements the core data model and total order of the
// embedded relational query engine: values, tuples, schemas and source
// identities shared by the compiler, planner and executor packages.
package relquery

import "time"

// Value is any member of the ordered domain described by the specification:
// nil/absent, bool, a finite number, string, time.Time, an ordered sequence
// of Values (recursive), or a Record (string-keyed mapping).
type Value interface{}

// Record is an opaque string-keyed mapping from identifier to Value — the
// payload bound to a source name inside a Tuple.
type Record map[string]Value

// PrimaryKeyAttr is the sentinel attribute under which a keyless store
// exposes its generated primary key to the runtime (see spec.md §6.3/§9).
const PrimaryKeyAttr = "$$pk"

// AnonymousSource is the reserved source name under which a Select/GroupBy/
// Write/CompositeUnion executor binds its single projected record. These
// node types hide their schema from a parent (spec.md §4.4: "their output
// records are anonymous tuples from the parent's perspective"), so a
// surviving Where/OrderBy layered directly on top of one of them is
// compiled against the one-entry schema {AnonymousSource: UnknownDependency}
// and reads the projection back out through that name.
const AnonymousSource = "$$anon"

// Sequence is the ordered-sequence-of-Values member of the Value domain.
type Sequence []Value

// Tuple maps source name to the record currently bound for that source. A
// query's tuple always has as keys exactly the set of source names in scope
// at that point in the tree; a missing key is a planner bug, not a runtime
// condition, so readers index it directly rather than via comma-ok.
type Tuple map[string]Record

// Clone returns a shallow copy of t suitable for handing to a callee that
// must not observe the caller's later mutations (e.g. before merging a
// candidate record under NamedSource).
func (t Tuple) Clone() Tuple {
	out := make(Tuple, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	return out
}

// With returns a copy of t with name bound to rec, leaving t untouched.
func (t Tuple) With(name string, rec Record) Tuple {
	out := t.Clone()
	out[name] = rec
	return out
}

// OtherwiseRecord is the sentinel record an OuterJoin/AntiJoin binds for a
// source name when no right-hand match was found.
var OtherwiseRecord = Record{"otherwise": true}

// IsOtherwise reports whether rec is the OuterJoin/AntiJoin sentinel.
func IsOtherwise(rec Record) bool {
	if rec == nil {
		return false
	}
	v, ok := rec["otherwise"]
	return ok && v == true
}

// timeValue is implemented by time.Time; kept as a named type switch target
// so Cmp reads as a single ordered ladder instead of a pile of type-asserts.
type timeValue = time.Time

// Package stdscope implements the standard scope of spec.md §6.4: the
// comparator cmp, the tagged aggregates avg/count/max/min/sum, and the
// global-self reference. A call whose callee is a plain identifier looks
// the name up in this scope first, before any lambda local; a bare
// identifier that is not called resolves only against the schema.
package stdscope

import (
	"fmt"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/host/expr"
)

// Scope is the default expr.StdScope implementation.
type Scope struct{}

// New returns the standard scope.
func New() Scope { return Scope{} }

// AggregateNames lists the tagged aggregate function names that Aggregate
// recognises (the compiler's aggregate-extraction pass asks Aggregate, not
// this map).
var AggregateNames = map[string]bool{"avg": true, "count": true, "max": true, "min": true, "sum": true}

// Func implements expr.StdScope.
func (Scope) Func(name string) (expr.Func, bool) {
	switch name {
	case "cmp":
		return func(args []relquery.Value) (relquery.Value, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("stdscope: cmp takes exactly 2 arguments")
			}
			return relquery.Cmp(args[0], args[1]), nil
		}, true
	case "self":
		return func(args []relquery.Value) (relquery.Value, error) {
			return Scope{}, nil
		}, true
	default:
		return nil, false
	}
}

// Aggregate implements expr.StdScope.
func (Scope) Aggregate(name string) (expr.AggregateFunc, bool) {
	switch name {
	case "sum":
		return sumAgg, true
	case "count":
		return countAgg, true
	case "avg":
		return avgAgg, true
	case "max":
		return maxAgg, true
	case "min":
		return minAgg, true
	default:
		return nil, false
	}
}

// Aggregate state threads through GroupInit's prev/updated contract as a
// plain Value: sum, count, max and min keep their running result directly,
// while avg keeps a Record of its running sum, count and current value.

func sumAgg(prev relquery.Value, args []relquery.Value) (relquery.Value, error) {
	total := asFloat(prev)
	if len(args) > 0 && args[0] != nil {
		total += asFloat(args[0])
	}
	return total, nil
}

func countAgg(prev relquery.Value, args []relquery.Value) (relquery.Value, error) {
	n := asFloat(prev)
	if len(args) == 0 || args[0] != nil {
		n++
	}
	return n, nil
}

func avgAgg(prev relquery.Value, args []relquery.Value) (relquery.Value, error) {
	rec, _ := prev.(relquery.Record)
	if rec == nil {
		rec = relquery.Record{"sum": 0.0, "n": 0.0}
	}
	sum := asFloat(rec["sum"])
	n := asFloat(rec["n"])
	if len(args) > 0 && args[0] != nil {
		sum += asFloat(args[0])
		n++
	}
	return relquery.Record{"sum": sum, "n": n, "value": divOrZero(sum, n)}, nil
}

func divOrZero(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func maxAgg(prev relquery.Value, args []relquery.Value) (relquery.Value, error) {
	if len(args) == 0 || args[0] == nil {
		return prev, nil
	}
	if prev == nil || relquery.Cmp(args[0], prev) > 0 {
		return args[0], nil
	}
	return prev, nil
}

func minAgg(prev relquery.Value, args []relquery.Value) (relquery.Value, error) {
	if len(args) == 0 || args[0] == nil {
		return prev, nil
	}
	if prev == nil || relquery.Cmp(args[0], prev) < 0 {
		return args[0], nil
	}
	return prev, nil
}

func asFloat(v relquery.Value) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

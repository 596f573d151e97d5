// Package rangealg implements the range algebra of spec.md §3/§4.3/§4.9:
// closed/open intervals over the relquery.Value domain, their union and
// intersection, composite-key range synthesis for index scans, and the
// nextUp function used to translate closed upper bounds into the half-open
// form native cursors require.
package rangealg

import (
	"sort"

	"github.com/relquery/relquery"
)

// Context supplies whatever per-tuple state a RangeExpression needs to
// evaluate its bound expressions (see spec.md §3: "KeyRange ... specified
// either by literal bounds (Range) or by expressions to be evaluated per
// tuple (RangeExpression)").
type Context interface {
	Eval(expr interface{}) (relquery.Value, error)
}

// Bound is one endpoint of an Interval.
type Bound struct {
	Value  relquery.Value
	Open   bool // true = exclusive
	Unset  bool // true = unbounded on this side (-inf / +inf)
}

// Interval is a single closed/open range with no internal gaps.
type Interval struct {
	Lower Bound
	Upper Bound
}

// IsEquality reports whether the interval denotes exactly one value — a
// single-point [v,v] interval. KeyRange.IsEquality() (spec.md §3) must be
// sound but may be conservatively false; Interval.IsEquality is exact for a
// single prepared interval, which is what callers use it for.
func (iv Interval) IsEquality() bool {
	return !iv.Lower.Unset && !iv.Upper.Unset &&
		!iv.Lower.Open && !iv.Upper.Open &&
		relquery.Equal(iv.Lower.Value, iv.Upper.Value)
}

// IsEmpty reports whether no value can satisfy the interval.
func (iv Interval) IsEmpty() bool {
	if iv.Lower.Unset || iv.Upper.Unset {
		return false
	}
	c := relquery.Cmp(iv.Lower.Value, iv.Upper.Value)
	if c > 0 {
		return true
	}
	if c == 0 && (iv.Lower.Open || iv.Upper.Open) {
		return true
	}
	return false
}

// Contains reports whether v falls within the interval.
func (iv Interval) Contains(v relquery.Value) bool {
	if !iv.Lower.Unset {
		c := relquery.Cmp(v, iv.Lower.Value)
		if c < 0 || (c == 0 && iv.Lower.Open) {
			return false
		}
	}
	if !iv.Upper.Unset {
		c := relquery.Cmp(v, iv.Upper.Value)
		if c > 0 || (c == 0 && iv.Upper.Open) {
			return false
		}
	}
	return true
}

// cmpLower orders two intervals by lower endpoint: unset (−∞) first, then
// by value, and for equal values a closed bound sorts before an open one
// (it admits a strictly wider set of values at the boundary). This is the
// ordering spec.md §8 invariant 3(c) requires from KeyRange.prepare.
func cmpLower(a, b Interval) int {
	switch {
	case a.Lower.Unset && b.Lower.Unset:
		return 0
	case a.Lower.Unset:
		return -1
	case b.Lower.Unset:
		return 1
	}
	if c := relquery.Cmp(a.Lower.Value, b.Lower.Value); c != 0 {
		return c
	}
	switch {
	case a.Lower.Open == b.Lower.Open:
		return 0
	case a.Lower.Open:
		return 1
	default:
		return -1
	}
}

// touches reports whether a and b overlap or abut (share a boundary with at
// least one side closed), meaning they can be merged into a single run
// during normalization.
func touches(a, b Interval) bool {
	// order so a's lower <= b's lower
	if cmpLower(b, a) < 0 {
		a, b = b, a
	}
	if a.Upper.Unset {
		return true
	}
	if b.Lower.Unset {
		return true
	}
	c := relquery.Cmp(a.Upper.Value, b.Lower.Value)
	if c > 0 {
		return true
	}
	if c == 0 && !(a.Upper.Open && b.Lower.Open) {
		return true
	}
	return false
}

func merge(a, b Interval) Interval {
	out := a
	if cmpLower(b, a) < 0 {
		out.Lower = b.Lower
	}
	// upper: pick the greater; unset wins
	upperOf := func(x, y Bound) Bound {
		if x.Unset || y.Unset {
			return Bound{Unset: true}
		}
		c := relquery.Cmp(x.Value, y.Value)
		switch {
		case c > 0:
			return x
		case c < 0:
			return y
		default:
			if !x.Open || !y.Open {
				return Bound{Value: x.Value, Open: false}
			}
			return x
		}
	}
	out.Upper = upperOf(a.Upper, b.Upper)
	return out
}

// Canonicalize sorts and merges a set of intervals into the non-overlapping,
// lower-endpoint-ordered list required by spec.md §8 invariant 3.
func Canonicalize(ivs []Interval) []Interval {
	var nonEmpty []Interval
	for _, iv := range ivs {
		if !iv.IsEmpty() {
			nonEmpty = append(nonEmpty, iv)
		}
	}
	sort.Slice(nonEmpty, func(i, j int) bool { return cmpLower(nonEmpty[i], nonEmpty[j]) < 0 })
	var out []Interval
	for _, iv := range nonEmpty {
		if len(out) > 0 && touches(out[len(out)-1], iv) {
			out[len(out)-1] = merge(out[len(out)-1], iv)
		} else {
			out = append(out, iv)
		}
	}
	return out
}

package rangealg

import "github.com/relquery/relquery"

// KeyRange is an interval over the Value domain, specified either by
// literal bounds (Range) or by expressions evaluated per-tuple
// (RangeExpression); intervals combine via RangeUnion/RangeIntersection,
// and a CompositeRange drives composite-index scans (spec.md §3).
//
// Prepare must always return a canonical ordered list of non-overlapping
// intervals (spec.md §8 invariant 3); an empty list denotes the empty
// relation. IsEquality is sound but may be conservatively false.
type KeyRange interface {
	Prepare(ctx Context) ([]Interval, error)
	IsEquality() bool
}

// Range is a KeyRange with literal, already-known bounds.
type Range struct {
	Lower relquery.Value
	Upper relquery.Value
	// LowerOpen/UpperOpen mark the respective bound exclusive; LowerUnset/
	// UpperUnset mark it unbounded (-inf/+inf).
	LowerOpen, UpperOpen     bool
	LowerUnset, UpperUnset   bool
}

// Equality returns a single-point closed range [v, v].
func Equality(v relquery.Value) Range {
	return Range{Lower: v, Upper: v}
}

// GTE returns [v, +inf).
func GTE(v relquery.Value) Range { return Range{Lower: v, UpperUnset: true} }

// GT returns (v, +inf).
func GT(v relquery.Value) Range { return Range{Lower: v, LowerOpen: true, UpperUnset: true} }

// LTE returns (-inf, v].
func LTE(v relquery.Value) Range { return Range{Upper: v, LowerUnset: true} }

// LT returns (-inf, v).
func LT(v relquery.Value) Range { return Range{Upper: v, UpperOpen: true, LowerUnset: true} }

func (r Range) interval() Interval {
	iv := Interval{
		Lower: Bound{Value: r.Lower, Open: r.LowerOpen, Unset: r.LowerUnset},
		Upper: Bound{Value: r.Upper, Open: r.UpperOpen, Unset: r.UpperUnset},
	}
	return iv
}

// Prepare implements KeyRange.
func (r Range) Prepare(ctx Context) ([]Interval, error) {
	return Canonicalize([]Interval{r.interval()}), nil
}

// IsEquality implements KeyRange: a Range is an equality iff both bounds are
// set, closed and equal.
func (r Range) IsEquality() bool {
	return r.interval().IsEquality()
}

// OpenUpper rewrites a closed-upper range [a,b] as the half-open [a,
// nextUp(b)) using NextUp, which native cursors require for a composite key
// whose final component must include the original closed endpoint
// (spec.md §4.9).
func (r Range) OpenUpper() Range {
	if r.UpperUnset || r.UpperOpen {
		return r
	}
	out := r
	out.Upper = NextUp(r.Upper)
	out.UpperOpen = true
	return out
}

// RangeExpression is a KeyRange whose bounds are computed per-tuple by
// evaluating exprs through ctx at prepare time (spec.md §3).
type RangeExpression struct {
	LowerExpr, UpperExpr   interface{} // nil means unbounded
	LowerOpen, UpperOpen   bool
}

// Prepare implements KeyRange.
func (r RangeExpression) Prepare(ctx Context) ([]Interval, error) {
	var lower, upper Bound
	if r.LowerExpr == nil {
		lower.Unset = true
	} else {
		v, err := ctx.Eval(r.LowerExpr)
		if err != nil {
			return nil, err
		}
		lower = Bound{Value: v, Open: r.LowerOpen}
	}
	if r.UpperExpr == nil {
		upper.Unset = true
	} else {
		v, err := ctx.Eval(r.UpperExpr)
		if err != nil {
			return nil, err
		}
		upper = Bound{Value: v, Open: r.UpperOpen}
	}
	return Canonicalize([]Interval{{Lower: lower, Upper: upper}}), nil
}

// IsEquality implements KeyRange; expression bounds are conservatively
// never reported as an equality since their values are unknown until
// Prepare runs (sound-but-conservative per spec.md §3).
func (r RangeExpression) IsEquality() bool { return false }

// RangeUnion is the union of two KeyRanges: a value is in U.Prepare(ctx)
// iff it is in either left.Prepare(ctx) or right.Prepare(ctx)
// (spec.md §8 invariant 4).
type RangeUnion struct {
	Left, Right KeyRange
}

// Prepare implements KeyRange.
func (u RangeUnion) Prepare(ctx Context) ([]Interval, error) {
	l, err := u.Left.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	r, err := u.Right.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	return Canonicalize(append(append([]Interval{}, l...), r...)), nil
}

// IsEquality implements KeyRange.
func (u RangeUnion) IsEquality() bool {
	ivs, err := u.Prepare(nil)
	if err != nil {
		return false
	}
	return len(ivs) == 1 && ivs[0].IsEquality()
}

// RangeIntersection is the intersection of two KeyRanges: a value is in
// I.Prepare(ctx) iff it is in both left.Prepare(ctx) and right.Prepare(ctx)
// (spec.md §8 invariant 4).
type RangeIntersection struct {
	Left, Right KeyRange
}

// Prepare implements KeyRange.
func (i RangeIntersection) Prepare(ctx Context) ([]Interval, error) {
	l, err := i.Left.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	r, err := i.Right.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	var out []Interval
	for _, a := range l {
		for _, b := range r {
			if iv, ok := intersectPair(a, b); ok {
				out = append(out, iv)
			}
		}
	}
	return Canonicalize(out), nil
}

// IsEquality implements KeyRange.
func (i RangeIntersection) IsEquality() bool {
	ivs, err := i.Prepare(nil)
	if err != nil {
		return false
	}
	return len(ivs) == 1 && ivs[0].IsEquality()
}

func maxLower(a, b Bound) Bound {
	if a.Unset {
		return b
	}
	if b.Unset {
		return a
	}
	c := relquery.Cmp(a.Value, b.Value)
	switch {
	case c > 0:
		return a
	case c < 0:
		return b
	default:
		if a.Open || b.Open {
			return Bound{Value: a.Value, Open: true}
		}
		return a
	}
}

func minUpper(a, b Bound) Bound {
	if a.Unset {
		return b
	}
	if b.Unset {
		return a
	}
	c := relquery.Cmp(a.Value, b.Value)
	switch {
	case c < 0:
		return a
	case c > 0:
		return b
	default:
		if a.Open || b.Open {
			return Bound{Value: a.Value, Open: true}
		}
		return a
	}
}

func intersectPair(a, b Interval) (Interval, bool) {
	iv := Interval{Lower: maxLower(a.Lower, b.Lower), Upper: minUpper(a.Upper, b.Upper)}
	if iv.IsEmpty() {
		return Interval{}, false
	}
	return iv, true
}

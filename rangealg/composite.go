package rangealg

import "github.com/relquery/relquery"

// CompositeRange prepends a sequence of equality KeyRanges to a final,
// possibly non-equality, KeyRange, used to drive a composite index scan
// with an equality prefix and a trailing range (spec.md §3, §4.9).
type CompositeRange struct {
	Equalities []KeyRange
	Final      KeyRange
}

// CompositeInterval is one row of the cross product described in
// spec.md §4.9 step 4: a tuple of equality values followed by the final
// range's prepared interval.
type CompositeInterval struct {
	Prefix []relquery.Value
	Final  Interval
}

// Prepare synthesises the cross product of each equality's prepared
// sub-ranges (each must resolve to exactly one value — the caller is
// expected to have checked IsEquality() first) times the final range's
// prepared sub-ranges.
func (c CompositeRange) Prepare(ctx Context) ([]CompositeInterval, error) {
	prefixes := [][]relquery.Value{{}}
	for _, eq := range c.Equalities {
		ivs, err := eq.Prepare(ctx)
		if err != nil {
			return nil, err
		}
		var next [][]relquery.Value
		for _, prefix := range prefixes {
			for _, iv := range ivs {
				v := iv.Lower.Value
				if iv.Lower.Unset {
					v = iv.Upper.Value
				}
				p := append(append([]relquery.Value{}, prefix...), v)
				next = append(next, p)
			}
		}
		prefixes = next
	}

	finals, err := c.Final.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	var out []CompositeInterval
	for _, prefix := range prefixes {
		for _, f := range finals {
			out = append(out, CompositeInterval{Prefix: prefix, Final: f})
		}
	}
	return out, nil
}

// NativeBound converts a CompositeInterval's final range into the native
// half-open [lower, upper) pair a composite-key cursor expects, opening a
// closed upper bound via NextUp on the final component only (spec.md §4.9:
// "if the final range's upper is closed and the index key is composite,
// open the upper by appending the next-up of the original upper").
func (ci CompositeInterval) NativeBound() (lower, upper []relquery.Value, lowerOpen, upperOpen bool) {
	lower = append(append([]relquery.Value{}, ci.Prefix...), valueOrZero(ci.Final.Lower))
	lowerOpen = ci.Final.Lower.Open
	if ci.Final.Upper.Unset {
		upper = append(append([]relquery.Value{}, ci.Prefix...))
		upperOpen = true
		return
	}
	u := ci.Final.Upper
	if !u.Open {
		u = Bound{Value: NextUp(u.Value), Open: true}
	}
	upper = append(append([]relquery.Value{}, ci.Prefix...), u.Value)
	upperOpen = true
	return
}

func valueOrZero(b Bound) relquery.Value {
	if b.Unset {
		return nil
	}
	return b.Value
}

package rangealg

import (
	"testing"

	"github.com/relquery/relquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeIsEquality(t *testing.T) {
	assert.True(t, Equality(5).IsEquality())
	assert.False(t, GT(5).IsEquality())
	assert.False(t, GTE(5).IsEquality())
}

func TestCanonicalizeMergesOverlapping(t *testing.T) {
	ivs := []Interval{GT(1).interval(), LTE(5).interval()} // (1,+inf) and (-inf,5]
	out := Canonicalize(ivs)
	require.Len(t, out, 1)
	assert.True(t, out[0].Lower.Unset)
	assert.True(t, out[0].Upper.Unset)
}

func TestRangeUnionMembership(t *testing.T) {
	u := RangeUnion{Left: LT(0), Right: GT(10)}
	ivs, err := u.Prepare(nil)
	require.NoError(t, err)
	require.Len(t, ivs, 2)
	assert.True(t, ivs[0].Contains(-5))
	assert.False(t, ivs[0].Contains(5))
	assert.True(t, ivs[1].Contains(20))
}

func TestRangeIntersectionMembership(t *testing.T) {
	i := RangeIntersection{Left: GTE(0), Right: LTE(10)}
	ivs, err := i.Prepare(nil)
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.True(t, ivs[0].Contains(0))
	assert.True(t, ivs[0].Contains(10))
	assert.False(t, ivs[0].Contains(11))
}

func TestRangeIntersectionEmpty(t *testing.T) {
	i := RangeIntersection{Left: LT(0), Right: GT(10)}
	ivs, err := i.Prepare(nil)
	require.NoError(t, err)
	assert.Empty(t, ivs)
}

func TestNextUpMonotone(t *testing.T) {
	for _, v := range []relquery.Value{1, 2.5, "abc", relquery.Sequence{1, 2}} {
		up := NextUp(v)
		assert.Greater(t, relquery.Cmp(up, v), 0)
	}
}

func TestRangeOpenUpper(t *testing.T) {
	r := Range{Lower: 1, Upper: 5}
	opened := r.OpenUpper()
	assert.False(t, opened.LowerOpen)
	assert.True(t, opened.UpperOpen)
	assert.Greater(t, relquery.Cmp(opened.Upper, 5), 0)
}

func TestCompositeRangePrepare(t *testing.T) {
	cr := CompositeRange{
		Equalities: []KeyRange{Equality(1)},
		Final:      GT(200000),
	}
	ivs, err := cr.Prepare(nil)
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.Equal(t, []relquery.Value{1}, ivs[0].Prefix)
	lower, upper, lowerOpen, upperOpen := ivs[0].NativeBound()
	assert.Equal(t, []relquery.Value{1, 200000}, lower)
	assert.True(t, lowerOpen)
	assert.True(t, upperOpen)
	assert.Equal(t, []relquery.Value{1}, upper)
}

package store

import (
	"testing"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/rangealg"
	"github.com/stretchr/testify/assert"
)

func TestNativeRangeContainsClosedBothEnds(t *testing.T) {
	ci := rangealg.CompositeInterval{
		Prefix: []relquery.Value{"active"},
		Final: rangealg.Interval{
			Lower: rangealg.Bound{Value: 10.0},
			Upper: rangealg.Bound{Value: 20.0},
		},
	}
	r := FromComposite(ci)

	assert.True(t, r.Contains([]relquery.Value{"active", 10.0}))
	assert.True(t, r.Contains([]relquery.Value{"active", 15.0}))
	assert.False(t, r.Contains([]relquery.Value{"active", 21.0}))
	assert.False(t, r.Contains([]relquery.Value{"inactive", 15.0}))
}

func TestNativeRangeContainsOpenUpper(t *testing.T) {
	ci := rangealg.CompositeInterval{
		Final: rangealg.Interval{
			Lower: rangealg.Bound{Value: 1.0},
			Upper: rangealg.Bound{Value: 5.0, Open: true},
		},
	}
	r := FromComposite(ci)

	assert.True(t, r.Contains([]relquery.Value{4.999}))
	assert.False(t, r.Contains([]relquery.Value{5.0}))
}

func TestNativeRangeContainsUnboundedUpperIsPrefixOnly(t *testing.T) {
	ci := rangealg.CompositeInterval{
		Prefix: []relquery.Value{"a"},
		Final: rangealg.Interval{
			Lower: rangealg.Bound{Value: 1.0},
			Upper: rangealg.Bound{Unset: true},
		},
	}
	r := FromComposite(ci)

	assert.True(t, r.Contains([]relquery.Value{"a", 1.0}))
	assert.True(t, r.Contains([]relquery.Value{"a", 999.0}))
	assert.False(t, r.Contains([]relquery.Value{"b", 1.0}))
}

func TestNativeRangeZeroValueAdmitsEverything(t *testing.T) {
	var r NativeRange
	assert.True(t, r.Contains([]relquery.Value{"anything", 1.0}))
	assert.True(t, r.Contains(nil))
}

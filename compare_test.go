package relquery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCmpCrossType(t *testing.T) {
	epoch := time.Unix(0, 0)
	ordered := []Value{nil, false, true, 1, 2.5, epoch, "a", "b", Sequence{1}, Record{"a": 1}}
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			assert.LessOrEqual(t, Cmp(ordered[i], ordered[j]), 0,
				"expected %v <= %v", ordered[i], ordered[j])
		}
	}
}

func TestCmpNumericUnification(t *testing.T) {
	assert.Equal(t, 0, Cmp(1, 1.0))
	assert.Equal(t, -1, Cmp(1, 2))
	assert.Equal(t, 1, Cmp(int64(3), 2))
}

func TestCmpSequence(t *testing.T) {
	assert.Equal(t, -1, Cmp(Sequence{1, 2}, Sequence{1, 3}))
	assert.Equal(t, -1, Cmp(Sequence{1}, Sequence{1, 2}))
	assert.Equal(t, 0, Cmp(Sequence{1, "a"}, Sequence{1, "a"}))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1, 1.0))
	assert.False(t, Equal(1, 2))
}

func TestSourceIdentityDistinct(t *testing.T) {
	a := NewSourceIdentity()
	b := NewSourceIdentity()
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, a)
}

func TestSchemaMergeDisjoint(t *testing.T) {
	s1 := Schema{"a": NewSourceIdentity()}
	s2 := Schema{"b": NewSourceIdentity()}
	assert.True(t, s1.DisjointFrom(s2))
	merged := s1.Merge(s2)
	assert.Len(t, merged, 2)

	s3 := Schema{"a": NewSourceIdentity()}
	assert.False(t, s1.DisjointFrom(s3))
}

package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldAccessAndComparison(t *testing.T) {
	n, err := Parse("thing.type_id === type.id")
	require.NoError(t, err)
	bin, ok := n.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "===", bin.Op)
	fa, ok := bin.Left.(FieldAccess)
	require.True(t, ok)
	assert.Equal(t, "type_id", fa.Field)
}

func TestParseRecordLiteral(t *testing.T) {
	n, err := Parse("{name: thing.name, total: sum(r.i)}")
	require.NoError(t, err)
	rl, ok := n.(RecordLiteral)
	require.True(t, ok)
	assert.Equal(t, []string{"name", "total"}, rl.Keys)
}

func TestParseLambdaShorthand(t *testing.T) {
	n, err := Parse("x => x.a")
	require.NoError(t, err)
	lam, ok := n.(Lambda)
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, lam.Params)
}

func TestParseMultiParamLambda(t *testing.T) {
	n, err := Parse("(a, b) => a + b")
	require.NoError(t, err)
	lam, ok := n.(Lambda)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, lam.Params)
}

func TestParseSubstitutionHole(t *testing.T) {
	n, err := Parse("$$subs[0] + 1")
	require.NoError(t, err)
	bin, ok := n.(*Binary)
	require.True(t, ok)
	hole, ok := bin.Left.(Hole)
	require.True(t, ok)
	assert.Equal(t, 0, hole.Index)
}

func TestParseDollarParam(t *testing.T) {
	n, err := Parse("$minCalories")
	require.NoError(t, err)
	dp, ok := n.(DollarParam)
	require.True(t, ok)
	assert.Equal(t, "minCalories", dp.Suffix)
}

func TestOperatorPrecedence(t *testing.T) {
	n, err := Parse("a && b || c")
	require.NoError(t, err)
	bin, ok := n.(*Binary)
	require.True(t, ok)
	assert.Equal(t, "||", bin.Op)
}

func TestIndexAccess(t *testing.T) {
	n, err := Parse("a[0]")
	require.NoError(t, err)
	_, ok := n.(IndexAccess)
	assert.True(t, ok)
}

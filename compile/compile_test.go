package compile

import (
	"testing"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/host/stdscope"
	"github.com/relquery/relquery/rqerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() relquery.Schema {
	return relquery.Schema{"thing": relquery.NewSourceIdentity(), "type": relquery.NewSourceIdentity()}
}

func TestCompilePredicateRewritesComparisonAndRecordsDeps(t *testing.T) {
	groups, err := CompilePredicate(Plain("thing.type_id === type.id"), testSchema(), Options{Scope: stdscope.New()})
	require.NoError(t, err)
	require.Len(t, groups.Terms, 1)
	term := groups.Terms[0]
	assert.True(t, term.Expr.DependsOn("thing"))
	assert.True(t, term.Expr.DependsOn("type"))

	tuple := relquery.Tuple{
		"thing": relquery.Record{"type_id": int64(1)},
		"type":  relquery.Record{"id": int64(1)},
	}
	v, err := term.Expr.Evaluate(tuple, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestCompilePredicateSplitsConjunctionsIntoTerms(t *testing.T) {
	groups, err := CompilePredicate(Plain("thing.a > 1 && type.b < 2"), testSchema(), Options{Scope: stdscope.New()})
	require.NoError(t, err)
	require.Len(t, groups.Terms, 2)
}

func TestCompilePredicateMergesSameDependencySetTerms(t *testing.T) {
	groups, err := CompilePredicate(Plain("thing.a > 1 && thing.b < 2"), testSchema(), Options{Scope: stdscope.New()})
	require.NoError(t, err)
	require.Len(t, groups.Terms, 1)
}

func TestCompilePredicateExtractsKeyRanges(t *testing.T) {
	groups, err := CompilePredicate(Plain("thing.a >= 1"), testSchema(), Options{Scope: stdscope.New()})
	require.NoError(t, err)
	require.Len(t, groups.Terms, 1)
	ranges := groups.Terms[0].Ranges
	require.Contains(t, ranges, "thing")
	require.Contains(t, ranges["thing"], "a")
}

func TestCompilePredicateRejectsUnresolvedIdentifier(t *testing.T) {
	_, err := CompilePredicate(Plain("nosuch.a === 1"), testSchema(), Options{Scope: stdscope.New()})
	require.Error(t, err)
}

func TestExpressionEvaluateWrapsUnderlyingErrorAsRuntimeFatal(t *testing.T) {
	ex, err := CompileExpression(Plain("thing.a.b"), testSchema(), Options{Scope: stdscope.New()})
	require.NoError(t, err)

	_, evalErr := ex.Evaluate(relquery.Tuple{"thing": relquery.Record{"a": 5.0}}, nil, nil)
	require.Error(t, evalErr)
	assert.True(t, rqerr.Fatal(evalErr))
}

func TestCompileExpressionWithAggregates(t *testing.T) {
	ex, err := CompileExpression(Plain("{total: sum(thing.amount)}"), testSchema(), Options{AllowAggregates: true, Scope: stdscope.New()})
	require.NoError(t, err)
	assert.Equal(t, 1, ex.GroupSlots)

	group := make([]relquery.Value, 1)
	v1, err := ex.Evaluate(relquery.Tuple{"thing": relquery.Record{"amount": 3.0}}, nil, group)
	require.NoError(t, err)
	assert.Equal(t, relquery.Record{"total": 3.0}, v1)

	v2, err := ex.Evaluate(relquery.Tuple{"thing": relquery.Record{"amount": 4.0}}, nil, group)
	require.NoError(t, err)
	assert.Equal(t, relquery.Record{"total": 7.0}, v2)
}

func TestCompileExpressionRejectsAggregateWhenDisallowed(t *testing.T) {
	_, err := CompileExpression(Plain("sum(thing.amount)"), testSchema(), Options{AllowAggregates: false, Scope: stdscope.New()})
	require.Error(t, err)
}

func TestFragmentRenderWithSubstitutions(t *testing.T) {
	frag := Fragment{Parts: []string{"thing.a === ", ""}, Subs: []relquery.Value{5.0}}
	groups, err := CompilePredicate(frag, testSchema(), Options{Scope: stdscope.New()})
	require.NoError(t, err)
	require.Len(t, groups.Terms, 1)
	v, err := groups.Terms[0].Expr.Evaluate(relquery.Tuple{"thing": relquery.Record{"a": 5.0}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestExpressionPartialFreezesBoundDeps(t *testing.T) {
	groups, err := CompilePredicate(Plain("thing.a === type.b"), testSchema(), Options{Scope: stdscope.New()})
	require.NoError(t, err)
	full := groups.Terms[0].Expr
	partial := full.Partial(relquery.Tuple{"type": relquery.Record{"b": 9.0}})
	assert.False(t, partial.DependsOn("type"))
	assert.True(t, partial.DependsOn("thing"))

	v, err := partial.Evaluate(relquery.Tuple{"thing": relquery.Record{"a": 9.0}}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestTermGroupsMergeReindexesHoles(t *testing.T) {
	a, err := CompilePredicate(Fragment{Parts: []string{"thing.a === ", ""}, Subs: []relquery.Value{1.0}}, testSchema(), Options{Scope: stdscope.New()})
	require.NoError(t, err)
	b, err := CompilePredicate(Fragment{Parts: []string{"type.b === ", ""}, Subs: []relquery.Value{2.0}}, testSchema(), Options{Scope: stdscope.New()})
	require.NoError(t, err)

	a.Merge(b)
	require.Len(t, a.Subs, 2)
	require.Len(t, a.Terms, 2)

	tuple := relquery.Tuple{"thing": relquery.Record{"a": 1.0}, "type": relquery.Record{"b": 2.0}}
	for _, term := range a.Terms {
		v, err := term.Expr.Evaluate(tuple, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, true, v)
	}
}

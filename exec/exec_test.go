package exec

import (
	"context"
	"testing"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/host/expr"
	"github.com/relquery/relquery/host/stdscope"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rangealg"
	"github.com/relquery/relquery/rxstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecordIterator is a minimal plan.RecordIterator over a fixed slice.
type fakeRecordIterator struct {
	records []relquery.Record
	pos     int
}

func (it *fakeRecordIterator) Next(ctx context.Context) bool {
	if it.pos >= len(it.records) {
		return false
	}
	it.pos++
	return true
}

func (it *fakeRecordIterator) Value() relquery.Record { return it.records[it.pos-1] }
func (it *fakeRecordIterator) Err() error              { return nil }
func (it *fakeRecordIterator) Close() error            { return nil }

// fakeSource is a plan.SourceData/plan.WriteTarget test double that counts
// how many times Scan was invoked, used by the Memoize test to prove a
// replayed child only pulls from the underlying source once.
type fakeSource struct {
	records   []relquery.Record
	scanCalls int
	puts      []relquery.Record
}

func (f *fakeSource) Scan(ctx context.Context, ranges map[string]rangealg.KeyRange) (plan.RecordIterator, error) {
	f.scanCalls++
	return &fakeRecordIterator{records: f.records}, nil
}

func (f *fakeSource) StoreHandle() interface{} { return f }

func (f *fakeSource) Put(ctx context.Context, records []relquery.Record, opts plan.WriteOptions) (plan.RecordIterator, error) {
	f.puts = append(f.puts, records...)
	return &fakeRecordIterator{records: records}, nil
}

func schemaFor(names ...string) relquery.Schema {
	s := make(relquery.Schema, len(names))
	for _, n := range names {
		s[n] = relquery.NewSourceIdentity()
	}
	return s
}

func mustCompilePredicate(t *testing.T, src string, schema relquery.Schema) *compile.Expression {
	t.Helper()
	groups, err := compile.CompilePredicate(compile.Plain(src), schema, compile.Options{Scope: stdscope.New()})
	require.NoError(t, err)
	return compile.CombineTerms(groups.Terms).Expr
}

func mustCompileExpr(t *testing.T, src string, schema relquery.Schema, allowAgg bool) *compile.Expression {
	t.Helper()
	ex, err := compile.CompileExpression(compile.Plain(src), schema, compile.Options{AllowAggregates: allowAgg, Scope: stdscope.New()})
	require.NoError(t, err)
	return ex
}

func drain(t *testing.T, it rxstream.Iterator) []relquery.Tuple {
	t.Helper()
	out, err := rxstream.ToSlice(context.Background(), it)
	require.NoError(t, err)
	return out
}

func TestExecNamedSourceAppliesPredicates(t *testing.T) {
	src := &fakeSource{records: []relquery.Record{{"n": 1.0}, {"n": 2.0}, {"n": 3.0}}}
	schema := schemaFor("a")
	node := plan.NewNamedSource("a", src)
	node.Predicates = []*compile.Expression{mustCompilePredicate(t, "a.n > 1", schema)}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	out := drain(t, it)
	require.Len(t, out, 2)
	assert.Equal(t, 2.0, out[0]["a"]["n"])
	assert.Equal(t, 3.0, out[1]["a"]["n"])
}

func TestExecWherePassesThroughWithoutPredicate(t *testing.T) {
	src := &fakeSource{records: []relquery.Record{{"n": 1.0}}}
	node := &plan.Where{Child: plan.NewNamedSource("a", src)}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	assert.Len(t, drain(t, it), 1)
}

func TestExecWhereFiltersByCombinedPredicate(t *testing.T) {
	src := &fakeSource{records: []relquery.Record{{"n": 1.0}, {"n": 5.0}}}
	schema := schemaFor("a")
	node := &plan.Where{
		Child:     plan.NewNamedSource("a", src),
		Predicate: mustCompilePredicate(t, "a.n > 2", schema),
	}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	out := drain(t, it)
	require.Len(t, out, 1)
	assert.Equal(t, 5.0, out[0]["a"]["n"])
}

func TestExecSelectWrapsProjectionAnonymously(t *testing.T) {
	src := &fakeSource{records: []relquery.Record{{"n": 4.0}}}
	schema := schemaFor("a")
	node := &plan.Select{
		Child:    plan.NewNamedSource("a", src),
		Selector: mustCompileExpr(t, "{doubled: a.n * 2}", schema, false),
	}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	out := drain(t, it)
	require.Len(t, out, 1)
	assert.Equal(t, 8.0, out[0][relquery.AnonymousSource]["doubled"])
}

func TestExecGroupByAccumulatesPerGroupAndKeepsStateIsolated(t *testing.T) {
	src := &fakeSource{records: []relquery.Record{
		{"bucket": "x", "amount": 1.0},
		{"bucket": "y", "amount": 10.0},
		{"bucket": "x", "amount": 2.0},
		{"bucket": "y", "amount": 20.0},
	}}
	schema := schemaFor("a")
	node := &plan.GroupBy{
		Child:    plan.NewNamedSource("a", src),
		Grouper:  mustCompileExpr(t, "a.bucket", schema, false),
		Selector: mustCompileExpr(t, "{bucket: a.bucket, total: sum(a.amount)}", schema, true),
	}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	out := drain(t, it)
	require.Len(t, out, 2)

	byBucket := map[string]relquery.Record{}
	for _, t2 := range out {
		rec := t2[relquery.AnonymousSource]
		byBucket[rec["bucket"].(string)] = rec
	}
	assert.Equal(t, 3.0, byBucket["x"]["total"])
	assert.Equal(t, 30.0, byBucket["y"]["total"])
}

func TestExecOrderByNullPlacementIsSymmetric(t *testing.T) {
	src := &fakeSource{records: []relquery.Record{
		{"n": 2.0},
		{"n": nil},
		{"n": 1.0},
	}}
	schema := schemaFor("a")
	node := &plan.OrderBy{
		Child: plan.NewNamedSource("a", src),
		Ordering: []plan.OrderingTerm{
			{Expr: mustCompileExpr(t, "a.n", schema, false), Order: 1, Nulls: 1},
		},
	}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	out := drain(t, it)
	require.Len(t, out, 3)
	assert.Equal(t, 1.0, out[0]["a"]["n"])
	assert.Equal(t, 2.0, out[1]["a"]["n"])
	assert.Nil(t, out[2]["a"]["n"])
}

func TestExecOrderByNullsFirstWhenRequested(t *testing.T) {
	src := &fakeSource{records: []relquery.Record{{"n": 2.0}, {"n": nil}, {"n": 1.0}}}
	schema := schemaFor("a")
	node := &plan.OrderBy{
		Child: plan.NewNamedSource("a", src),
		Ordering: []plan.OrderingTerm{
			{Expr: mustCompileExpr(t, "a.n", schema, false), Order: 1, Nulls: -1},
		},
	}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	out := drain(t, it)
	require.Len(t, out, 3)
	assert.Nil(t, out[0]["a"]["n"])
	assert.Equal(t, 1.0, out[1]["a"]["n"])
	assert.Equal(t, 2.0, out[2]["a"]["n"])
}

func TestExecSetOperationUnionDeduplicates(t *testing.T) {
	left := &fakeSource{records: []relquery.Record{{"n": 1.0}, {"n": 2.0}}}
	right := &fakeSource{records: []relquery.Record{{"n": 2.0}, {"n": 3.0}}}
	node := &plan.SetOperation{
		Left:  plan.NewNamedSource("a", left),
		Right: plan.NewNamedSource("a", right),
		Kind:  plan.Union,
	}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	out := drain(t, it)
	assert.Len(t, out, 3)
}

func TestExecSetOperationUnionAllKeepsDuplicates(t *testing.T) {
	left := &fakeSource{records: []relquery.Record{{"n": 1.0}}}
	right := &fakeSource{records: []relquery.Record{{"n": 1.0}}}
	node := &plan.SetOperation{
		Left:  plan.NewNamedSource("a", left),
		Right: plan.NewNamedSource("a", right),
		Kind:  plan.UnionAll,
	}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	out := drain(t, it)
	assert.Len(t, out, 2)
}

func TestExecCompositeUnionConcatenatesWithoutDedup(t *testing.T) {
	left := &fakeSource{records: []relquery.Record{{"n": 1.0}}}
	right := &fakeSource{records: []relquery.Record{{"n": 1.0}}}
	node := &plan.CompositeUnion{
		Left:  plan.NewNamedSource("a", left),
		Right: plan.NewNamedSource("b", right),
	}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	assert.Len(t, drain(t, it), 2)
}

func TestExecWriteMaterializesThenPersists(t *testing.T) {
	srcStore := &fakeSource{records: []relquery.Record{{"n": 1.0}}}
	target := &fakeSource{}
	node := &plan.Write{
		Child: &plan.Select{
			Child:    plan.NewNamedSource("a", srcStore),
			Selector: mustCompileExpr(t, "{n: a.n * 10}", schemaFor("a"), false),
		},
		Target: target,
	}

	ctx := New(context.Background(), nil)
	it, err := Execute(ctx, node)
	require.NoError(t, err)
	out := drain(t, it)
	require.Len(t, out, 1)
	require.Len(t, target.puts, 1)
	assert.Equal(t, 10.0, target.puts[0]["n"])
	assert.Equal(t, 10.0, out[0][relquery.AnonymousSource]["n"])
}

func TestExecWriteErrorsWhenChildTupleCarriesNoAnonymousRecord(t *testing.T) {
	srcStore := &fakeSource{records: []relquery.Record{{"n": 1.0}}}
	target := &fakeSource{}
	node := &plan.Write{Child: plan.NewNamedSource("a", srcStore), Target: target}

	ctx := New(context.Background(), nil)
	_, err := Execute(ctx, node)
	assert.Error(t, err)
}

func TestExecMemoizeOnlyScansOnce(t *testing.T) {
	src := &fakeSource{records: []relquery.Record{{"n": 1.0}, {"n": 2.0}}}
	memo := &plan.Memoize{Child: plan.NewNamedSource("a", src)}

	ctx := New(context.Background(), nil)
	it1, err := Execute(ctx, memo)
	require.NoError(t, err)
	out1 := drain(t, it1)

	it2, err := Execute(ctx, memo)
	require.NoError(t, err)
	out2 := drain(t, it2)

	assert.Equal(t, 1, src.scanCalls)
	assert.Equal(t, out1, out2)
}

// rangeCapturingSource records whether an ambient rangealg.Context reached
// its Scan call, and evaluates a fixed Literal bound through it so the test
// can confirm the adapter's Env is actually usable.
type rangeCapturingSource struct {
	sawContext bool
	evaluated  relquery.Value
	evalErr    error
}

func (s *rangeCapturingSource) Scan(ctx context.Context, ranges map[string]rangealg.KeyRange) (plan.RecordIterator, error) {
	rc, ok := rangealg.FromContext(ctx)
	s.sawContext = ok
	if ok {
		s.evaluated, s.evalErr = rc.Eval(expr.Literal{Value: 7.0})
	}
	return &fakeRecordIterator{}, nil
}

func (s *rangeCapturingSource) StoreHandle() interface{} { return s }

func TestExecNamedSourceInstallsAmbientRangeContext(t *testing.T) {
	src := &rangeCapturingSource{}
	node := plan.NewNamedSource("a", src)

	ctx := New(context.Background(), nil)
	_, err := Execute(ctx, node)
	require.NoError(t, err)

	require.True(t, src.sawContext)
	require.NoError(t, src.evalErr)
	assert.Equal(t, relquery.Value(7.0), src.evaluated)
}

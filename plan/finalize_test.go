package plan

import (
	"context"
	"testing"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/host/stdscope"
	"github.com/relquery/relquery/rangealg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRecordIterator is a minimal RecordIterator over a fixed slice, used
// only to satisfy SourceData/WriteTarget in tests that never actually pull
// from the stream.
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

type fakeSource struct {
	store interface{}
}

func (f *fakeSource) Scan(ctx context.Context, ranges map[string]rangealg.KeyRange) (RecordIterator, error) {
	return &fakeRecordIterator{}, nil
}

func (f *fakeSource) StoreHandle() interface{} { return f.store }

func (f *fakeSource) Put(ctx context.Context, records []relquery.Record, opts WriteOptions) (RecordIterator, error) {
	return &fakeRecordIterator{records: records}, nil
}

func mustCompile(t *testing.T, src string, schema relquery.Schema) *compile.TermGroups {
	t.Helper()
	groups, err := compile.CompilePredicate(compile.Plain(src), schema, compile.Options{Scope: stdscope.New()})
	require.NoError(t, err)
	return groups
}

func TestFinalizePushesPredicateToNamedSource(t *testing.T) {
	thing := NewNamedSource("thing", &fakeSource{})
	schema := relquery.Schema{"thing": thing.ID}
	thing.Predicates = nil
	where := &Where{Child: thing, Groups: mustCompile(t, "thing.a > 1", schema)}

	finalized, err := Finalize(where)
	require.NoError(t, err)

	ns, ok := finalized.(*NamedSource)
	require.True(t, ok, "Where over a schema-bearing child must be removed")
	assert.Len(t, ns.Predicates, 1)
	assert.Contains(t, ns.KeyRanges, "a")
}

func TestFinalizeCombinesPredicateOverNoSchemaChild(t *testing.T) {
	thing := NewNamedSource("thing", &fakeSource{})
	schema := relquery.Schema{"thing": thing.ID}
	groupBy := &GroupBy{
		Child:    thing,
		Selector: mustExpr(t, "{c: count()}", schema, true),
		Grouper:  mustExpr(t, "{}", schema, false),
	}
	where := &Where{Child: groupBy, Groups: mustCompile(t, "thing.a > 1", schema)}

	finalized, err := Finalize(where)
	require.NoError(t, err)

	w, ok := finalized.(*Where)
	require.True(t, ok, "Where over a no-schema child must survive with a combined predicate")
	assert.NotNil(t, w.Predicate)
}

func mustExpr(t *testing.T, src string, schema relquery.Schema, allowAgg bool) *compile.Expression {
	t.Helper()
	ex, err := compile.CompileExpression(compile.Plain(src), schema, compile.Options{AllowAggregates: allowAgg, Scope: stdscope.New()})
	require.NoError(t, err)
	return ex
}

func TestFinalizeFusesNestedOrderBy(t *testing.T) {
	thing := NewNamedSource("thing", &fakeSource{})
	schema := relquery.Schema{"thing": thing.ID}
	inner := &OrderBy{Child: thing, Ordering: []OrderingTerm{{Expr: mustExpr(t, "thing.b", schema, false), Order: 1, Nulls: 1}}}
	outer := &OrderBy{Child: inner, Ordering: []OrderingTerm{{Expr: mustExpr(t, "thing.a", schema, false), Order: -1, Nulls: -1}}}

	finalized, err := Finalize(outer)
	require.NoError(t, err)

	ob, ok := finalized.(*OrderBy)
	require.True(t, ok)
	require.Len(t, ob.Ordering, 2)
	_, stillNested := ob.Child.(*OrderBy)
	assert.False(t, stillNested)
}

func TestFinalizeOuterJoinRetainsRightDependentPredicate(t *testing.T) {
	left := NewNamedSource("thing", &fakeSource{})
	right := NewNamedSource("type", &fakeSource{})
	schema := relquery.Schema{"thing": left.ID, "type": right.ID}
	join := &OuterJoin{JoinBase: JoinBase{Left: left, Right: right}}
	where := &Where{Child: join, Groups: mustCompile(t, "type.active === true", schema)}

	finalized, err := Finalize(where)
	require.NoError(t, err)

	oj, ok := finalized.(*OuterJoin)
	require.True(t, ok)
	assert.Len(t, oj.Predicates, 1, "a right-dependent predicate under an outer join must stay on the join, not hoist into the right NamedSource alone")
}

func TestFinalizeWrapsPersistentSourceInTransactionEnvelope(t *testing.T) {
	store := &struct{ n int }{1}
	thing := NewNamedSource("thing", &fakeSource{store: store})

	finalized, err := Finalize(thing)
	require.NoError(t, err)

	env, ok := finalized.(*TransactionEnvelope)
	require.True(t, ok)
	assert.Equal(t, ReadOnly, env.Mode)
	assert.Equal(t, []string{"thing"}, env.SourceNames)
}

func TestFinalizeRejectsMultiplePersistentStores(t *testing.T) {
	s1 := &struct{ n int }{1}
	s2 := &struct{ n int }{2}
	left := NewNamedSource("thing", &fakeSource{store: s1})
	right := NewNamedSource("type", &fakeSource{store: s2})
	join := &InnerJoin{JoinBase: JoinBase{Left: left, Right: right}}

	_, err := Finalize(join)
	require.Error(t, err)
}

func TestFinalizeSetsReadWriteModeWhenWritePresent(t *testing.T) {
	store := &struct{ n int }{1}
	src := &fakeSource{store: store}
	thing := NewNamedSource("thing", src)
	write := &Write{Child: thing, Target: src}

	finalized, err := Finalize(write)
	require.NoError(t, err)

	env, ok := finalized.(*TransactionEnvelope)
	require.True(t, ok)
	assert.Equal(t, ReadWrite, env.Mode)
}

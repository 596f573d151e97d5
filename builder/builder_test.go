package builder

import (
	"context"
	"testing"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rangealg"
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

// fakeSource is a plan.SourceData/plan.WriteTarget test double that records
// every Put call, so write-path tests can assert on what reached the store.
// Its StoreHandle is nil, so finalization sees no persistent store (no
// TransactionEnvelope, no multi-store error) and every fakeSource matches
// an into() target of the same kind.
type fakeSource struct {
	records []relquery.Record
	puts    []relquery.Record
}

func (f *fakeSource) Scan(ctx context.Context, ranges map[string]rangealg.KeyRange) (plan.RecordIterator, error) {
	return &fakeRecordIterator{records: f.records}, nil
}

func (f *fakeSource) StoreHandle() interface{} { return nil }

func (f *fakeSource) Put(ctx context.Context, records []relquery.Record, opts plan.WriteOptions) (plan.RecordIterator, error) {
	f.puts = append(f.puts, records...)
	return &fakeRecordIterator{records: records}, nil
}

func TestBuilderSelectWhereJoinExecutesEndToEnd(t *testing.T) {
	things := &fakeSource{records: []relquery.Record{{"n": 1.0, "key": "a"}, {"n": 5.0, "key": "b"}}}
	kinds := &fakeSource{records: []relquery.Record{{"key": "b", "label": "big"}}}

	b := New().
		From(map[string]plan.SourceData{"thing": things}).
		Join(map[string]plan.SourceData{"kind": kinds}).
		On(compile.Plain("thing.key === kind.key")).
		Where(compile.Plain("thing.n > 2")).
		Select(compile.Plain("{label: kind.label, n: thing.n}"))

	it, err := b.Query(context.Background(), nil)
	require.NoError(t, err)
	defer it.Close()

	var out []relquery.Tuple
	for it.Next(context.Background()) {
		out = append(out, it.Value())
	}
	require.NoError(t, it.Err())
	require.Len(t, out, 1)
	assert.Equal(t, "big", out[0][relquery.AnonymousSource]["label"])
	assert.Equal(t, 5.0, out[0][relquery.AnonymousSource]["n"])
}

func TestBuilderFullJoinBuildsCompositeUnionOfOuterAndAnti(t *testing.T) {
	left := &fakeSource{}
	right := &fakeSource{}

	b := New().
		From(map[string]plan.SourceData{"l": left}).
		FullJoin(map[string]plan.SourceData{"r": right}).
		On(compile.Plain("l.id === r.id")).
		Select(compile.Plain("l"))

	root, err := b.Finalize()
	require.NoError(t, err)

	cu, ok := root.(*plan.CompositeUnion)
	require.True(t, ok, "full join must finalize to a CompositeUnion, got %T", root)

	outer, ok := cu.Left.(*plan.OuterJoin)
	require.True(t, ok, "left leg of a full join must be an OuterJoin")
	assert.NotNil(t, outer.Groups, "on() must have merged into the OuterJoin leg")

	anti, ok := cu.Right.(*plan.AntiJoin)
	require.True(t, ok, "right leg of a full join must be an AntiJoin")
	assert.NotNil(t, anti.Groups, "on() must have merged into the AntiJoin leg")
}

func TestBuilderRightJoinSwapsOperands(t *testing.T) {
	left := &fakeSource{}
	right := &fakeSource{}

	b := New().
		From(map[string]plan.SourceData{"l": left}).
		RightJoin(map[string]plan.SourceData{"r": right}).
		Select(compile.Plain("l"))

	root, err := b.Finalize()
	require.NoError(t, err)

	sel, ok := root.(*plan.Select)
	require.True(t, ok)
	oj, ok := sel.Child.(*plan.OuterJoin)
	require.True(t, ok)

	rSchema, ok := oj.Left.Schema()
	require.True(t, ok)
	_, hasR := rSchema["r"]
	assert.True(t, hasR, "right join must put the newly added alias on the left of the OuterJoin")
}

func TestBuilderFinalizeIsIdempotentAndLocksFurtherMutation(t *testing.T) {
	src := &fakeSource{}
	b := New().From(map[string]plan.SourceData{"a": src})

	first, err := b.Finalize()
	require.NoError(t, err)
	second, err := b.Finalize()
	require.NoError(t, err)
	assert.Same(t, first, second, "Finalize must cache and return the same tree on repeat calls")

	b.Where(compile.Plain("a.n > 0"))
	assert.Error(t, b.Err(), "mutating after finalize must record a build-time error")
}

func TestBuilderDuplicateVerbIsRejected(t *testing.T) {
	src := &fakeSource{}
	b := New().
		From(map[string]plan.SourceData{"a": src}).
		Select(compile.Plain("a")).
		Insert(compile.Plain("a"))

	assert.Error(t, b.Err())
}

func TestBuilderWhereWithoutFromIsRejected(t *testing.T) {
	b := New().Where(compile.Plain("a.n > 0"))
	assert.Error(t, b.Err())
}

func TestBuilderGroupByRequiresPriorSelect(t *testing.T) {
	src := &fakeSource{}
	b := New().
		From(map[string]plan.SourceData{"a": src}).
		GroupBy(compile.Plain("a.bucket"))
	assert.Error(t, b.Err())
}

func TestBuilderInsertBuildsOverwriteFalseWrite(t *testing.T) {
	store := &fakeSource{}
	b := New().
		From(map[string]plan.SourceData{"a": store}).
		Insert(compile.Plain("{x: a.n}")).
		Into(store)

	root, err := b.Finalize()
	require.NoError(t, err)
	w, ok := root.(*plan.Write)
	require.True(t, ok)
	assert.False(t, w.Options.Overwrite)
	assert.False(t, w.Options.Delete)
}

func TestBuilderUpsertAndUpdateSetOverwrite(t *testing.T) {
	store := &fakeSource{}
	up := New().
		From(map[string]plan.SourceData{"a": store}).
		Upsert(compile.Plain("{x: a.n}")).
		Into(store)
	root, err := up.Finalize()
	require.NoError(t, err)
	w := root.(*plan.Write)
	assert.True(t, w.Options.Overwrite)
	assert.False(t, w.Options.Delete)

	upd := New().
		From(map[string]plan.SourceData{"a": store}).
		Update(compile.Plain("{x: a.n}")).
		Into(store)
	root, err = upd.Finalize()
	require.NoError(t, err)
	w = root.(*plan.Write)
	assert.True(t, w.Options.Overwrite)
	assert.False(t, w.Options.Delete)
}

func TestBuilderDeleteFromSetsOverwriteAndDelete(t *testing.T) {
	store := &fakeSource{records: []relquery.Record{{relquery.PrimaryKeyAttr: "k1", "n": 1.0}}}
	b := New().
		From(map[string]plan.SourceData{"a": store}).
		DeleteFrom(store)

	root, err := b.Finalize()
	require.NoError(t, err)
	w := root.(*plan.Write)
	assert.True(t, w.Options.Overwrite)
	assert.True(t, w.Options.Delete)

	it, err := b.Query(context.Background(), nil)
	require.NoError(t, err)
	defer it.Close()
	var out []relquery.Tuple
	for it.Next(context.Background()) {
		out = append(out, it.Value())
	}
	require.NoError(t, it.Err())
	require.Len(t, store.puts, 1)
	assert.Equal(t, "k1", store.puts[0][relquery.PrimaryKeyAttr])
}

func TestBuilderUpdateMergesPatchOverPriorRecord(t *testing.T) {
	store := &fakeSource{records: []relquery.Record{{relquery.PrimaryKeyAttr: "k1", "n": 1.0, "label": "old"}}}
	b := New().
		From(map[string]plan.SourceData{"a": store}).
		Update(compile.Plain("{label: \"new\"}")).
		Into(store)

	it, err := b.Query(context.Background(), nil)
	require.NoError(t, err)
	defer it.Close()
	for it.Next(context.Background()) {
	}
	require.NoError(t, it.Err())

	require.Len(t, store.puts, 1)
	merged := store.puts[0]
	assert.Equal(t, "k1", merged[relquery.PrimaryKeyAttr], "update must preserve the prior primary key")
	assert.Equal(t, "new", merged["label"])
	assert.Equal(t, 1.0, merged["n"], "update must carry forward fields the patch did not touch")
}

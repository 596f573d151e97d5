package txn

import (
	"errors"
	"testing"
	"time"

	"github.com/relquery/relquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewReadsFallThroughAndWritesStayInOverlay(t *testing.T) {
	tr := New()
	base := relquery.Record{"a": 1.0}
	v := tr.View("key", base)

	val, ok := v.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, val)

	v.Set("a", 2.0)
	assert.Equal(t, 1.0, base["a"], "overlay writes must not touch the base until commit")
	val, ok = v.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2.0, val)
}

func TestCompleteCommitsOverlayIntoBase(t *testing.T) {
	tr := New()
	base := relquery.Record{"a": 1.0, "b": 2.0}
	v := tr.View("key", base)
	v.Set("a", 9.0)
	v.Delete("b")

	tr.Complete()

	assert.Equal(t, 9.0, base["a"])
	_, hasB := base["b"]
	assert.False(t, hasB)
}

func TestAbortDiscardsOverlay(t *testing.T) {
	tr := New()
	base := relquery.Record{"a": 1.0}
	v := tr.View("key", base)
	v.Set("a", 9.0)

	tr.Abort(errors.New("boom"))

	assert.Equal(t, 1.0, base["a"])
	assert.True(t, tr.Settled())
	assert.EqualError(t, tr.Err(), "boom")
}

func TestSettleFiresHooksAtMostOnce(t *testing.T) {
	tr := New()
	completions := 0
	tr.OnComplete(func() { completions++ })
	tr.Complete()
	tr.Complete()
	assert.Equal(t, 1, completions)
}

func TestOnCompleteAfterSettleFiresImmediately(t *testing.T) {
	tr := New()
	tr.Complete()
	fired := false
	tr.OnComplete(func() { fired = true })
	assert.True(t, fired)
}

func TestDelayCompleteReArmingKeepsTransactionOpen(t *testing.T) {
	tr := New()
	tr.DelayComplete()
	time.Sleep(5 * time.Millisecond)
	tr.DelayComplete() // re-arm before the second tick would have fired
	assert.False(t, tr.Settled())
	<-tr.Done()
	assert.True(t, tr.Settled())
}

type fakeStoreTx struct {
	committed, aborted bool
	onCommit           func()
	onAbort            func(error)
}

func (f *fakeStoreTx) Commit() error {
	f.committed = true
	if f.onCommit != nil {
		f.onCommit()
	}
	return nil
}
func (f *fakeStoreTx) Abort() error {
	f.aborted = true
	if f.onAbort != nil {
		f.onAbort(errors.New("aborted"))
	}
	return nil
}
func (f *fakeStoreTx) OnSettle(onCommit func(), onAbort func(error)) {
	f.onCommit = onCommit
	f.onAbort = onAbort
}

func TestPersistentTransactionAbortAbortsStore(t *testing.T) {
	store := &fakeStoreTx{}
	pt := WrapStore(store)
	pt.Abort(errors.New("query failed"))
	assert.True(t, store.aborted)
	assert.True(t, pt.Settled())
}

func TestPersistentTransactionSettlesFromStoreNativeCommit(t *testing.T) {
	store := &fakeStoreTx{}
	pt := WrapStore(store)
	store.Commit()
	assert.True(t, pt.Settled())
	assert.NoError(t, pt.Err())
}

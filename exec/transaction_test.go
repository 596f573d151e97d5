package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecTransactionEnvelopeInstallsInMemoryHandleByDefault(t *testing.T) {
	child := plan.NewNamedSource("a", &fakeSource{records: []relquery.Record{{"n": 1.0}}})
	node := &plan.TransactionEnvelope{Child: child, SourceNames: []string{"a"}, Mode: plan.ReadOnly}

	ctx := New(context.Background(), nil)
	it, err := execTransactionEnvelope(ctx, node)
	require.NoError(t, err)
	require.NotNil(t, ctx.Txn)
	_, isMemTxn := ctx.Txn.(*txn.Transaction)
	assert.True(t, isMemTxn)
	assert.False(t, ctx.Txn.Settled())

	out := drain(t, it)
	assert.Len(t, out, 1)
}

func TestExecTransactionEnvelopeRejectsAlreadySettledTransaction(t *testing.T) {
	settled := txn.New()
	settled.Complete()

	child := plan.NewNamedSource("a", &fakeSource{})
	node := &plan.TransactionEnvelope{Child: child}

	ctx := New(context.Background(), nil)
	ctx.Txn = settled
	_, err := execTransactionEnvelope(ctx, node)
	assert.Error(t, err)
}

type fakeStoreTx struct {
	committed bool
	aborted   bool
	onCommit  func()
	onAbort   func(error)
}

func (f *fakeStoreTx) Commit() error { f.committed = true; return nil }
func (f *fakeStoreTx) Abort() error  { f.aborted = true; return nil }
func (f *fakeStoreTx) OnSettle(onCommit func(), onAbort func(error)) {
	f.onCommit = onCommit
	f.onAbort = onAbort
}

type fakeTxOpener struct {
	storeTx  *fakeStoreTx
	gotNames []string
	gotMode  plan.TxnMode
}

func (f *fakeTxOpener) OpenTx(ctx context.Context, names []string, mode plan.TxnMode) (txn.StoreTx, error) {
	f.gotNames = names
	f.gotMode = mode
	return f.storeTx, nil
}

func TestExecTransactionEnvelopeUsesTxOpenerWhenStoreHandleSupportsIt(t *testing.T) {
	opener := &fakeTxOpener{storeTx: &fakeStoreTx{}}
	child := plan.NewNamedSource("a", &fakeSource{records: []relquery.Record{{"n": 1.0}}})
	node := &plan.TransactionEnvelope{
		Child:       child,
		StoreHandle: opener,
		SourceNames: []string{"a"},
		Mode:        plan.ReadWrite,
	}

	ctx := New(context.Background(), nil)
	it, err := execTransactionEnvelope(ctx, node)
	require.NoError(t, err)
	_, isPersistent := ctx.Txn.(*txn.PersistentTransaction)
	assert.True(t, isPersistent)
	assert.Equal(t, []string{"a"}, opener.gotNames)
	assert.Equal(t, plan.ReadWrite, opener.gotMode)

	assert.Len(t, drain(t, it), 1)
}

// fakeErrIterator yields one empty tuple then reports err.
type fakeErrIterator struct {
	yielded bool
	err     error
}

func (f *fakeErrIterator) Next(ctx context.Context) bool {
	if !f.yielded {
		f.yielded = true
		return true
	}
	return false
}
func (f *fakeErrIterator) Value() relquery.Tuple { return relquery.Tuple{} }
func (f *fakeErrIterator) Err() error {
	if f.yielded {
		return f.err
	}
	return nil
}
func (f *fakeErrIterator) Close() error { return nil }

func TestTxnWatchIteratorAbortsTransactionOnChildError(t *testing.T) {
	wantErr := errors.New("boom")
	tr := txn.New()
	watch := &txnWatchIterator{inner: &fakeErrIterator{err: wantErr}, txn: tr}

	for watch.Next(context.Background()) {
	}
	assert.Equal(t, wantErr, watch.Err())
	assert.True(t, tr.Settled())
	assert.Equal(t, wantErr, tr.Err())
}

func TestTxnWatchIteratorDoesNotAbortOnCleanExhaustion(t *testing.T) {
	tr := txn.New()
	watch := &txnWatchIterator{inner: &fakeErrIterator{}, txn: tr}
	for watch.Next(context.Background()) {
	}
	assert.NoError(t, watch.Err())
	assert.False(t, tr.Settled())
}

package exec

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rqerr"
	"github.com/relquery/relquery/rxstream"
	"github.com/relquery/relquery/txn"
)

// TxOpener is implemented by a persistent store handle capable of opening
// a native transaction over a set of source names in a given access mode
// (spec.md §4.7 TransactionEnvelope: "opening a transaction on the
// persistent store over the listed source names in the specified mode").
// A store package's handle type (returned from plan.PersistentSourceData.
// StoreHandle) implements this alongside txn.StoreTx on the handle it
// returns from OpenTx.
type TxOpener interface {
	OpenTx(ctx context.Context, sourceNames []string, mode plan.TxnMode) (txn.StoreTx, error)
}

// execTransactionEnvelope implements spec.md §4.7: install an ambient
// transaction the first time this ctx reaches a TransactionEnvelope (a
// store-backed one when the store handle supports TxOpener, an in-memory
// one otherwise), fail if a transaction is already installed but settled,
// arm the in-memory two-tick auto-commit on every execute, and abort on
// any error the child's stream raises.
func execTransactionEnvelope(ctx *Ctx, n *plan.TransactionEnvelope) (rxstream.Iterator, error) {
	if ctx.Txn != nil {
		if ctx.Txn.Settled() {
			return nil, rqerr.Fatalf("exec: cannot execute against an already-settled transaction")
		}
	} else {
		handle, err := openTransaction(ctx.Context, n)
		if err != nil {
			return nil, err
		}
		ctx.Txn = handle
		mode := "read-only"
		if n.Mode == plan.ReadWrite {
			mode = "read-write"
		}
		ctx.Trace.TransactionBegin(mode)
		txnID := uuid.NewString()
		ctx.Log.Info("transaction opened", logrus.Fields{"transaction_id": txnID, "mode": mode, "sources": n.SourceNames})
		tr, lg := ctx.Trace, ctx.Log
		handle.OnComplete(func() {
			tr.TransactionSettled("committed", nil)
			lg.Info("transaction committed", logrus.Fields{"transaction_id": txnID})
		})
		handle.OnAbort(func(err error) {
			tr.TransactionSettled("aborted", err)
			lg.Warn("transaction aborted", logrus.Fields{"transaction_id": txnID, "error": err})
		})
	}
	if mem, ok := ctx.Txn.(*txn.Transaction); ok {
		mem.DelayComplete()
	}
	ctx.Context = txn.NewContext(ctx.Context, ctx.Txn)

	childIter, err := Execute(ctx, n.Child)
	if err != nil {
		ctx.Txn.Abort(err)
		return nil, err
	}
	return &txnWatchIterator{inner: childIter, txn: ctx.Txn}, nil
}

func openTransaction(ctx context.Context, n *plan.TransactionEnvelope) (txn.Handle, error) {
	if opener, ok := n.StoreHandle.(TxOpener); ok {
		storeTx, err := opener.OpenTx(ctx, n.SourceNames, n.Mode)
		if err != nil {
			return nil, err
		}
		return txn.WrapStore(storeTx), nil
	}
	return txn.New(), nil
}

// txnWatchIterator wraps a TransactionEnvelope's child stream to abort the
// ambient transaction the moment the child reports an error, then
// re-raises it (spec.md §4.7: "on any error emitted by the child's stream,
// abort the transaction and re-raise").
type txnWatchIterator struct {
	inner   rxstream.Iterator
	txn     txn.Handle
	aborted bool
}

func (w *txnWatchIterator) Next(ctx context.Context) bool {
	if w.inner.Next(ctx) {
		return true
	}
	if err := w.inner.Err(); err != nil && !w.aborted {
		w.aborted = true
		w.txn.Abort(err)
	}
	return false
}

func (w *txnWatchIterator) Value() relquery.Tuple { return w.inner.Value() }
func (w *txnWatchIterator) Err() error             { return w.inner.Err() }
func (w *txnWatchIterator) Close() error           { return w.inner.Close() }

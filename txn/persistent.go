package txn

// StoreTx is the minimal contract a persistent store's transaction handle
// must satisfy for PersistentTransaction to wrap it (relquery/store
// implements this over Badger/in-memory backends). OnSettle registers the
// store's own native commit/abort notifications; PersistentTransaction
// uses it to settle itself even when the store commits on its own (e.g. an
// internal auto-commit) rather than only in response to an explicit
// Complete/Abort call.
type StoreTx interface {
	Commit() error
	Abort() error
	OnSettle(onCommit func(), onAbort func(error))
}

// PersistentTransaction subclasses Transaction to mirror an underlying
// store transaction's lifecycle (spec.md §4.8: "the persistent-store
// variant subclasses: on abort it additionally aborts the underlying store
// transaction; it observes the store's native complete/abort events to
// settle itself").
type PersistentTransaction struct {
	Transaction
	store StoreTx
}

// WrapStore returns a PersistentTransaction bound to store, immediately
// subscribing to its native commit/abort events.
func WrapStore(store StoreTx) *PersistentTransaction {
	pt := &PersistentTransaction{Transaction: *New(), store: store}
	store.OnSettle(pt.Transaction.settleComplete, pt.Transaction.settleAbort)
	return pt
}

// Complete commits the underlying store transaction, then settles.
func (pt *PersistentTransaction) Complete() {
	if err := pt.store.Commit(); err != nil {
		pt.Transaction.settleAbort(err)
		return
	}
	pt.Transaction.settleComplete()
}

// Abort settles with reason err, then aborts the underlying store
// transaction (spec.md §4.8: "on abort it additionally aborts the underlying
// store transaction"); the store's own abort notification arrives after
// settling and so cannot replace err.
func (pt *PersistentTransaction) Abort(err error) {
	pt.Transaction.settleAbort(err)
	_ = pt.store.Abort()
}

// StoreTx returns the underlying native store transaction handle, so a
// store-backed plan.SourceData/plan.WriteTarget can recover its own typed
// transaction object (e.g. to call Source(name)) from the ambient txn.Handle
// it finds via FromContext.
func (pt *PersistentTransaction) StoreTx() StoreTx { return pt.store }

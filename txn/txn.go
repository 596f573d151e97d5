// Package txn implements the transaction model of spec.md §4.8: a
// settle-once Transaction with complete/abort hooks, a copy-on-write
// overlay for the in-memory source model, a two-tick auto-complete timer,
// and a persistent-store-backed variant that mirrors an underlying store
// transaction's own commit/abort events.
//
// Grounded on executor/worker_pool.go's Go-native sync/channel idioms
// (its WaitGroup-guarded completion) generalized from
// "wait for N workers" to "settle once, from whichever of complete/abort
// fires first".
package txn

import (
	"sync"
	"time"

	"github.com/relquery/relquery"
)

// Handle is the common surface exec's TransactionEnvelope needs from either
// variant: the plain in-memory Transaction or a store-backed
// PersistentTransaction (which embeds Transaction and overrides
// Complete/Abort). Kept minimal and in this package, like StoreTx, so exec
// depends on txn without txn ever depending back on exec or store.
type Handle interface {
	Settled() bool
	Done() <-chan struct{}
	Err() error
	OnComplete(fn func())
	OnAbort(fn func(error))
	Complete()
	Abort(err error)
	View(key interface{}, base relquery.Record) *View
	DelayComplete()
}

type deletedMarker struct{}

// Deleted is the overlay sentinel meaning "this field is deleted", the Go
// encoding of spec.md §4.8's "explicit undefined means delete".
var Deleted relquery.Value = deletedMarker{}

// Transaction is the in-memory variant of spec.md §4.8: settled flips from
// false to true by the first of Complete/Abort; hooks registered via
// OnComplete/OnAbort fire at most once.
type Transaction struct {
	mu       sync.Mutex
	settled  bool
	err      error
	done     chan struct{}
	onComp   []func()
	onAbort  []func(error)
	overlay  map[interface{}]relquery.Record
	bases    map[interface{}]relquery.Record
	timer    *time.Timer
	ticksLeft int
}

// New allocates an unsettled in-memory Transaction.
func New() *Transaction {
	return &Transaction{
		done:    make(chan struct{}),
		overlay: map[interface{}]relquery.Record{},
		bases:   map[interface{}]relquery.Record{},
	}
}

// Settled reports whether Complete or Abort has already fired.
func (t *Transaction) Settled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settled
}

// Done returns a channel closed once the transaction settles.
func (t *Transaction) Done() <-chan struct{} { return t.done }

// Err returns the abort reason, or nil if the transaction completed (or is
// still open).
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// OnComplete registers fn to run exactly once, at commit time. If the
// transaction has already completed, fn runs immediately.
func (t *Transaction) OnComplete(fn func()) {
	t.mu.Lock()
	if t.settled {
		already := t.err == nil
		t.mu.Unlock()
		if already {
			fn()
		}
		return
	}
	t.onComp = append(t.onComp, fn)
	t.mu.Unlock()
}

// OnAbort registers fn to run exactly once, at abort time. If the
// transaction has already aborted, fn runs immediately.
func (t *Transaction) OnAbort(fn func(error)) {
	t.mu.Lock()
	if t.settled {
		err := t.err
		t.mu.Unlock()
		if err != nil {
			fn(err)
		}
		return
	}
	t.onAbort = append(t.onAbort, fn)
	t.mu.Unlock()
}

// Complete settles the transaction successfully, committing the overlay
// into its base records field by field (Deleted removes the field).
func (t *Transaction) Complete() { t.settleComplete() }

// Abort settles the transaction with reason err, discarding the overlay.
func (t *Transaction) Abort(err error) { t.settleAbort(err) }

func (t *Transaction) settleComplete() {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return
	}
	t.settled = true
	for key, shadow := range t.overlay {
		base := t.bases[key]
		if base == nil {
			continue
		}
		for field, v := range shadow {
			if _, isDelete := v.(deletedMarker); isDelete {
				delete(base, field)
			} else {
				base[field] = v
			}
		}
	}
	hooks := t.onComp
	t.stopTimerLocked()
	close(t.done)
	t.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func (t *Transaction) settleAbort(err error) {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return
	}
	t.settled = true
	t.err = err
	hooks := t.onAbort
	t.stopTimerLocked()
	close(t.done)
	t.mu.Unlock()
	for _, h := range hooks {
		h(err)
	}
}

func (t *Transaction) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// View returns a copy-on-write shadow over base, keyed by key (typically
// the identity of the record being viewed): reads fall through to base
// when no overlay entry exists; writes go only to the overlay until
// Complete commits them back (spec.md §4.8: "view(x) returns a shadow
// linked by prototype").
func (t *Transaction) View(key interface{}, base relquery.Record) *View {
	t.mu.Lock()
	if _, ok := t.bases[key]; !ok {
		t.bases[key] = base
	}
	t.mu.Unlock()
	return &View{txn: t, key: key}
}

// View is a single copy-on-write shadow record produced by
// Transaction.View.
type View struct {
	txn *Transaction
	key interface{}
}

// Get reads field, falling through to the base record if no overlay write
// has touched it (or returning not-found if the overlay marks it Deleted).
func (v *View) Get(field string) (relquery.Value, bool) {
	t := v.txn
	t.mu.Lock()
	defer t.mu.Unlock()
	if shadow, ok := t.overlay[v.key]; ok {
		if val, ok2 := shadow[field]; ok2 {
			if _, isDelete := val.(deletedMarker); isDelete {
				return nil, false
			}
			return val, true
		}
	}
	val, ok := t.bases[v.key][field]
	return val, ok
}

// Snapshot returns the full record as currently visible through this view
// (base fields overlaid by any shadow writes, Deleted fields omitted).
func (v *View) Snapshot() relquery.Record {
	t := v.txn
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(relquery.Record, len(t.bases[v.key]))
	for k, val := range t.bases[v.key] {
		out[k] = val
	}
	for k, val := range t.overlay[v.key] {
		if _, isDelete := val.(deletedMarker); isDelete {
			delete(out, k)
			continue
		}
		out[k] = val
	}
	return out
}

// Set writes field into the overlay without touching the base record.
func (v *View) Set(field string, val relquery.Value) {
	t := v.txn
	t.mu.Lock()
	defer t.mu.Unlock()
	shadow := t.overlay[v.key]
	if shadow == nil {
		shadow = relquery.Record{}
		t.overlay[v.key] = shadow
	}
	shadow[field] = val
}

// Delete marks field as removed in the overlay.
func (v *View) Delete(field string) { v.Set(field, Deleted) }

// DelayComplete arms a two-tick auto-complete: two successive deferred
// callbacks, the second of which flips the transaction to complete unless
// a later DelayComplete call re-arms the timer first (spec.md §4.8). Every
// TransactionEnvelope execute call over an in-memory transaction calls
// this so chained writes keep the transaction open while it still
// eventually commits on its own.
func (t *Transaction) DelayComplete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return
	}
	t.ticksLeft = 2
	t.stopTimerLocked()
	t.timer = time.AfterFunc(0, t.tick)
}

func (t *Transaction) tick() {
	t.mu.Lock()
	if t.settled {
		t.mu.Unlock()
		return
	}
	t.ticksLeft--
	if t.ticksLeft > 0 {
		t.timer = time.AfterFunc(0, t.tick)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.Complete()
}

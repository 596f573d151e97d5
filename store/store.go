// Package store implements the abstract persistent-store contract of
// spec.md §6.3: a Store opens transactions scoped to a set of named
// sources; each source exposes a primary keyPath plus named secondary
// indexes and a cursor/put/add/delete surface. kvmem and kvbadger are
// concrete backends; BoundSource bridges either one to a plan.NamedSource
// by recovering the ambient transaction and range-evaluation context the
// exec package installs on every scan and put.
package store

import (
	"context"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rangealg"
	"github.com/relquery/relquery/txn"
)

// KeyPath names the ordered attribute(s) a source or index is keyed by.
// nil denotes "keyPath absent".
type KeyPath []string

// Store is the abstract contract a persistent backend satisfies. OpenTx's
// signature matches exec.TxOpener exactly, so any Store can be handed to a
// NamedSource's PersistentSourceData.StoreHandle and exec's transaction
// envelope will recognise and use it without exec importing store (spec.md §6.3: "transaction(source_names, mode) returns a handle
// that exposes each named source").
type Store interface {
	OpenTx(ctx context.Context, sourceNames []string, mode plan.TxnMode) (txn.StoreTx, error)
	Close() error
}

// Tx is a native transaction opened by Store, scoped to the source names it
// was asked for. It satisfies txn.StoreTx (Commit/Abort/OnSettle) so
// txn.WrapStore can subclass it, plus Source to reach one of the sources
// the transaction was opened over.
type Tx interface {
	txn.StoreTx
	Source(name string) (Source, error)
}

// IndexSpec describes one of a source's secondary indexes (spec.md §6.3:
// "a list of named secondary indexes, each with its own keyPath,
// multi-entry flag, and unique flag").
type IndexSpec struct {
	Name       string
	KeyPath    KeyPath
	Unique     bool
	MultiEntry bool
}

// SourceSpec is a source's static shape: its primary keyPath (nil means
// absent, see relquery.PrimaryKeyAttr), whether it auto-increments keys on Add
// without an explicit key, and its declared secondary indexes.
type SourceSpec struct {
	Name          string
	KeyPath       KeyPath
	AutoIncrement bool
	Indexes       []IndexSpec
}

// Source is one named collection within a transaction (spec.md §6.3).
type Source interface {
	Spec() SourceSpec
	OpenCursor(ctx context.Context, index string, r NativeRange) (Cursor, error)
	Put(ctx context.Context, record relquery.Record, explicitKey relquery.Value) (relquery.Record, error)
	Add(ctx context.Context, record relquery.Record, explicitKey relquery.Value) (relquery.Record, error)
	Delete(ctx context.Context, key relquery.Value) error
}

// NativeRange bounds a cursor scan over a (possibly composite) native key.
// A nil Lower/Upper side is unbounded on that side; the zero value scans
// every record in key order (spec.md §6.3: "lower-bound, upper-bound, and
// bound-both with open/closed flags; or all records"). FromComposite
// builds one from a prepared rangealg.CompositeInterval.
type NativeRange struct {
	Lower, Upper         []relquery.Value
	LowerOpen, UpperOpen bool
}

// FromComposite converts one row of spec.md §4.9 step 4's cross product —
// a CompositeInterval already resolved against the current tuple/params —
// into the NativeRange a concrete Source's OpenCursor expects.
func FromComposite(ci rangealg.CompositeInterval) NativeRange {
	lower, upper, lowerOpen, upperOpen := ci.NativeBound()
	return NativeRange{Lower: lower, Upper: upper, LowerOpen: lowerOpen, UpperOpen: upperOpen}
}

// prefixCmp compares key and bound component-wise over their shared
// length, treating any length difference beyond that shared prefix as a
// tie — a composite bound shorter than a key's full key vector imposes no
// constraint on the key's trailing components (CompositeInterval.NativeBound
// omits the final component from Upper when the final upper bound is unset,
// to mean exactly that: "no restriction past this equality prefix").
func prefixCmp(key, bound []relquery.Value) int {
	n := len(bound)
	if n > len(key) {
		n = len(key)
	}
	for i := 0; i < n; i++ {
		if c := relquery.Cmp(key[i], bound[i]); c != 0 {
			return c
		}
	}
	return 0
}

// Contains reports whether key (the full composite key vector of one
// candidate record) falls within r. Lower is always present at full
// prefix-plus-final length (NativeBound never omits it; an unset final
// lower bound is represented as a literal nil component, which Cmp already
// orders as the least value). Upper is shorter than Lower exactly when the
// final range's upper was unset, meaning no restriction beyond the shared
// equality prefix.
func (r NativeRange) Contains(key []relquery.Value) bool {
	if len(r.Lower) > 0 {
		c := prefixCmp(key, r.Lower)
		if c < 0 || (c == 0 && r.LowerOpen) {
			return false
		}
	}
	if len(r.Upper) > 0 {
		c := prefixCmp(key, r.Upper)
		if len(r.Upper) < len(r.Lower) {
			if c != 0 {
				return false
			}
		} else if c > 0 || (c == 0 && r.UpperOpen) {
			return false
		}
	}
	return true
}

// Cursor yields native records in key order over an OpenCursor call's
// range, each alongside its native primary key (spec.md §6.3:
// "openCursor(nativeRange?) yielding a sequence of records plus their
// native primary key").
type Cursor interface {
	Next(ctx context.Context) bool
	Record() relquery.Record
	Key() relquery.Value
	Err() error
	Close() error
}

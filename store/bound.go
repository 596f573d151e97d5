package store

import (
	"context"
	"fmt"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/exec"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rangealg"
	"github.com/relquery/relquery/rqerr"
	"github.com/relquery/relquery/txn"
)

// BoundSource adapts one named Source of a Store into
// plan.SourceData/PersistentSourceData/WriteTarget, running spec.md §4.9's
// index selection against the ambient transaction's own Source on every
// Scan. A NamedSource's `.from({alias: store.Bind(backend, "people")})`
// wires a builder-level source name straight to this.
type BoundSource struct {
	Store Store
	Name  string
}

// Bind constructs a BoundSource for name against backend.
func Bind(backend Store, name string) *BoundSource {
	return &BoundSource{Store: backend, Name: name}
}

// StoreHandle identifies the backing Store so plan.Finalize's
// transaction-envelope synthesis can detect "more than one distinct store" across a query's
// sources (spec.md §4.6 sub-pass 2).
func (b *BoundSource) StoreHandle() interface{} { return b.Store }

func (b *BoundSource) source(ctx context.Context) (Source, error) {
	h, ok := txn.FromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("store: no ambient transaction for source %q", b.Name)
	}
	pt, ok := h.(*txn.PersistentTransaction)
	if !ok {
		return nil, fmt.Errorf("store: source %q requires a persistent-store-backed transaction", b.Name)
	}
	storeTx, ok := pt.StoreTx().(Tx)
	if !ok {
		return nil, fmt.Errorf("store: transaction handle for source %q does not implement store.Tx", b.Name)
	}
	return storeTx.Source(b.Name)
}

// Scan implements plan.SourceData: choose an index over the finalized key
// ranges (spec.md §4.9), prepare its native cross product against the
// ambient range context, and concatenate a cursor per resulting interval.
// Correctness does not depend on the index chosen — execNamedSource
// re-applies every hoisted predicate after Scan regardless — so a full
// scan is always a safe fallback when nothing usable is found.
func (b *BoundSource) Scan(ctx context.Context, ranges map[string]rangealg.KeyRange) (plan.RecordIterator, error) {
	src, err := b.source(ctx)
	if err != nil {
		return nil, err
	}
	spec := src.Spec()
	exposeKey := spec.KeyPath == nil

	primary := exec.IndexDescriptor{Name: "primary", KeyPath: []string(spec.KeyPath), Unique: true}
	secondaries := make([]exec.IndexDescriptor, len(spec.Indexes))
	for i, idx := range spec.Indexes {
		secondaries[i] = exec.IndexDescriptor{
			Name: idx.Name, KeyPath: []string(idx.KeyPath), Unique: idx.Unique, MultiEntry: idx.MultiEntry,
		}
	}

	chosen, ok := exec.ChooseIndex(ranges, primary, secondaries)
	if !ok {
		cur, err := src.OpenCursor(ctx, "primary", NativeRange{})
		if err != nil {
			return nil, err
		}
		return &cursorIterator{cursors: []Cursor{cur}, exposeKey: exposeKey}, nil
	}

	rc, ok := rangealg.FromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("store: no ambient range context for source %q", b.Name)
	}
	intervals, err := chosen.Range.Prepare(rc)
	if err != nil {
		return nil, err
	}
	cursors := make([]Cursor, 0, len(intervals))
	for _, ci := range intervals {
		cur, err := src.OpenCursor(ctx, chosen.Index.Name, FromComposite(ci))
		if err != nil {
			for _, c := range cursors {
				c.Close()
			}
			return nil, err
		}
		cursors = append(cursors, cur)
	}
	return &cursorIterator{cursors: cursors, exposeKey: exposeKey}, nil
}

// Put implements plan.WriteTarget: insert/upsert/update apply Add or Put
// per spec.md §4.5's overwrite flag, delete applies Delete, keyed by the
// source's declared keyPath (or the relquery.PrimaryKeyAttr sentinel when absent).
func (b *BoundSource) Put(ctx context.Context, records []relquery.Record, opts plan.WriteOptions) (plan.RecordIterator, error) {
	src, err := b.source(ctx)
	if err != nil {
		return nil, err
	}
	spec := src.Spec()

	if opts.Delete {
		for _, rec := range records {
			if err := src.Delete(ctx, keyOf(rec, spec)); err != nil {
				return nil, err
			}
		}
		return &sliceRecordIterator{records: records}, nil
	}

	out := make([]relquery.Record, len(records))
	for i, rec := range records {
		var result relquery.Record
		var err error
		if opts.Overwrite {
			result, err = src.Put(ctx, rec, keyOf(rec, spec))
		} else {
			result, err = src.Add(ctx, rec, keyOf(rec, spec))
		}
		if err != nil {
			return nil, err
		}
		out[i] = result
	}
	return &sliceRecordIterator{records: out}, nil
}

// keyOf extracts record's primary key per spec's keyPath shape: absent
// keyPath reads the relquery.PrimaryKeyAttr sentinel (nil if not yet assigned, e.g.
// an auto-increment insert); a single-component keyPath reads that one
// field; a composite keyPath assembles a Record of its components.
func keyOf(rec relquery.Record, spec SourceSpec) relquery.Value {
	switch len(spec.KeyPath) {
	case 0:
		return rec[relquery.PrimaryKeyAttr]
	case 1:
		return rec[spec.KeyPath[0]]
	default:
		parts := make(relquery.Record, len(spec.KeyPath))
		for _, p := range spec.KeyPath {
			parts[p] = rec[p]
		}
		return parts
	}
}

// cursorIterator concatenates a sequence of Cursors into one
// plan.RecordIterator, advancing to the next cursor as each is exhausted
// (spec.md §4.9 step 4's cross product of native ranges scanned in turn).
type cursorIterator struct {
	cursors   []Cursor
	pos       int
	exposeKey bool
}

func (it *cursorIterator) Next(ctx context.Context) bool {
	for it.pos < len(it.cursors) {
		if it.cursors[it.pos].Next(ctx) {
			return true
		}
		if err := it.cursors[it.pos].Err(); err != nil {
			return false
		}
		it.cursors[it.pos].Close()
		it.pos++
	}
	return false
}

func (it *cursorIterator) Value() relquery.Record {
	rec := it.cursors[it.pos].Record()
	if it.exposeKey {
		withKey := make(relquery.Record, len(rec)+1)
		for k, v := range rec {
			withKey[k] = v
		}
		withKey[relquery.PrimaryKeyAttr] = it.cursors[it.pos].Key()
		rec = withKey
	}
	return rec
}

// Err surfaces a cursor-level store error as spec.md §7's runtime-recoverable
// kind (a caller may retry against the same range after the underlying
// condition clears) unless the cursor already returned a tagged rqerr.Error
// of its own.
func (it *cursorIterator) Err() error {
	if it.pos >= len(it.cursors) {
		return nil
	}
	err := it.cursors[it.pos].Err()
	if err == nil || rqerr.Is(err, rqerr.RuntimeRecoverable) || rqerr.Is(err, rqerr.RuntimeFatal) {
		return err
	}
	return rqerr.Wrap(rqerr.RuntimeRecoverable, err, "store cursor error")
}

func (it *cursorIterator) Close() error {
	var err error
	for _, c := range it.cursors[it.pos:] {
		if e := c.Close(); e != nil {
			err = e
		}
	}
	return err
}

// sliceRecordIterator is the plan.RecordIterator Put/Delete hand back over
// the records just persisted.
type sliceRecordIterator struct {
	records []relquery.Record
	pos     int
}

func (it *sliceRecordIterator) Next(ctx context.Context) bool {
	if it.pos >= len(it.records) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceRecordIterator) Value() relquery.Record { return it.records[it.pos-1] }
func (it *sliceRecordIterator) Err() error              { return nil }
func (it *sliceRecordIterator) Close() error            { return nil }

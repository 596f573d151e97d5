// Package kvmem implements store.Store entirely in memory: each source's
// primary and secondary indexes are sorted on demand by relquery.Cmp over
// the indexed component vector. No pack repo models an in-process ordered
// multi-index structure better than a sorted slice plus Go's own sort
// package — exactly what the rest of the pack's code
// reaches for whenever it needs an ordered in-memory collection — so this
// package is stdlib-only by design, not by omission.
package kvmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rqerr"
	"github.com/relquery/relquery/store"
	"github.com/relquery/relquery/txn"
)

// Store is an in-memory backing for relquery/store: every Tx shares the
// same underlying sources directly (no snapshotting). A write is visible to
// every transaction as soon as it is made, and Abort does not undo it; this
// backend only hands back the sources a transaction names and settles its
// own handle on Commit/Abort.
type Store struct {
	mu      sync.Mutex
	sources map[string]*source
}

// New returns an empty in-memory store. Sources are declared up front via
// Declare, mirroring how a real backend's schema is fixed before any query
// runs against it.
func New() *Store {
	return &Store{sources: map[string]*source{}}
}

// Declare registers a named source with the given static shape. Declaring
// the same name twice replaces its data.
func (s *Store) Declare(spec store.SourceSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[spec.Name] = &source{spec: spec}
}

// OpenTx implements store.Store / exec.TxOpener.
func (s *Store) OpenTx(ctx context.Context, sourceNames []string, mode plan.TxnMode) (txn.StoreTx, error) {
	return &tx{store: s}, nil
}

// Close is a no-op: kvmem holds nothing beyond process memory.
func (s *Store) Close() error { return nil }

func (s *Store) source(name string) (*source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("kvmem: no source declared named %q", name)
	}
	return src, nil
}

// tx is kvmem's store.Tx: a thin handle over the shared Store, since there
// is no native commit log to flush or roll back.
type tx struct {
	store    *Store
	onCommit func()
	onAbort  func(error)
}

func (t *tx) Source(name string) (store.Source, error) { return t.store.source(name) }

func (t *tx) Commit() error {
	if t.onCommit != nil {
		t.onCommit()
	}
	return nil
}

func (t *tx) Abort() error {
	if t.onAbort != nil {
		t.onAbort(nil)
	}
	return nil
}

func (t *tx) OnSettle(onCommit func(), onAbort func(error)) {
	t.onCommit, t.onAbort = onCommit, onAbort
}

// entry is one stored record plus its identity key (the value Put/Add/
// Delete match on — see identityKey).
type entry struct {
	id     relquery.Value
	record relquery.Record
}

// source is one kvmem collection: its declared shape plus the records
// currently stored, sorted freshly by whichever index OpenCursor is asked
// to scan (sources are expected to be small enough in this in-memory
// backend that re-sorting per scan is simpler than maintaining N live
// sorted slices under concurrent Put/Delete).
type source struct {
	mu      sync.Mutex
	spec    store.SourceSpec
	entries []*entry
	nextID  int64
}

func (s *source) Spec() store.SourceSpec { return s.spec }

// identityKey computes the value Put/Add/Delete treat as a record's
// identity, mirroring store.BoundSource's own keyOf exactly so an
// explicitKey handed down from there lines up with what gets stored: the
// relquery.PrimaryKeyAttr sentinel when keyPath is absent, the lone field
// when keyPath has one component, or an assembled Record when composite.
func identityKey(rec relquery.Record, keyPath store.KeyPath) relquery.Value {
	switch len(keyPath) {
	case 0:
		return rec[relquery.PrimaryKeyAttr]
	case 1:
		return rec[keyPath[0]]
	default:
		parts := make(relquery.Record, len(keyPath))
		for _, p := range keyPath {
			parts[p] = rec[p]
		}
		return parts
	}
}

// keyVector resolves keyPath's components out of rec, in the ordered
// vector shape a NativeRange's bounds compare against — distinct from
// identityKey, which only a composite keyPath collapses into the same
// Record-based representation.
func keyVector(rec relquery.Record, keyPath store.KeyPath) []relquery.Value {
	if len(keyPath) == 0 {
		return []relquery.Value{rec[relquery.PrimaryKeyAttr]}
	}
	out := make([]relquery.Value, len(keyPath))
	for i, p := range keyPath {
		out[i] = rec[p]
	}
	return out
}

func cmpVector(a, b []relquery.Value) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := relquery.Cmp(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func (s *source) indexKeyPath(index string) store.KeyPath {
	if index == "primary" || index == "" {
		return s.spec.KeyPath
	}
	for _, idx := range s.spec.Indexes {
		if idx.Name == index {
			return idx.KeyPath
		}
	}
	return nil
}

// OpenCursor scans entries sorted by the named index's key vector,
// filtering to those NativeRange.Contains admits (spec.md §6.3:
// "openCursor(nativeRange?) yielding a sequence of records plus their
// native primary key").
func (s *source) OpenCursor(ctx context.Context, index string, r store.NativeRange) (store.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyPath := s.indexKeyPath(index)
	sorted := append([]*entry{}, s.entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return cmpVector(keyVector(sorted[i].record, keyPath), keyVector(sorted[j].record, keyPath)) < 0
	})

	var filtered []*entry
	for _, e := range sorted {
		if r.Contains(keyVector(e.record, keyPath)) {
			filtered = append(filtered, e)
		}
	}
	return &cursor{entries: filtered, pos: -1, primaryKeyPath: s.spec.KeyPath}, nil
}

// Put inserts or replaces by identity key: explicitKey nil means the key
// is already present in record's own fields, or (for a keyPath-absent
// source) this is a no-key overwrite, which is rejected as ambiguous.
func (s *source) Put(ctx context.Context, record relquery.Record, explicitKey relquery.Value) (relquery.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.withExplicitKey(record, explicitKey)
	id := identityKey(rec, s.spec.KeyPath)
	if id == nil {
		return nil, fmt.Errorf("kvmem: put on source %q with no resolvable key", s.spec.Name)
	}
	for i, e := range s.entries {
		if relquery.Equal(e.id, id) {
			s.entries[i] = &entry{id: id, record: rec}
			return rec, nil
		}
	}
	s.entries = append(s.entries, &entry{id: id, record: rec})
	return rec, nil
}

// Add inserts a new record, auto-assigning a key when the source declares
// AutoIncrement and none was supplied (spec.md §6.3's add semantics — a
// distinct operation from Put so a caller can signal "this must be new").
func (s *source) Add(ctx context.Context, record relquery.Record, explicitKey relquery.Value) (relquery.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.withExplicitKey(record, explicitKey)
	if identityKey(rec, s.spec.KeyPath) == nil && s.spec.AutoIncrement {
		s.nextID++
		rec = cloneRecord(rec)
		if len(s.spec.KeyPath) == 0 {
			rec[relquery.PrimaryKeyAttr] = float64(s.nextID)
		} else {
			rec[s.spec.KeyPath[0]] = float64(s.nextID)
		}
	}
	id := identityKey(rec, s.spec.KeyPath)
	if id == nil {
		return nil, fmt.Errorf("kvmem: add on source %q with no resolvable key", s.spec.Name)
	}
	for _, e := range s.entries {
		if relquery.Equal(e.id, id) {
			return nil, rqerr.Runtime("kvmem: add on source %q: key already exists", s.spec.Name)
		}
	}
	s.entries = append(s.entries, &entry{id: id, record: rec})
	return rec, nil
}

// withExplicitKey writes explicitKey into record under the sentinel
// attribute when the source has no declared keyPath of its own to carry
// it; a keyed source is expected to already carry its key in its own
// fields, so explicitKey is ignored there.
func (s *source) withExplicitKey(rec relquery.Record, explicitKey relquery.Value) relquery.Record {
	if explicitKey == nil || len(s.spec.KeyPath) != 0 {
		return rec
	}
	out := cloneRecord(rec)
	out[relquery.PrimaryKeyAttr] = explicitKey
	return out
}

func cloneRecord(rec relquery.Record) relquery.Record {
	out := make(relquery.Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// Delete removes the entry whose identity key equals key.
func (s *source) Delete(ctx context.Context, key relquery.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if relquery.Equal(e.id, key) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// cursor walks a pre-filtered, pre-sorted slice of entries, exposing each
// one's primary identity key via Key (spec.md §6.3: "a sequence of records
// plus their native primary key").
type cursor struct {
	entries        []*entry
	pos            int
	primaryKeyPath store.KeyPath
}

func (c *cursor) Next(ctx context.Context) bool {
	c.pos++
	return c.pos < len(c.entries)
}

func (c *cursor) Record() relquery.Record { return c.entries[c.pos].record }
func (c *cursor) Key() relquery.Value     { return identityKey(c.entries[c.pos].record, c.primaryKeyPath) }
func (c *cursor) Err() error              { return nil }
func (c *cursor) Close() error            { return nil }

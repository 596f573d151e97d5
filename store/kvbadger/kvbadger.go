// Package kvbadger implements store.Store over a single github.com/dgraph-io/
// badger/v4 database, grounded on BadgerStore/BadgerTx/BadgerIterator
// (datalog/storage/badger_store.go): one badger.DB opened per
// process, one badger.Txn opened per relquery transaction, and every write
// fanned out across each of a source's declared indexes so any index can be
// scanned without a secondary lookup back to a canonical row — exactly the
// denormalized write-to-every-index shape badger_store.go's writeDatom uses
// across EAVT/AEVT/AVET/VAET/TAEV. The datalog-specific KeyEncoder/IndexType/
// StorageDatom types that file built on are specific to a triple store and
// were never carried into this module; this package instead encodes
// relquery's own Value-keyed records to ordered byte keys (see encode.go).
package kvbadger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rqerr"
	"github.com/relquery/relquery/store"
	"github.com/relquery/relquery/txn"
)

// Store wraps one badger.DB. Open mirrors NewBadgerStore:
// callers own the badger.Options (in particular its Dir/InMemory choice) and
// this package only adds the schema declarations a relquery-shaped Source
// needs beyond what Badger itself tracks.
type Store struct {
	db      *badger.DB
	sources map[string]store.SourceSpec
}

// Open starts Badger against path and returns a Store ready for Declare,
// tuned the same way NewBadgerStore is for a read-heavy
// workload (datalog/storage/badger_store.go): bigger memtables and block
// cache, conflict detection off, small values kept in the LSM tree.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.MemTableSize = 128 << 20
	opts.BlockCacheSize = 256 << 20
	opts.IndexCacheSize = 100 << 20
	opts.DetectConflicts = false
	opts.NumCompactors = 4
	opts.ValueThreshold = 1 << 10

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvbadger: open: %w", err)
	}
	return &Store{db: db, sources: map[string]store.SourceSpec{}}, nil
}

// OpenWithOptions starts Badger against a caller-supplied badger.Options,
// bypassing Open's tuning defaults — used by tests to open an in-memory
// instance via opts.InMemory.
func OpenWithOptions(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvbadger: open: %w", err)
	}
	return &Store{db: db, sources: map[string]store.SourceSpec{}}, nil
}

// Declare registers a named source's static shape. Unlike kvmem, this does
// not touch any stored data — it only tells OpenTx's Sources which indexes
// exist so writes can fan out across them.
func (s *Store) Declare(spec store.SourceSpec) {
	s.sources[spec.Name] = spec
}

// Close flushes and releases the underlying badger.DB.
func (s *Store) Close() error { return s.db.Close() }

// OpenTx implements store.Store / exec.TxOpener: one badger.Txn per call,
// read-write unless mode asks for read-only, mirroring
// BeginTxn(update bool) (badger_store.go).
func (s *Store) OpenTx(ctx context.Context, sourceNames []string, mode plan.TxnMode) (txn.StoreTx, error) {
	update := mode == plan.ReadWrite
	btx := s.db.NewTransaction(update)
	return &tx{store: s, btx: btx}, nil
}

type tx struct {
	store    *Store
	btx      *badger.Txn
	onCommit func()
	onAbort  func(error)
}

func (t *tx) Source(name string) (store.Source, error) {
	spec, ok := t.store.sources[name]
	if !ok {
		return nil, fmt.Errorf("kvbadger: no source declared named %q", name)
	}
	return &source{tx: t, spec: spec}, nil
}

// Commit flushes the badger.Txn, matching BadgerTx.Commit.
func (t *tx) Commit() error {
	err := t.btx.Commit()
	if t.onCommit != nil && err == nil {
		t.onCommit()
	}
	if err != nil && t.onAbort != nil {
		t.onAbort(err)
	}
	return err
}

// Abort discards the badger.Txn without writing anything.
func (t *tx) Abort() error {
	t.btx.Discard()
	if t.onAbort != nil {
		t.onAbort(nil)
	}
	return nil
}

func (t *tx) OnSettle(onCommit func(), onAbort func(error)) {
	t.onCommit, t.onAbort = onCommit, onAbort
}

// source is one store.Source scoped to a single badger.Txn.
type source struct {
	tx   *tx
	spec store.SourceSpec
}

func (s *source) Spec() store.SourceSpec { return s.spec }

// storedRecord is the JSON envelope written under every index key for a
// record, carrying its identity key alongside the fields so a later Delete
// or re-index doesn't need a separate primary lookup to recover it.
type storedRecord struct {
	Key    relquery.Value  `json:"key"`
	Fields relquery.Record `json:"fields"`
}

func (s *source) indexSpecs() []store.IndexSpec {
	all := make([]store.IndexSpec, 0, len(s.spec.Indexes)+1)
	all = append(all, store.IndexSpec{Name: "primary", KeyPath: s.spec.KeyPath, Unique: true})
	all = append(all, s.spec.Indexes...)
	return all
}

func keyPathOf(name string, specs []store.IndexSpec) store.KeyPath {
	for _, idx := range specs {
		if idx.Name == name {
			return idx.KeyPath
		}
	}
	return nil
}

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

// indexKeyBytes is the full Badger key a record occupies under one index:
// the index's namespacing prefix followed by its encoded key vector.
func indexKeyBytes(sourceName string, idx store.IndexSpec, rec relquery.Record) []byte {
	return append(indexPrefix(sourceName, idx.Name), encodeVector(keyVector(rec, idx.KeyPath))...)
}

// writeAcrossIndexes fans record out to every declared index's key, mirroring
// writeDatom looping over every IndexType.
func (s *source) writeAcrossIndexes(rec relquery.Record) error {
	env := storedRecord{Key: identityKey(rec, s.spec.KeyPath), Fields: rec}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("kvbadger: encode record: %w", err)
	}
	for _, idx := range s.indexSpecs() {
		key := indexKeyBytes(s.spec.Name, idx, rec)
		if err := s.tx.btx.Set(key, payload); err != nil {
			return fmt.Errorf("kvbadger: write index %q: %w", idx.Name, err)
		}
	}
	return nil
}

// deleteAcrossIndexes removes rec's entry from every declared index,
// mirroring retractDatom.
func (s *source) deleteAcrossIndexes(rec relquery.Record) error {
	for _, idx := range s.indexSpecs() {
		key := indexKeyBytes(s.spec.Name, idx, rec)
		if err := s.tx.btx.Delete(key); err != nil {
			return fmt.Errorf("kvbadger: delete index %q: %w", idx.Name, err)
		}
	}
	return nil
}

// lookupByPrimary finds the current stored record for id, if any, by
// scanning the primary index's prefix for an exact identity match. Used by
// Delete, Put's replace path, and Add's conflict check.
func (s *source) lookupByPrimary(id relquery.Value) (relquery.Record, bool, error) {
	prefix := indexPrefix(s.spec.Name, "primary")

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := s.tx.btx.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var env storedRecord
		err := item.Value(func(v []byte) error { return json.Unmarshal(v, &env) })
		if err != nil {
			return nil, false, fmt.Errorf("kvbadger: decode record: %w", err)
		}
		if relquery.Equal(env.Key, id) {
			return env.Fields, true, nil
		}
	}
	return nil, false, nil
}

// Put inserts or replaces a record by identity key, removing its old
// index entries first if one already exists under a different key vector
// (an update can move a record's own indexed attributes).
func (s *source) Put(ctx context.Context, record relquery.Record, explicitKey relquery.Value) (relquery.Record, error) {
	rec := s.withExplicitKey(record, explicitKey)
	id := identityKey(rec, s.spec.KeyPath)
	if id == nil {
		return nil, fmt.Errorf("kvbadger: put on source %q with no resolvable key", s.spec.Name)
	}
	if old, ok, err := s.lookupByPrimary(id); err != nil {
		return nil, err
	} else if ok {
		if err := s.deleteAcrossIndexes(old); err != nil {
			return nil, err
		}
	}
	if err := s.writeAcrossIndexes(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Add inserts a new record, assigning a UUID key when the source declares
// AutoIncrement and none was supplied — Badger has no native counter to
// lean on, so a UUID is the natural stand-in (BadgerStore leans on
// google/uuid the same way for its own synthetic entity identifiers).
func (s *source) Add(ctx context.Context, record relquery.Record, explicitKey relquery.Value) (relquery.Record, error) {
	rec := s.withExplicitKey(record, explicitKey)
	if identityKey(rec, s.spec.KeyPath) == nil && s.spec.AutoIncrement {
		rec = cloneRecord(rec)
		id := uuid.New().String()
		if len(s.spec.KeyPath) == 0 {
			rec[relquery.PrimaryKeyAttr] = id
		} else {
			rec[s.spec.KeyPath[0]] = id
		}
	}
	id := identityKey(rec, s.spec.KeyPath)
	if id == nil {
		return nil, fmt.Errorf("kvbadger: add on source %q with no resolvable key", s.spec.Name)
	}
	if _, ok, err := s.lookupByPrimary(id); err != nil {
		return nil, err
	} else if ok {
		return nil, rqerr.Runtime("kvbadger: add on source %q: key already exists", s.spec.Name)
	}
	if err := s.writeAcrossIndexes(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

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

// Delete removes the record identified by key from every index.
func (s *source) Delete(ctx context.Context, key relquery.Value) error {
	rec, ok, err := s.lookupByPrimary(key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return s.deleteAcrossIndexes(rec)
}

// OpenCursor seeks to a byte-range over-approximation of r (the widest span
// any valid (lower, upper) could occupy), then re-checks r.Contains against
// each candidate's own decoded key vector as it is read — the byte range
// only needs to be a safe superset, since every row is checked again before
// it is ever surfaced.
func (s *source) OpenCursor(ctx context.Context, index string, r store.NativeRange) (store.Cursor, error) {
	keyPath := keyPathOf(index, s.indexSpecs())
	prefix := indexPrefix(s.spec.Name, index)

	lowerBytes := append(append([]byte{}, prefix...), encodeVector(r.Lower)...)
	var upperBytes []byte
	if len(r.Upper) > 0 {
		upperBytes = append(append([]byte{}, prefix...), encodeVector(r.Upper)...)
		upperBytes = append(upperBytes, 0xFF)
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := s.tx.btx.NewIterator(opts)

	return &cursor{
		it:         it,
		keyPath:    keyPath,
		primaryKey: s.spec.KeyPath,
		native:     r,
		lowerBytes: lowerBytes,
		upperBytes: upperBytes,
		started:    false,
	}, nil
}

type cursor struct {
	it         *badger.Iterator
	keyPath    store.KeyPath
	primaryKey store.KeyPath
	native     store.NativeRange
	lowerBytes []byte
	upperBytes []byte
	started    bool

	record relquery.Record
	key    relquery.Value
	err    error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.started {
		c.it.Seek(c.lowerBytes)
		c.started = true
	} else {
		c.it.Next()
	}
	for c.it.Valid() {
		item := c.it.Item()
		if c.upperBytes != nil && bytes.Compare(item.KeyCopy(nil), c.upperBytes) >= 0 {
			return false
		}
		var env storedRecord
		err := item.Value(func(v []byte) error { return json.Unmarshal(v, &env) })
		if err != nil {
			c.err = fmt.Errorf("kvbadger: decode record: %w", err)
			return false
		}
		if c.native.Contains(keyVector(env.Fields, c.keyPath)) {
			c.record = env.Fields
			c.key = identityKey(env.Fields, c.primaryKey)
			return true
		}
		c.it.Next()
	}
	return false
}

func (c *cursor) Record() relquery.Record { return c.record }
func (c *cursor) Key() relquery.Value     { return c.key }
func (c *cursor) Err() error              { return c.err }

func (c *cursor) Close() error {
	c.it.Close()
	return nil
}

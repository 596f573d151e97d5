// Package plan implements the relational tree of spec.md §4.4: node types,
// the builder-facing contract of §4.5, and the two-sub-pass finalization of
// §4.6. It is a tagged-variant AST plus explicit transformers — the route
// Design Note 4 recommends in place of the source's dynamic path objects.
package plan

import (
	"context"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/rangealg"
)

// Node is any member of the relational tree. Schema reports the set of
// source names (and their identities) this node exposes to a parent that
// wants to compile predicates against it, or ok=false if this node type
// hides its schema (GroupBy, Select, Write, CompositeUnion — spec.md §4.4).
type Node interface {
	Schema() (schema relquery.Schema, ok bool)
	Children() []Path
	Accept(v Visitor) Node
}

// Path is a mutable child slot: get reads the current occupant, set
// replaces it. It is the Go-native stand-in for the source's dynamic
// "parent + field name" path object (Design Note 4), scoped to a single
// child reference rather than an arbitrary property path.
type Path struct {
	get func() Node
	set func(Node)
}

// NewPath builds a Path over a child slot addressed by get/set closures.
func NewPath(get func() Node, set func(Node)) Path { return Path{get: get, set: set} }

// Get reads the slot's current node.
func (p Path) Get() Node { return p.get() }

// Set replaces the slot's occupant.
func (p Path) Set(n Node) { p.set(n) }

// Visitor receives per-node Enter/Exit calls during Accept's traversal. A
// visitor's Exit may return a different node to replace the visited one;
// returning the same node (the common case) leaves the tree unchanged.
// Enter/Exit are expected to type-switch on the concrete node type for any
// type-specific behavior — this mirrors "a visitor may provide per-type
// enter/exit handlers" (spec.md §4.4) without a dozen separate interface
// methods.
type Visitor interface {
	Enter(n Node)
	Exit(n Node) Node
}

// acceptDefault implements the common Accept shape shared by every node
// type: invoke Enter, recurse into children (replacing each via its Path),
// then invoke Exit and return its result.
func acceptDefault(n Node, v Visitor) Node {
	v.Enter(n)
	for _, p := range n.Children() {
		p.Set(p.Get().Accept(v))
	}
	return v.Exit(n)
}

// RecordIterator is the leaf-level scan protocol: a raw collection yields
// bare Records (not full Tuples — it has no source name of its own to key
// them under; NamedSource's executor does that wrapping).
type RecordIterator interface {
	Next(ctx context.Context) bool
	Value() relquery.Record
	Err() error
	Close() error
}

// SourceData is the scan contract a NamedSource's underlying collection
// must satisfy — an in-memory slice wrapper or a persistent store handle
// (relquery/store). Scan returns a stream restricted to the supplied key
// ranges; nil or an empty map means a full scan.
type SourceData interface {
	Scan(ctx context.Context, ranges map[string]rangealg.KeyRange) (RecordIterator, error)
}

// PersistentSourceData is additionally backed by a persistent store and
// therefore participates in transaction-envelope synthesis (spec.md §4.6
// sub-pass 2). StoreHandle must be a comparable value (a store generally
// implements this with itself as a pointer) so prepareTransaction can
// detect "more than one distinct store" as an error.
type PersistentSourceData interface {
	SourceData
	StoreHandle() interface{}
}

// WriteTarget is what a Write node persists its materialized child tuples
// through (spec.md §4.7: "call the store's put or delete with the array").
// Put takes and returns bare Records, symmetric with SourceData.Scan — the
// Write executor strips each materialized Tuple down to the target source's
// own Record before calling Put, and re-wraps the returned Records under
// that same source name. The returned Records reflect anything the store
// added during persistence (e.g. a generated primary key).
type WriteTarget interface {
	PersistentSourceData
	Put(ctx context.Context, records []relquery.Record, opts WriteOptions) (RecordIterator, error)
}

// WriteOptions mirrors spec.md §4.5's builder contract: overwrite is true
// for upsert/update/delete, delete is true for delete alone.
type WriteOptions struct {
	Overwrite bool
	Delete    bool
}

// Package exec implements the pull-based executor of spec.md §4.7: one
// execution function per relational-tree node type, the join/otherwise
// sentinel handling of §4.4, group-by folding, materialize-then-sort
// ordering, the transaction-envelope lifecycle of §4.8, and the persistent
// NamedSource index-selection algorithm of §4.9.
//
// Grounded on datalog/executor's Context.go ("pass-through unless a handler
// is present" informed trace's annotation points) and query_executor.go
// (per-node-type execution dispatch informed Execute's type switch),
// generalized from EAVT-pattern relations to this engine's tagged-variant
// relational tree.
package exec

import (
	"context"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rqlog"
	"github.com/relquery/relquery/rxstream"
	"github.com/relquery/relquery/trace"
	"github.com/relquery/relquery/txn"
)

// Ctx carries everything a node's executor needs (spec.md §4.7): the
// current parameter record, the tuple accumulated so far by enclosing
// Joins, a per-execution memoization table for Memoize nodes, the ambient
// transaction (installed lazily by the first TransactionEnvelope this
// execution reaches), the annotation seam phases report through, and the
// operational logger transaction lifecycle events are written to.
type Ctx struct {
	Context context.Context
	Params  relquery.Record
	Tuple   relquery.Tuple
	Memo    map[plan.Node]*rxstream.Replay
	Txn     txn.Handle
	Trace   trace.Context
	Log     rqlog.Logger
}

// New starts a fresh execution context with an empty accumulated tuple and
// memo table, tracing disabled (trace.NewContext(nil)'s zero-overhead
// BaseContext) and logging discarded (rqlog.Nop()) unless the caller
// replaces Trace/Log afterward.
func New(ctx context.Context, params relquery.Record) *Ctx {
	return &Ctx{
		Context: ctx,
		Params:  params,
		Tuple:   relquery.Tuple{},
		Memo:    map[plan.Node]*rxstream.Replay{},
		Trace:   trace.NewContext(nil),
		Log:     rqlog.Nop(),
	}
}

// withTuple returns a shallow copy of c with Tuple replaced, used when
// descending into a Join's right-hand side (spec.md §4.7: "build a right
// ctx with tuple = outer ∪ left").
func (c *Ctx) withTuple(t relquery.Tuple) *Ctx {
	cp := *c
	cp.Tuple = t
	return &cp
}

// truthy mirrors compile's unexported truthy: nil and false are falsy,
// everything else truthy (spec.md §6.4's `cmp`/boolean coercion rules).
func truthy(v relquery.Value) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	default:
		return true
	}
}

// wrapAnonymous lifts a Select/GroupBy selector's evaluated Value into a
// one-entry Tuple under relquery.AnonymousSource. Selectors are expected to
// evaluate to a Record (a `{...}` projection); anything else is wrapped
// under a single "value" field so non-record projections still round-trip
// through the Tuple protocol.
func wrapAnonymous(v relquery.Value) relquery.Tuple {
	rec, ok := v.(relquery.Record)
	if !ok {
		rec = relquery.Record{"value": v}
	}
	return relquery.Tuple{relquery.AnonymousSource: rec}
}

// recordAdapter lifts a leaf-level plan.RecordIterator into a full
// rxstream.Iterator by binding each emitted Record under name, merged into
// base (the outer tuple already accumulated by enclosing Joins).
type recordAdapter struct {
	recs plan.RecordIterator
	base relquery.Tuple
	name string
}

func (a *recordAdapter) Next(ctx context.Context) bool { return a.recs.Next(ctx) }
func (a *recordAdapter) Value() relquery.Tuple          { return a.base.With(a.name, a.recs.Value()) }
func (a *recordAdapter) Err() error                     { return a.recs.Err() }
func (a *recordAdapter) Close() error                   { return a.recs.Close() }

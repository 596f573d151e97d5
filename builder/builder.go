// Package builder implements the fluent external surface of spec.md §6.1
// over the relational tree of package plan: from/join/on/where wrap the
// tree's join and filter nodes, select/insert/upsert/update/deleteFrom
// produce a Write, groupBy/orderBy wrap their named nodes, and
// query/forEach/then drive package exec against the finalized tree.
//
// Grounded on gaum's db/q (ShiftLeftSecurity-gaum): a Q-style interface of
// chainable methods returning the same handle, backed by a concrete struct
// that records state immediately and defers validation to a single
// finalization step (ExpresionChain.Select/Join never return an error;
// ExpresionChain.finalize/query do) — generalized here from a SQL
// string-builder to a plan.Node tree builder, and from gaum's free-form
// `?`-placeholder fragments to compile.Fragment's structured hole syntax.
package builder

import (
	"context"
	"fmt"
	"sort"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/exec"
	"github.com/relquery/relquery/host/stdscope"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rqerr"
	"github.com/relquery/relquery/rqlog"
	"github.com/relquery/relquery/rxstream"
	"github.com/relquery/relquery/trace"
	"github.com/relquery/relquery/txn"
)

type verb int

const (
	verbNone verb = iota
	verbSelect
	verbInsert
	verbUpsert
	verbUpdate
	verbDelete
)

// Builder accumulates a relational tree and the compile-time bookkeeping
// (current schema, pending selector/grouper/ordering fragments) needed to
// compile each fluent fragment against the schema visible at that point in
// the chain (spec.md §4.5). Every mutating method returns b itself so
// calls chain; a build-time failure is recorded in err and short-circuits
// every subsequent call rather than panicking or returning per-call errors
// — the same deferred-validation shape as gaum's ExpresionChain.
type Builder struct {
	opts   compile.Options
	schema relquery.Schema

	root     plan.Node
	sources  map[string]*plan.NamedSource
	pendingJ []*plan.JoinBase

	verb         verb
	selectorFrag compile.Fragment
	hasSelector  bool
	groupByDone  bool

	intoTarget   plan.WriteTarget
	intoDone     bool
	returnFrag   compile.Fragment
	hasReturning bool

	lastOrder *plan.OrderBy

	trace     trace.Context
	log       rqlog.Logger
	finalized bool
	finalRoot plan.Node
	err       error
}

// New starts an empty builder with the standard scope (spec.md §6.4), no
// tracing, and logging discarded.
func New() *Builder {
	return &Builder{
		opts:    compile.Options{Scope: stdscope.New()},
		schema:  relquery.Schema{},
		sources: map[string]*plan.NamedSource{},
		trace:   trace.NewContext(nil),
		log:     rqlog.Nop(),
	}
}

// WithTrace installs tc as the finalization/execution tracer (package
// trace); pass trace.NewContext(nil) to disable (the default).
func (b *Builder) WithTrace(tc trace.Context) *Builder {
	b.trace = tc
	return b
}

// WithLog installs lg as the operational logger transaction/write events
// are reported to during execution; pass rqlog.Nop() to disable (the
// default).
func (b *Builder) WithLog(lg rqlog.Logger) *Builder {
	b.log = lg
	return b
}

// Err returns the first build-time error recorded on this builder, if any.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// guardMutate refuses a further chain call once either a build-time error
// is already sticky or finalize() has run (spec.md §7: "modification after
// finalize").
func (b *Builder) guardMutate() bool {
	if b.err != nil {
		return false
	}
	if b.finalized {
		b.err = rqerr.Build("builder: cannot modify query after finalize")
		return false
	}
	return true
}

func sortedKeys(m map[string]plan.SourceData) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// From adds each alias in sources, in sorted alias order for deterministic
// tree shape (spec.md §4.5: "a fresh InnerJoin per from"): the first source
// of an empty builder becomes the root as a bare NamedSource, and every
// further alias is joined onto the root with a fresh InnerJoin. Correlation
// between these sources is supplied separately by a later Where, not by
// From itself.
func (b *Builder) From(sources map[string]plan.SourceData) *Builder {
	if !b.guardMutate() {
		return b
	}
	b.pendingJ = nil
	for _, alias := range sortedKeys(sources) {
		if err := b.addSource(alias, sources[alias]); err != nil {
			return b.fail(err)
		}
	}
	return b
}

func (b *Builder) addSource(alias string, data plan.SourceData) error {
	if _, exists := b.schema[alias]; exists {
		return rqerr.Build("builder: duplicate alias %q", alias)
	}
	ns := plan.NewNamedSource(alias, data)
	b.sources[alias] = ns
	b.schema = b.schema.Merge(relquery.Schema{alias: ns.ID})
	if b.root == nil {
		b.root = ns
		return nil
	}
	b.root = &plan.InnerJoin{JoinBase: plan.JoinBase{Left: b.root, Right: ns}}
	return nil
}

type joinKind int

const (
	joinInner joinKind = iota
	joinLeftOuter
	joinRightOuter
	joinFull
	joinAnti
)

// joinFamily implements the explicit-join half of spec.md §4.5: one node
// per alias in sources (sorted for determinism), right outer realised by
// swapping operands onto OuterJoin and full outer realised as
// CompositeUnion(OuterJoin(L,R), AntiJoin(R,L)). Every JoinBase created by
// this call becomes a target for the next On (spec.md: "merges into the
// last added Join(s)' TermGroups").
func (b *Builder) joinFamily(sources map[string]plan.SourceData, kind joinKind) *Builder {
	if !b.guardMutate() {
		return b
	}
	if b.root == nil {
		return b.fail(rqerr.Build("builder: join requires a preceding from"))
	}
	b.pendingJ = nil
	for _, alias := range sortedKeys(sources) {
		if _, exists := b.schema[alias]; exists {
			return b.fail(rqerr.Build("builder: duplicate alias %q", alias))
		}
		ns := plan.NewNamedSource(alias, sources[alias])
		b.sources[alias] = ns
		b.schema = b.schema.Merge(relquery.Schema{alias: ns.ID})

		left := b.root
		switch kind {
		case joinInner:
			n := &plan.InnerJoin{JoinBase: plan.JoinBase{Left: left, Right: ns}}
			b.root = n
			b.pendingJ = append(b.pendingJ, &n.JoinBase)
		case joinLeftOuter:
			n := &plan.OuterJoin{JoinBase: plan.JoinBase{Left: left, Right: ns}}
			b.root = n
			b.pendingJ = append(b.pendingJ, &n.JoinBase)
		case joinRightOuter:
			n := &plan.OuterJoin{JoinBase: plan.JoinBase{Left: ns, Right: left}}
			b.root = n
			b.pendingJ = append(b.pendingJ, &n.JoinBase)
		case joinAnti:
			n := &plan.AntiJoin{JoinBase: plan.JoinBase{Left: left, Right: ns}}
			b.root = n
			b.pendingJ = append(b.pendingJ, &n.JoinBase)
		case joinFull:
			outer := &plan.OuterJoin{JoinBase: plan.JoinBase{Left: left, Right: ns}}
			anti := &plan.AntiJoin{JoinBase: plan.JoinBase{Left: ns, Right: left}}
			b.root = &plan.CompositeUnion{Left: outer, Right: anti}
			b.pendingJ = append(b.pendingJ, &outer.JoinBase, &anti.JoinBase)
		}
	}
	return b
}

// Join adds an inner join per alias in sources.
func (b *Builder) Join(sources map[string]plan.SourceData) *Builder {
	return b.joinFamily(sources, joinInner)
}

// LeftJoin adds a left outer join per alias in sources.
func (b *Builder) LeftJoin(sources map[string]plan.SourceData) *Builder {
	return b.joinFamily(sources, joinLeftOuter)
}

// RightJoin adds a right outer join per alias in sources (operands
// swapped onto OuterJoin per spec.md §4.5).
func (b *Builder) RightJoin(sources map[string]plan.SourceData) *Builder {
	return b.joinFamily(sources, joinRightOuter)
}

// FullJoin adds a full outer join per alias in sources, each realised as
// CompositeUnion(OuterJoin(L,R), AntiJoin(R,L)).
func (b *Builder) FullJoin(sources map[string]plan.SourceData) *Builder {
	return b.joinFamily(sources, joinFull)
}

// AntiJoin adds an anti join per alias in sources.
func (b *Builder) AntiJoin(sources map[string]plan.SourceData) *Builder {
	return b.joinFamily(sources, joinAnti)
}

// On compiles frag as a predicate against the current schema and merges
// it into every JoinBase the most recent join-family call added (spec.md
// §4.5).
func (b *Builder) On(frag compile.Fragment) *Builder {
	if !b.guardMutate() {
		return b
	}
	if len(b.pendingJ) == 0 {
		return b.fail(rqerr.Build("builder: on() with no preceding join"))
	}
	groups, err := compile.CompilePredicate(frag, b.schema, b.opts)
	if err != nil {
		return b.fail(err)
	}
	for _, jb := range b.pendingJ {
		if jb.Groups == nil {
			jb.Groups = groups
		} else {
			jb.Groups.Merge(groups)
		}
	}
	return b
}

// Where compiles frag as a predicate against the current schema and wraps
// the tree so far in a Where(TermGroups) (spec.md §4.5).
func (b *Builder) Where(frag compile.Fragment) *Builder {
	if !b.guardMutate() {
		return b
	}
	if b.root == nil {
		return b.fail(rqerr.Build("builder: where requires a preceding from"))
	}
	groups, err := compile.CompilePredicate(frag, b.schema, b.opts)
	if err != nil {
		return b.fail(err)
	}
	b.pendingJ = nil
	b.root = &plan.Where{Child: b.root, Groups: groups}
	return b
}

func (b *Builder) setVerb(v verb, frag compile.Fragment) *Builder {
	if !b.guardMutate() {
		return b
	}
	if b.verb != verbNone {
		return b.fail(rqerr.Build("builder: select/insert/upsert/update/deleteFrom called more than once"))
	}
	b.verb = v
	b.selectorFrag = frag
	b.hasSelector = true
	return b
}

// Select sets the projection fragment and marks this query as a plain
// read (spec.md §6.1).
func (b *Builder) Select(frag compile.Fragment) *Builder { return b.setVerb(verbSelect, frag) }

// Insert sets the record-template fragment for an insert Write
// (options.overwrite = false).
func (b *Builder) Insert(frag compile.Fragment) *Builder { return b.setVerb(verbInsert, frag) }

// Upsert sets the record-template fragment for an insert-or-overwrite
// Write (options.overwrite = true).
func (b *Builder) Upsert(frag compile.Fragment) *Builder { return b.setVerb(verbUpsert, frag) }

// Update sets the partial-field-template fragment for an update Write;
// finalize shallow-merges this template over the matched row's prior
// record (spec.md §4.7: "the builder rewrites the selector to be a
// shallow merge of the prior record into the new one").
func (b *Builder) Update(frag compile.Fragment) *Builder { return b.setVerb(verbUpdate, frag) }

// DeleteFrom marks this query as a delete Write against target and
// requires the query to be scoped to exactly the one NamedSource backed by
// target, whose own matched record (primary-key portion included) is what
// gets passed to the store's delete (spec.md §6.1: "deleteFrom(store)"
// takes no template — unlike insert/upsert/update — so the row to delete
// is whatever the surrounding from/where already selected).
func (b *Builder) DeleteFrom(target plan.WriteTarget) *Builder {
	if !b.guardMutate() {
		return b
	}
	if b.verb != verbNone {
		return b.fail(rqerr.Build("builder: select/insert/upsert/update/deleteFrom called more than once"))
	}
	b.verb = verbDelete
	b.intoTarget = target
	b.intoDone = true
	return b
}

// Into sets the persistent Write target for insert/upsert/update.
func (b *Builder) Into(target plan.WriteTarget) *Builder {
	if !b.guardMutate() {
		return b
	}
	if b.intoDone {
		return b.fail(rqerr.Build("builder: into() called more than once"))
	}
	b.intoTarget = target
	b.intoDone = true
	return b
}

// Returning sets the projection applied to the records the store yields
// after a Write completes (spec.md §6.1).
func (b *Builder) Returning(frag compile.Fragment) *Builder {
	if !b.guardMutate() {
		return b
	}
	b.returnFrag = frag
	b.hasReturning = true
	return b
}

// GroupBy compiles frag as the group key and wraps the tree in a GroupBy
// whose Selector is the fragment already passed to Select — aggregates are
// permitted there only in this path (spec.md §6.1: "selector must already
// be set; aggregates are permitted in the selector when groupBy is used").
func (b *Builder) GroupBy(frag compile.Fragment) *Builder {
	if !b.guardMutate() {
		return b
	}
	if b.groupByDone {
		return b.fail(rqerr.Build("builder: groupBy called more than once"))
	}
	if !b.hasSelector {
		return b.fail(rqerr.Build("builder: groupBy requires select to already be set"))
	}
	if b.root == nil {
		return b.fail(rqerr.Build("builder: groupBy requires a preceding from"))
	}
	grouper, err := compile.CompileExpression(frag, b.schema, b.opts)
	if err != nil {
		return b.fail(err)
	}
	aggOpts := b.opts
	aggOpts.AllowAggregates = true
	selector, err := compile.CompileExpression(b.selectorFrag, b.schema, aggOpts)
	if err != nil {
		return b.fail(err)
	}
	b.groupByDone = true
	b.root = &plan.GroupBy{Child: b.root, Selector: selector, Grouper: grouper}
	return b
}

// OrderBy compiles frag as a comparison expression and opens a new
// ordering term (ascending, nulls-last by default); chain Asc/Desc/Order
// and NullsFirst/NullsLast/Nulls to adjust it before the next OrderBy or
// terminal call.
func (b *Builder) OrderBy(frag compile.Fragment) *Builder {
	if !b.guardMutate() {
		return b
	}
	if b.root == nil {
		return b.fail(rqerr.Build("builder: orderBy requires a preceding from"))
	}
	ex, err := compile.CompileExpression(frag, b.schema, b.opts)
	if err != nil {
		return b.fail(err)
	}
	ob := &plan.OrderBy{Child: b.root, Ordering: []plan.OrderingTerm{{Expr: ex, Order: 1, Nulls: 1}}}
	b.root = ob
	b.lastOrder = ob
	return b
}

func (b *Builder) lastTerm() *plan.OrderingTerm {
	if b.lastOrder == nil || len(b.lastOrder.Ordering) == 0 {
		return nil
	}
	return &b.lastOrder.Ordering[len(b.lastOrder.Ordering)-1]
}

// Asc sets the current ordering term ascending.
func (b *Builder) Asc() *Builder { return b.Order(1) }

// Desc sets the current ordering term descending.
func (b *Builder) Desc() *Builder { return b.Order(-1) }

// Order sets the current ordering term's direction directly (+1 or -1).
func (b *Builder) Order(dir int) *Builder {
	if !b.guardMutate() {
		return b
	}
	t := b.lastTerm()
	if t == nil {
		return b.fail(rqerr.Build("builder: order direction set with no preceding orderBy"))
	}
	t.Order = dir
	return b
}

// NullsFirst places nulls before non-null values in the current ordering
// term.
func (b *Builder) NullsFirst() *Builder { return b.Nulls(-1) }

// NullsLast places nulls after non-null values in the current ordering
// term.
func (b *Builder) NullsLast() *Builder { return b.Nulls(1) }

// Nulls sets the current ordering term's null placement directly.
func (b *Builder) Nulls(dir int) *Builder {
	if !b.guardMutate() {
		return b
	}
	t := b.lastTerm()
	if t == nil {
		return b.fail(rqerr.Build("builder: nulls placement set with no preceding orderBy"))
	}
	t.Nulls = dir
	return b
}

// Memoize wraps the tree so far in a Memoize node (spec.md §6.1: "marker
// on a select subquery").
func (b *Builder) Memoize() *Builder {
	if !b.guardMutate() {
		return b
	}
	if b.root == nil {
		return b.fail(rqerr.Build("builder: memoize requires a preceding from"))
	}
	b.root = &plan.Memoize{Child: b.root}
	return b
}

// targetAlias finds the alias whose NamedSource is backed by the same
// persistent store as b.intoTarget, needed to read the prior record an
// update merges over or a delete passes through as-is.
func (b *Builder) targetAlias() (string, error) {
	pt, ok := b.intoTarget.(plan.PersistentSourceData)
	if !ok {
		return "", rqerr.Build("builder: into() target does not expose a store handle")
	}
	handle := pt.StoreHandle()
	for alias, ns := range b.sources {
		if psd, ok := ns.Data.(plan.PersistentSourceData); ok && psd.StoreHandle() == handle {
			return alias, nil
		}
	}
	return "", rqerr.Build("builder: no from/join source is backed by the into() target")
}

// buildWriteSelector compiles the verb's template (if any) into the
// record-producing selector Write's Child must emit under
// relquery.AnonymousSource, applying the update-specific shallow-merge
// rewrite spec.md §4.7 describes.
func (b *Builder) buildWriteSelector() (*compile.Expression, error) {
	switch b.verb {
	case verbInsert, verbUpsert:
		return compile.CompileExpression(b.selectorFrag, b.schema, b.opts)
	case verbUpdate:
		alias, err := b.targetAlias()
		if err != nil {
			return nil, err
		}
		patch, err := compile.CompileExpression(b.selectorFrag, b.schema, b.opts)
		if err != nil {
			return nil, err
		}
		return patch.MergeOverPrior(alias), nil
	case verbDelete:
		alias, err := b.targetAlias()
		if err != nil {
			return nil, err
		}
		return compile.CompileExpression(compile.Plain(alias), b.schema, b.opts)
	default:
		return nil, fmt.Errorf("builder: no write verb set")
	}
}

// Finalize compiles any still-pending selector/write nodes, runs
// plan.FinalizeTraced, and caches the result so further calls are
// idempotent and further mutation is refused (spec.md §7).
func (b *Builder) Finalize() (plan.Node, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.finalized {
		return b.finalRoot, nil
	}
	if b.root == nil {
		return nil, rqerr.Build("builder: no from() was ever added")
	}

	root := b.root
	switch b.verb {
	case verbNone, verbSelect:
		if b.hasSelector && !b.groupByDone {
			sel, err := compile.CompileExpression(b.selectorFrag, b.schema, b.opts)
			if err != nil {
				return nil, err
			}
			root = &plan.Select{Child: root, Selector: sel}
		}
	default:
		selector, err := b.buildWriteSelector()
		if err != nil {
			return nil, err
		}
		root = &plan.Select{Child: root, Selector: selector}
		root = &plan.Write{Child: root, Target: b.intoTarget, Options: plan.WriteOptions{
			Overwrite: b.verb == verbUpsert || b.verb == verbUpdate || b.verb == verbDelete,
			Delete:    b.verb == verbDelete,
		}}
		if b.hasReturning {
			retSel, err := compile.CompileExpression(b.returnFrag, relquery.Schema{relquery.AnonymousSource: relquery.UnknownDependency}, b.opts)
			if err != nil {
				return nil, err
			}
			root = &plan.Select{Child: root, Selector: retSel}
		}
	}

	finalRoot, err := plan.FinalizeTraced(root, "query", b.trace)
	if err != nil {
		return nil, err
	}
	b.finalRoot = finalRoot
	b.finalized = true
	return b.finalRoot, nil
}

// Query finalizes (if needed) and executes the tree, returning a lazy
// tuple stream (spec.md §6.1: "query(params, tx?) yields a lazy stream").
// Passing tx installs it as the ambient transaction before execution
// instead of letting the first TransactionEnvelope open a fresh one.
func (b *Builder) Query(ctx context.Context, params relquery.Record, tx ...txn.Handle) (rxstream.Iterator, error) {
	root, err := b.Finalize()
	if err != nil {
		return nil, err
	}
	ec := exec.New(ctx, params)
	ec.Trace = b.trace
	ec.Log = b.log
	if len(tx) > 0 {
		ec.Txn = tx[0]
	}
	return exec.Execute(ec, root)
}

// ForEach finalizes, executes, and calls cb with every resulting tuple in
// order, stopping at the first error from either the stream or cb.
func (b *Builder) ForEach(ctx context.Context, params relquery.Record, cb func(relquery.Tuple) error, tx ...txn.Handle) error {
	it, err := b.Query(ctx, params, tx...)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next(ctx) {
		if err := cb(it.Value()); err != nil {
			return err
		}
	}
	return it.Err()
}

// Then finalizes, executes, and materialises every tuple, calling resolve
// on success or reject on failure (spec.md §6.1's promise-style terminal
// call).
func (b *Builder) Then(ctx context.Context, params relquery.Record, resolve func([]relquery.Tuple), reject func(error), tx ...txn.Handle) {
	it, err := b.Query(ctx, params, tx...)
	if err != nil {
		reject(err)
		return
	}
	tuples, err := rxstream.ToSlice(ctx, it)
	if err != nil {
		reject(err)
		return
	}
	resolve(tuples)
}

package exec

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/host/expr"
	"github.com/relquery/relquery/host/stdscope"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rangealg"
	"github.com/relquery/relquery/rxstream"
)

// Execute dispatches to the node-type-specific executor (spec.md §4.7:
// "each node implements execute(ctx) → stream of tuples").
func Execute(ctx *Ctx, node plan.Node) (rxstream.Iterator, error) {
	switch n := node.(type) {
	case *plan.NamedSource:
		return execNamedSource(ctx, n)
	case *plan.InnerJoin:
		return execJoin(ctx, &n.JoinBase, joinInner)
	case *plan.OuterJoin:
		return execJoin(ctx, &n.JoinBase, joinOuter)
	case *plan.AntiJoin:
		return execJoin(ctx, &n.JoinBase, joinAnti)
	case *plan.Where:
		return execWhere(ctx, n)
	case *plan.GroupBy:
		return execGroupBy(ctx, n)
	case *plan.OrderBy:
		return execOrderBy(ctx, n)
	case *plan.Select:
		return execSelect(ctx, n)
	case *plan.SetOperation:
		return execSetOperation(ctx, n)
	case *plan.CompositeUnion:
		return execCompositeUnion(ctx, n)
	case *plan.Write:
		return execWrite(ctx, n)
	case *plan.Memoize:
		return execMemoize(ctx, n)
	case *plan.TransactionEnvelope:
		return execTransactionEnvelope(ctx, n)
	default:
		return nil, fmt.Errorf("exec: unknown node type %T", node)
	}
}

// evalPredicates applies exprs in order with fail-fast AND semantics
// (spec.md §4.7), evaluating each against tuple/params with no group state
// (predicates never carry aggregates — compile.Options.AllowAggregates is
// false wherever a predicate is compiled).
func evalPredicates(exprs []*compile.Expression, tuple relquery.Tuple, params relquery.Record) (bool, error) {
	for _, p := range exprs {
		v, err := p.Evaluate(tuple, params, nil)
		if err != nil {
			return false, err
		}
		if !truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// rangeEvaluator adapts the current tuple/params into a rangealg.Context, so
// a RangeExpression's bound expressions (raw host/expr ASTs captured at
// finalization time from the original predicate) can be evaluated at scan
// time against whatever row is currently in flight. The standard scope is
// always stdscope.New() — no caller anywhere in this module ever supplies a
// different one, so hardcoding it here is faithful to actual usage rather
// than an invented simplification.
type rangeEvaluator struct {
	tuple  relquery.Tuple
	params relquery.Record
}

func (e *rangeEvaluator) Eval(node interface{}) (relquery.Value, error) {
	n, ok := node.(expr.Node)
	if !ok {
		return nil, fmt.Errorf("exec: range bound %T is not a compiled expression", node)
	}
	return expr.Eval(n, &expr.Env{Tuple: e.tuple, Params: e.params, Scope: stdscope.New()})
}

// execNamedSource scans the source restricted to its finalized KeyRanges,
// wraps each record under the source's name merged with the outer tuple,
// then applies its predicates in order (spec.md §4.7).
func execNamedSource(ctx *Ctx, n *plan.NamedSource) (rxstream.Iterator, error) {
	scanCtx := rangealg.NewContext(ctx.Context, &rangeEvaluator{tuple: ctx.Tuple, params: ctx.Params})
	var recIter plan.RecordIterator
	err := ctx.Trace.ExecutePhase("scan:"+n.Name, func() error {
		var scanErr error
		recIter, scanErr = n.Data.Scan(scanCtx, n.KeyRanges)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	tuples := rxstream.Iterator(&recordAdapter{recs: recIter, base: ctx.Tuple, name: n.Name})
	if len(n.Predicates) == 0 {
		return tuples, nil
	}
	return rxstream.Filter(tuples, func(t relquery.Tuple) (bool, error) {
		return evalPredicates(n.Predicates, t, ctx.Params)
	}), nil
}

// execWhere filters by the combined predicate left behind on a Where that
// survived finalization (the schema-bearing case is always removed by
// hoist; only the no-schema, combined-predicate case reaches execution).
func execWhere(ctx *Ctx, n *plan.Where) (rxstream.Iterator, error) {
	childIter, err := Execute(ctx, n.Child)
	if err != nil {
		return nil, err
	}
	if n.Predicate == nil {
		return childIter, nil
	}
	return rxstream.Filter(childIter, func(t relquery.Tuple) (bool, error) {
		v, err := n.Predicate.Evaluate(t, ctx.Params, nil)
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	}), nil
}

// execSelect maps Child's stream through Selector, lifting each projected
// Record into an anonymous one-entry Tuple (spec.md §4.4/§4.7).
func execSelect(ctx *Ctx, n *plan.Select) (rxstream.Iterator, error) {
	childIter, err := Execute(ctx, n.Child)
	if err != nil {
		return nil, err
	}
	return rxstream.Map(childIter, func(t relquery.Tuple) (relquery.Tuple, error) {
		v, err := n.Selector.Evaluate(t, ctx.Params, nil)
		if err != nil {
			return nil, err
		}
		return wrapAnonymous(v), nil
	}), nil
}

// groupEntry is one accumulated group: its running aggregate-state slots
// (shared, mutated in place, across every fold step for this group) and
// the selector's most recently produced output tuple.
type groupEntry struct {
	key   relquery.Value
	state []relquery.Value
	tuple relquery.Tuple
}

// execGroupBy folds Child's stream into one tuple per distinct grouper key
// (spec.md §4.7): the selector is invoked once per input tuple with the
// group's running state slice, its aggregate initializers mutate that
// state, and the selector's return value is kept as the group's current
// output — so after the full fold each group's output equals the
// selector applied to the last tuple, which already reflects the finished
// aggregate. Group-key equality is structural (relquery.Equal), so lookup
// is a linear scan rather than a hash map — group keys may be arbitrary
// Values, including Records, which are not Go-map-key-safe in general.
func execGroupBy(ctx *Ctx, n *plan.GroupBy) (rxstream.Iterator, error) {
	childIter, err := Execute(ctx, n.Child)
	if err != nil {
		return nil, err
	}
	defer childIter.Close()

	var groups []*groupEntry
	for childIter.Next(ctx.Context) {
		t := childIter.Value()
		gk, err := n.Grouper.Evaluate(t, ctx.Params, nil)
		if err != nil {
			return nil, err
		}
		entry := findGroup(groups, gk)
		if entry == nil {
			entry = &groupEntry{key: gk, state: make([]relquery.Value, n.Selector.GroupSlots)}
			groups = append(groups, entry)
		}
		v, err := n.Selector.Evaluate(t, ctx.Params, entry.state)
		if err != nil {
			return nil, err
		}
		entry.tuple = wrapAnonymous(v)
	}
	if err := childIter.Err(); err != nil {
		return nil, err
	}

	out := make([]relquery.Tuple, len(groups))
	for i, g := range groups {
		out[i] = g.tuple
	}
	return rxstream.FromSlice(out), nil
}

func findGroup(groups []*groupEntry, key relquery.Value) *groupEntry {
	for _, g := range groups {
		if relquery.Equal(g.key, key) {
			return g
		}
	}
	return nil
}

// execOrderBy materializes Child's stream then sorts it by the fused
// ordering list (spec.md §4.7).
func execOrderBy(ctx *Ctx, n *plan.OrderBy) (rxstream.Iterator, error) {
	childIter, err := Execute(ctx, n.Child)
	if err != nil {
		return nil, err
	}
	tuples, err := rxstream.ToSlice(ctx.Context, childIter)
	if err != nil {
		return nil, err
	}
	var sortErr error
	sort.SliceStable(tuples, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		c, err := compareByOrdering(ctx, n.Ordering, tuples[i], tuples[j])
		if err != nil {
			sortErr = err
			return false
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return rxstream.FromSlice(tuples), nil
}

// compareByOrdering implements spec.md §4.7's OrderBy comparison: evaluate
// each ordering entry on both sides; skip entries where both are
// null/absent; where exactly one is null, its placement is decided by
// Nulls (+1 = later, -1 = earlier) independent of Order's sign; otherwise
// compare via relquery.Cmp and multiply by Order. Return the first
// non-zero result, 0 on a full tie (stable).
func compareByOrdering(ctx *Ctx, ordering []plan.OrderingTerm, a, b relquery.Tuple) (int, error) {
	for _, term := range ordering {
		av, err := term.Expr.Evaluate(a, ctx.Params, nil)
		if err != nil {
			return 0, err
		}
		bv, err := term.Expr.Evaluate(b, ctx.Params, nil)
		if err != nil {
			return 0, err
		}
		aNull, bNull := av == nil, bv == nil
		switch {
		case aNull && bNull:
			continue
		case aNull:
			return term.Nulls, nil
		case bNull:
			return -term.Nulls, nil
		default:
			if c := relquery.Cmp(av, bv) * term.Order; c != 0 {
				return c, nil
			}
		}
	}
	return 0, nil
}

// execSetOperation merges both legs concurrently via rxstream.Merge; Union
// deduplicates structurally over a seen-set of tuple values, UnionAll
// passes everything through (spec.md §4.7).
func execSetOperation(ctx *Ctx, n *plan.SetOperation) (rxstream.Iterator, error) {
	leftIter, err := Execute(ctx, n.Left)
	if err != nil {
		return nil, err
	}
	rightIter, err := Execute(ctx, n.Right)
	if err != nil {
		return nil, err
	}
	merged := rxstream.Merge(leftIter, rightIter)
	if n.Kind == plan.UnionAll {
		return merged, nil
	}
	var seen []relquery.Tuple
	return rxstream.Filter(merged, func(t relquery.Tuple) (bool, error) {
		for _, s := range seen {
			if tupleEqual(s, t) {
				return false, nil
			}
		}
		seen = append(seen, t)
		return true, nil
	}), nil
}

func tupleEqual(a, b relquery.Tuple) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || !relquery.Equal(v, bv) {
			return false
		}
	}
	return true
}

// execCompositeUnion concatenates left then right without deduplication
// (spec.md §4.7), used to assemble a full outer join from
// OuterJoin(L,R)+AntiJoin(R,L).
func execCompositeUnion(ctx *Ctx, n *plan.CompositeUnion) (rxstream.Iterator, error) {
	leftIter, err := Execute(ctx, n.Left)
	if err != nil {
		return nil, err
	}
	rightIter, err := Execute(ctx, n.Right)
	if err != nil {
		return nil, err
	}
	return rxstream.Concat(leftIter, rightIter), nil
}

// execWrite materializes Child's tuples fully before issuing any mutation
// (spec.md §4.7: "so a write cannot be read back by its own query"), then
// calls Target.Put with the records to persist — each Child tuple is
// expected to carry its to-be-persisted Record under
// relquery.AnonymousSource, the shape a Select upstream of insert/
// upsert/update/delete always produces (spec.md §4.5: the builder rewrites
// the selector for update into a shallow merge of the prior record).
func execWrite(ctx *Ctx, n *plan.Write) (rxstream.Iterator, error) {
	childIter, err := Execute(ctx, n.Child)
	if err != nil {
		return nil, err
	}
	tuples, err := rxstream.ToSlice(ctx.Context, childIter)
	if err != nil {
		return nil, err
	}
	records := make([]relquery.Record, len(tuples))
	for i, t := range tuples {
		rec, ok := t[relquery.AnonymousSource]
		if !ok {
			return nil, fmt.Errorf("exec: write target tuple %d carries no %q record to persist", i, relquery.AnonymousSource)
		}
		records[i] = rec
	}
	persisted, err := n.Target.Put(ctx.Context, records, n.Options)
	if err != nil {
		ctx.Log.Error("write failed", err, logrus.Fields{"count": len(records), "delete": n.Options.Delete})
		return nil, err
	}
	ctx.Log.Info("write applied", logrus.Fields{
		"count":     len(records),
		"overwrite": n.Options.Overwrite,
		"delete":    n.Options.Delete,
	})
	return &recordAdapter{recs: persisted, base: relquery.Tuple{}, name: relquery.AnonymousSource}, nil
}

// execMemoize materializes Child's stream through a replay operator on
// first execution within ctx and hands every subsequent call in the same
// ctx an independent cursor over the same buffered result (spec.md §4.7).
func execMemoize(ctx *Ctx, n *plan.Memoize) (rxstream.Iterator, error) {
	if replay, ok := ctx.Memo[n]; ok {
		return replay.Cursor(), nil
	}
	childIter, err := Execute(ctx, n.Child)
	if err != nil {
		return nil, err
	}
	replay := rxstream.NewReplay(childIter)
	ctx.Memo[n] = replay
	return replay.Cursor(), nil
}

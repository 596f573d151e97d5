package exec

import (
	"github.com/relquery/relquery"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/plan"
	"github.com/relquery/relquery/rxstream"
)

type joinKind int

const (
	joinInner joinKind = iota
	joinOuter
	joinAnti
)

// execJoin implements spec.md §4.7's InnerJoin/OuterJoin/AntiJoin: execute
// left, and for each left tuple build a right ctx with tuple = outer ∪
// left (MergeMap's per-element callback, run sequentially per spec.md
// §5's cooperative single-threaded model) and execute right within it.
func execJoin(ctx *Ctx, base *plan.JoinBase, kind joinKind) (rxstream.Iterator, error) {
	leftIter, err := Execute(ctx, base.Left)
	if err != nil {
		return nil, err
	}
	rightSchema, _ := base.Right.Schema()
	return rxstream.MergeMap(leftIter, func(lt relquery.Tuple) (rxstream.Iterator, error) {
		return joinRightStream(ctx, lt, rightSchema, base, kind)
	}), nil
}

// joinRightStream executes base.Right under a ctx bound to lt, applies the
// join's own retained predicates (right-dependent terms that could not
// hoist past an outer/anti boundary — spec.md §4.6), then resolves the
// per-kind emission rule: InnerJoin passes the filtered stream through
// unchanged; OuterJoin emits left ∪ otherwise when the filtered right side
// is empty, otherwise the filtered matches; AntiJoin emits left ∪
// otherwise iff the filtered right side is empty, and nothing otherwise.
func joinRightStream(ctx *Ctx, lt relquery.Tuple, rightSchema relquery.Schema, base *plan.JoinBase, kind joinKind) (rxstream.Iterator, error) {
	rightCtx := ctx.withTuple(lt)
	rightIter, err := Execute(rightCtx, base.Right)
	if err != nil {
		return nil, err
	}
	filtered := filterByPredicates(rightIter, base.Predicates, ctx.Params)
	if kind == joinInner {
		return filtered, nil
	}

	has := filtered.Next(ctx.Context)
	if err := filtered.Err(); err != nil {
		filtered.Close()
		return nil, err
	}

	if kind == joinAnti {
		filtered.Close()
		if has {
			return rxstream.FromSlice(nil), nil
		}
		return rxstream.FromSlice([]relquery.Tuple{withOtherwise(lt, rightSchema)}), nil
	}

	// OuterJoin.
	if !has {
		filtered.Close()
		return rxstream.FromSlice([]relquery.Tuple{withOtherwise(lt, rightSchema)}), nil
	}
	first := filtered.Value()
	return rxstream.Concat(rxstream.FromSlice([]relquery.Tuple{first}), filtered), nil
}

func filterByPredicates(src rxstream.Iterator, predicates []*compile.Expression, params relquery.Record) rxstream.Iterator {
	if len(predicates) == 0 {
		return src
	}
	return rxstream.Filter(src, func(t relquery.Tuple) (bool, error) {
		return evalPredicates(predicates, t, params)
	})
}

// withOtherwise returns a copy of lt with every name in rightSchema bound
// to relquery.OtherwiseRecord (spec.md §4.7).
func withOtherwise(lt relquery.Tuple, rightSchema relquery.Schema) relquery.Tuple {
	out := lt.Clone()
	for name := range rightSchema {
		out[name] = relquery.OtherwiseRecord
	}
	return out
}

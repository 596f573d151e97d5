package plan

import (
	"fmt"
	"sort"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/rangealg"
	"github.com/relquery/relquery/rqerr"
	"github.com/relquery/relquery/trace"
)

// Finalize runs both sub-passes of spec.md §4.6 over root and returns the
// finalized tree: hoistPredicates pushes compiled terms down to the
// NamedSources and Joins that can consume them, then prepareTransaction
// wraps the result in a TransactionEnvelope if any persistent source is
// present.
func Finalize(root Node) (Node, error) {
	avail := &compile.TermGroups{}
	newRoot, err := hoist(root, avail, relquery.Schema{})
	if err != nil {
		return nil, err
	}
	if len(avail.Terms) > 0 {
		return nil, rqerr.Plan("plan: unassigned terms: %d term(s) left whose dependencies were never satisfied by any source", len(avail.Terms))
	}
	return prepareTransaction(newRoot)
}

// FinalizeTraced runs Finalize with tc bracketing the whole pass via
// FinalizeBegin/FinalizeComplete, for callers (the builder surface) that
// hold a trace.Context worth reporting against. Pass trace.NewContext(nil)
// for a zero-overhead no-op.
func FinalizeTraced(root Node, description string, tc trace.Context) (Node, error) {
	tc.FinalizeBegin(description)
	newRoot, err := Finalize(root)
	tc.FinalizeComplete(err)
	return newRoot, err
}

// checkSetOperationSchemas enforces spec.md §7's "set-operation on
// schema-incompatible children" plan-time error: when both legs of a Union/
// UnionAll expose a schema (neither is hidden behind a Select/GroupBy/Write/
// CompositeUnion), their exposed alias sets must match exactly. A hidden-
// schema leg skips the check — its shape can't be verified statically here.
func checkSetOperationSchemas(n *SetOperation) error {
	left, leftOK := n.Left.Schema()
	right, rightOK := n.Right.Schema()
	if !leftOK || !rightOK {
		return nil
	}
	if len(left) != len(right) {
		return rqerr.Plan("plan: set operation legs expose %d and %d aliases respectively", len(left), len(right))
	}
	for alias := range left {
		if _, ok := right[alias]; !ok {
			return rqerr.Plan("plan: set operation legs are schema-incompatible: alias %q missing on one side", alias)
		}
	}
	return nil
}

func allDepsSatisfied(deps map[string]*relquery.SourceIdentity, schema relquery.Schema) bool {
	for name := range deps {
		if _, ok := schema[name]; !ok {
			return false
		}
	}
	return true
}

func dependsOnSchema(deps map[string]*relquery.SourceIdentity, schema relquery.Schema) bool {
	for name := range deps {
		if _, ok := schema[name]; ok {
			return true
		}
	}
	return false
}

// hoist implements sub-pass 1 (spec.md §4.6) by direct recursion over the
// concrete node types rather than the generic Visitor: the rule text
// threads two pieces of context (the accumulating `available` TermGroups
// and the schema visible at this point from enclosing-Join left siblings)
// that a type-erased Enter/Exit pair cannot carry without its own ad hoc
// state anyway. plan.Visitor/Path remain the general traversal contract for
// callers that only need per-type hooks without this context threading.
func hoist(node Node, avail *compile.TermGroups, visible relquery.Schema) (Node, error) {
	switch n := node.(type) {
	case *NamedSource:
		current := visible.Merge(relquery.Schema{n.Name: n.ID})
		var remaining []*compile.Term
		for _, t := range avail.Terms {
			if !allDepsSatisfied(t.Expr.Deps, current) {
				remaining = append(remaining, t)
				continue
			}
			n.Predicates = append(n.Predicates, t.Expr)
			if ranges, ok := t.Ranges[n.Name]; ok {
				if n.KeyRanges == nil {
					n.KeyRanges = map[string]rangealg.KeyRange{}
				}
				for path, r := range ranges {
					if existing, has := n.KeyRanges[path]; has {
						n.KeyRanges[path] = rangealg.RangeIntersection{Left: existing, Right: r}
					} else {
						n.KeyRanges[path] = r
					}
				}
			}
		}
		avail.Terms = remaining
		return n, nil

	case *Where:
		_, hasSchema := n.Child.Schema()
		if hasSchema {
			if n.Groups != nil {
				avail.Merge(n.Groups)
			}
			newChild, err := hoist(n.Child, avail, visible)
			if err != nil {
				return nil, err
			}
			return newChild, nil
		}
		if n.Groups != nil {
			if combined := compile.CombineTerms(n.Groups.Terms); combined != nil {
				n.Predicate = combined.Expr
			}
		}
		newChild, err := hoist(n.Child, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Child = newChild
		return n, nil

	case *InnerJoin:
		if err := hoistJoin(&n.JoinBase, avail, visible, true); err != nil {
			return nil, err
		}
		return n, nil
	case *OuterJoin:
		if err := hoistJoin(&n.JoinBase, avail, visible, false); err != nil {
			return nil, err
		}
		return n, nil
	case *AntiJoin:
		if err := hoistJoin(&n.JoinBase, avail, visible, false); err != nil {
			return nil, err
		}
		return n, nil

	case *GroupBy:
		newChild, err := hoist(n.Child, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Child = newChild
		return n, nil

	case *Select:
		newChild, err := hoist(n.Child, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Child = newChild
		return n, nil

	case *Write:
		newChild, err := hoist(n.Child, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Child = newChild
		return n, nil

	case *Memoize:
		newChild, err := hoist(n.Child, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Child = newChild
		return n, nil

	case *TransactionEnvelope:
		newChild, err := hoist(n.Child, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Child = newChild
		return n, nil

	case *OrderBy:
		for {
			child, ok := n.Child.(*OrderBy)
			if !ok {
				break
			}
			n.Ordering = append(append([]OrderingTerm{}, child.Ordering...), n.Ordering...)
			n.Child = child.Child
		}
		newChild, err := hoist(n.Child, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Child = newChild
		return n, nil

	case *SetOperation:
		newLeft, err := hoist(n.Left, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Left = newLeft
		newRight, err := hoist(n.Right, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Right = newRight
		if err := checkSetOperationSchemas(n); err != nil {
			return nil, err
		}
		return n, nil

	case *CompositeUnion:
		newLeft, err := hoist(n.Left, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Left = newLeft
		newRight, err := hoist(n.Right, avail, visible)
		if err != nil {
			return nil, err
		}
		n.Right = newRight
		return n, nil

	default:
		return nil, fmt.Errorf("plan: unknown node type %T", node)
	}
}

// hoistJoin implements the Join-specific rules of spec.md §4.6 sub-pass 1
// shared by InnerJoin/OuterJoin/AntiJoin: a non-inner join must retain any
// available term whose dependencies touch the right relation and which
// carries no key range (since hoisting it past the outer/anti boundary
// would change semantics), then the join's own term_groups merge into
// avail, then Left is processed before Right so Right sees Left's schema
// as part of "the available schema at this point".
func hoistJoin(base *JoinBase, avail *compile.TermGroups, visible relquery.Schema, isInner bool) error {
	if !isInner {
		rightSchema, _ := base.Right.Schema()
		var remaining []*compile.Term
		for _, t := range avail.Terms {
			if len(t.Ranges) == 0 && dependsOnSchema(t.Expr.Deps, rightSchema) {
				base.Predicates = append(base.Predicates, t.Expr)
				continue
			}
			remaining = append(remaining, t)
		}
		avail.Terms = remaining
	}
	if base.Groups != nil {
		avail.Merge(base.Groups)
	}

	newLeft, err := hoist(base.Left, avail, visible)
	if err != nil {
		return err
	}
	base.Left = newLeft

	nextVisible := visible
	if leftSchema, ok := newLeft.Schema(); ok {
		nextVisible = visible.Merge(leftSchema)
	}

	newRight, err := hoist(base.Right, avail, nextVisible)
	if err != nil {
		return err
	}
	base.Right = newRight
	return nil
}

// prepareTransaction implements sub-pass 2 (spec.md §4.6): find the single
// distinct persistent store referenced by any NamedSource, collect the
// source names it touches, and wrap root in a TransactionEnvelope set to
// read-write iff a Write node is present. A tree with no persistent source
// is returned unwrapped.
func prepareTransaction(root Node) (Node, error) {
	var handle interface{}
	names := map[string]bool{}
	hasWrite := false

	var walk func(n Node) error
	walk = func(n Node) error {
		switch t := n.(type) {
		case *NamedSource:
			if p, ok := t.Data.(PersistentSourceData); ok {
				h := p.StoreHandle()
				if handle != nil && handle != h {
					return rqerr.Plan("plan: query references more than one distinct persistent store")
				}
				handle = h
				names[t.Name] = true
			}
		case *Write:
			hasWrite = true
		}
		for _, p := range n.Children() {
			if err := walk(p.Get()); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	if handle == nil {
		return root, nil
	}

	mode := ReadOnly
	if hasWrite {
		mode = ReadWrite
	}
	sourceNames := make([]string, 0, len(names))
	for name := range names {
		sourceNames = append(sourceNames, name)
	}
	sort.Strings(sourceNames)
	return &TransactionEnvelope{Child: root, StoreHandle: handle, SourceNames: sourceNames, Mode: mode}, nil
}

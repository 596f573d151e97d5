package compile

import (
	"fmt"

	"github.com/relquery/relquery"
	"github.com/relquery/relquery/host/expr"
	"github.com/relquery/relquery/rqerr"
)

// Options configures a single compile pass (spec.md §4.1: "an options
// record {allow_aggregates, compile_all}"). compile_all is realized as the
// separate CompileExpression entry point rather than a boolean here, since
// in Go it is simplest expressed as choosing which function to call.
type Options struct {
	AllowAggregates bool
	Scope           expr.StdScope
}

func (o Options) isAggregateName(name string) bool {
	if o.Scope == nil {
		return false
	}
	_, ok := o.Scope.Aggregate(name)
	return ok
}

func (o Options) isStandardName(name string) bool {
	if o.Scope == nil {
		return false
	}
	if _, ok := o.Scope.Func(name); ok {
		return true
	}
	_, ok := o.Scope.Aggregate(name)
	return ok
}

// rewriteState threads the mutable bookkeeping of a single rewrite pass:
// the next free group-state slot and the dependency set discovered so far.
type rewriteState struct {
	schema     relquery.Schema // nil means "unknown schema" (spec.md §4.1)
	opts       Options
	nextSlot   *int
	deps       map[string]*relquery.SourceIdentity
}

// rewriteTree performs the four transformation passes of spec.md §4.1 step
// 3 as one recursive descent (comparison rewrite, aggregate extraction,
// this-rename, identifier resolution), grounded on function_parser.go's
// dedicated-pass-over-parsed-tree idiom.
func rewriteTree(node expr.Node, st *rewriteState, locals map[string]bool) (expr.Node, error) {
	switch n := node.(type) {
	case expr.Literal, expr.Hole, expr.DollarParam:
		return n, nil
	case expr.ReservedIdent:
		if n.Name == "g" || n.Name == "subs" || n.Name == "this" || st.opts.isStandardName(n.Name) {
			return n, nil
		}
		return nil, rqerr.Build("compile: %q is not a reserved or standard-scope name", "$$"+n.Name)
	case expr.This:
		return expr.ThisRef{}, nil
	case expr.ThisRef:
		return n, nil
	case expr.Ident:
		return rewriteIdent(n, st, locals)
	case expr.RecordLiteral:
		values := make([]expr.Node, len(n.Values))
		for i, v := range n.Values {
			rv, err := rewriteTree(v, st, locals)
			if err != nil {
				return nil, err
			}
			values[i] = rv
		}
		return expr.RecordLiteral{Keys: n.Keys, Values: values}, nil
	case expr.FieldAccess:
		obj, err := rewriteTree(n.Object, st, locals)
		if err != nil {
			return nil, err
		}
		return expr.FieldAccess{Object: obj, Field: n.Field}, nil
	case expr.IndexAccess:
		obj, err := rewriteTree(n.Object, st, locals)
		if err != nil {
			return nil, err
		}
		idx, err := rewriteTree(n.Index, st, locals)
		if err != nil {
			return nil, err
		}
		return expr.IndexAccess{Object: obj, Index: idx}, nil
	case expr.Lambda:
		childLocals := make(map[string]bool, len(locals)+len(n.Params))
		for k := range locals {
			childLocals[k] = true
		}
		for _, p := range n.Params {
			childLocals[p] = true
		}
		body, err := rewriteTree(n.Body, st, childLocals)
		if err != nil {
			return nil, err
		}
		return expr.Lambda{Params: n.Params, Body: body}, nil
	case expr.Unary:
		operand, err := rewriteTree(n.Operand, st, locals)
		if err != nil {
			return nil, err
		}
		return expr.Unary{Op: n.Op, Operand: operand}, nil
	case *expr.Binary:
		return rewriteBinary(n, st, locals)
	case expr.Cmp3:
		left, err := rewriteTree(n.Left, st, locals)
		if err != nil {
			return nil, err
		}
		right, err := rewriteTree(n.Right, st, locals)
		if err != nil {
			return nil, err
		}
		return expr.Cmp3{Left: left, Right: right, Op: n.Op}, nil
	case expr.Call:
		return rewriteCall(n, st, locals)
	case expr.AggregateCall:
		return rewriteAggregate(n.Name, n.Args, st, locals)
	case expr.GroupInit:
		args := make([]expr.Node, len(n.Args))
		for i, a := range n.Args {
			ra, err := rewriteTree(a, st, locals)
			if err != nil {
				return nil, err
			}
			args[i] = ra
		}
		return expr.GroupInit{Slot: n.Slot, Name: n.Name, Args: args}, nil
	default:
		return nil, fmt.Errorf("compile: unknown expression node type %T", node)
	}
}

func rewriteIdent(n expr.Ident, st *rewriteState, locals map[string]bool) (expr.Node, error) {
	if locals[n.Name] {
		return n, nil
	}
	if st.schema == nil {
		st.deps[n.Name] = relquery.UnknownDependency
		return n, nil
	}
	id, ok := st.schema[n.Name]
	if !ok {
		return nil, rqerr.Build("compile: unresolved identifier %q is not in scope", n.Name)
	}
	st.deps[n.Name] = id
	return n, nil
}

func rewriteBinary(n *expr.Binary, st *rewriteState, locals map[string]bool) (expr.Node, error) {
	if isComparisonRewriteOp(n.Op) && !n.Rewritten() {
		left, err := rewriteTree(n.Left, st, locals)
		if err != nil {
			return nil, err
		}
		right, err := rewriteTree(n.Right, st, locals)
		if err != nil {
			return nil, err
		}
		n.MarkRewritten()
		return expr.Cmp3{Left: left, Right: right, Op: strictOp(n.Op)}, nil
	}
	left, err := rewriteTree(n.Left, st, locals)
	if err != nil {
		return nil, err
	}
	right, err := rewriteTree(n.Right, st, locals)
	if err != nil {
		return nil, err
	}
	return &expr.Binary{Op: n.Op, Left: left, Right: right}, nil
}

// isComparisonRewriteOp reports whether op is one of the five operators
// spec.md §4.1 step 3 rewrites to cmp(lhs,rhs) <op'> 0. Note `!=` is
// deliberately excluded — the spec's rewrite set is exactly {==, >=, >,
// <=, <}.
func isComparisonRewriteOp(op string) bool {
	switch op {
	case "==", ">=", ">", "<=", "<":
		return true
	default:
		return false
	}
}

func strictOp(op string) string {
	if op == "==" {
		return "==="
	}
	return op
}

func rewriteCall(n expr.Call, st *rewriteState, locals map[string]bool) (expr.Node, error) {
	if ident, ok := n.Callee.(expr.Ident); ok && !locals[ident.Name] {
		if st.opts.isAggregateName(ident.Name) {
			return rewriteAggregate(ident.Name, n.Args, st, locals)
		}
		// an ordinary call to a standard-scope/unbound function name: the
		// callee identifier resolves at evaluation time via the scope, not
		// the schema, so it is left untouched and not recorded as a
		// dependency.
		args := make([]expr.Node, len(n.Args))
		for i, a := range n.Args {
			ra, err := rewriteTree(a, st, locals)
			if err != nil {
				return nil, err
			}
			args[i] = ra
		}
		return expr.Call{Callee: n.Callee, Args: args}, nil
	}
	callee, err := rewriteTree(n.Callee, st, locals)
	if err != nil {
		return nil, err
	}
	args := make([]expr.Node, len(n.Args))
	for i, a := range n.Args {
		ra, err := rewriteTree(a, st, locals)
		if err != nil {
			return nil, err
		}
		args[i] = ra
	}
	return expr.Call{Callee: callee, Args: args}, nil
}

// rewriteAggregate materializes the GroupInit initializer of spec.md §4.1
// step 3 for a call to a tagged standard-scope aggregate.
func rewriteAggregate(name string, rawArgs []expr.Node, st *rewriteState, locals map[string]bool) (expr.Node, error) {
	if !st.opts.AllowAggregates {
		return nil, rqerr.Build("compile: aggregate %q is not allowed in this context", name)
	}
	args := make([]expr.Node, len(rawArgs))
	for i, a := range rawArgs {
		ra, err := rewriteTree(a, st, locals)
		if err != nil {
			return nil, err
		}
		args[i] = ra
	}
	slot := *st.nextSlot
	*st.nextSlot++
	return expr.GroupInit{Slot: slot, Name: name, Args: args}, nil
}

// splitConjunctions decomposes a raw (pre-rewrite) expression tree at
// top-level `&&` nodes into its term roots (spec.md §4.1 step 3: "a node is
// a term root iff its first non-conjunction ancestor is the top-level
// expression"). Splitting happens before rewriting since `&&` is never
// itself a rewrite target.
func splitConjunctions(node expr.Node) []expr.Node {
	if bin, ok := node.(*expr.Binary); ok && bin.Op == "&&" {
		return append(splitConjunctions(bin.Left), splitConjunctions(bin.Right)...)
	}
	return []expr.Node{node}
}

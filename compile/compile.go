package compile

import (
	"github.com/relquery/relquery"
	"github.com/relquery/relquery/host/expr"
	"github.com/relquery/relquery/rangealg"
	"github.com/relquery/relquery/rqerr"
)

// evalFunc is the closure shape every compiled Expression evaluates
// through — free of textual code generation, per Design Note 3 ("pre-bind
// each aggregate slot to a closure over its group state").
type evalFunc func(tuple relquery.Tuple, params relquery.Record, group []relquery.Value) (relquery.Value, error)

// Expression is a compiled function over (tuple, group-state) with a
// dependency set and a captured substitution array (spec.md §3/§4.1).
type Expression struct {
	AST        expr.Node
	Subs       []relquery.Value
	Deps       map[string]*relquery.SourceIdentity
	GroupSlots int
	eval       evalFunc
}

// Evaluate runs the compiled expression. params is the host-provided
// parameter record ($-prefixed identifiers resolve against it); group is
// the per-group aggregate-state slice indexed by GroupInit.Slot. An error
// here is always runtime-fatal (spec.md §7: "evaluation exception inside a
// predicate/selector") — no operator retries a failed predicate or
// selector evaluation.
func (e *Expression) Evaluate(tuple relquery.Tuple, params relquery.Record, group []relquery.Value) (relquery.Value, error) {
	v, err := e.eval(tuple, params, group)
	if err != nil {
		return nil, rqerr.Wrap(rqerr.RuntimeFatal, err, "evaluating expression")
	}
	return v, nil
}

// DependsOn reports whether name is a free dependency of this expression.
func (e *Expression) DependsOn(name string) bool {
	_, ok := e.Deps[name]
	return ok
}

// Partial returns a new Expression with binding's keys removed from its
// dependency set and their values frozen into the evaluated tuple, so
// subsequent Evaluate calls need only supply the remaining keys (spec.md
// §4.1: "Partial evaluation").
func (e *Expression) Partial(binding relquery.Tuple) *Expression {
	frozen := make(relquery.Tuple, len(binding))
	for k, v := range binding {
		frozen[k] = v
	}
	newDeps := make(map[string]*relquery.SourceIdentity, len(e.Deps))
	for k, id := range e.Deps {
		if _, bound := binding[k]; !bound {
			newDeps[k] = id
		}
	}
	inner := e.eval
	return &Expression{
		AST:        e.AST,
		Subs:       e.Subs,
		Deps:       newDeps,
		GroupSlots: e.GroupSlots,
		eval: func(tuple relquery.Tuple, params relquery.Record, group []relquery.Value) (relquery.Value, error) {
			merged := make(relquery.Tuple, len(frozen)+len(tuple))
			for k, v := range frozen {
				merged[k] = v
			}
			for k, v := range tuple {
				merged[k] = v
			}
			return inner(merged, params, group)
		},
	}
}

// Term is an Expression together with the dependency set it was split at
// (spec.md §3/§4.1 step 4) and any KeyRanges extracted from it (§4.3).
type Term struct {
	Expr   *Expression
	Ranges map[string]map[string]rangealg.KeyRange
}

func newTerm(ex *Expression, schemaNames map[string]bool) *Term {
	return &Term{Expr: ex, Ranges: rangealg.ExtractRanges(ex.AST, schemaNames)}
}

// sameDeps reports whether two dependency sets name exactly the same
// source names (spec.md §4.2: "Two Terms with the same dependency set").
func sameDeps(a, b map[string]*relquery.SourceIdentity) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// mergeTerms combines two Terms into one whose expression is their
// conjunction and whose dependency set is the union of both (spec.md §4.2;
// also reused by CombineTerms for terms that need not share a dependency
// set, so the union — not just "a"'s set — must be taken).
func mergeTerms(a, b *Term) *Term {
	combinedAST := &expr.Binary{Op: "&&", Left: a.Expr.AST, Right: b.Expr.AST}
	ea, eb := a.Expr.eval, b.Expr.eval
	deps := make(map[string]*relquery.SourceIdentity, len(a.Expr.Deps)+len(b.Expr.Deps))
	for k, v := range a.Expr.Deps {
		deps[k] = v
	}
	for k, v := range b.Expr.Deps {
		deps[k] = v
	}
	combined := &Expression{
		AST:        combinedAST,
		Subs:       a.Expr.Subs,
		Deps:       deps,
		GroupSlots: a.Expr.GroupSlots + b.Expr.GroupSlots,
		eval: func(tuple relquery.Tuple, params relquery.Record, group []relquery.Value) (relquery.Value, error) {
			lv, err := ea(tuple, params, group)
			if err != nil {
				return nil, err
			}
			if !truthy(lv) {
				return false, nil
			}
			rv, err := eb(tuple, params, group)
			if err != nil {
				return nil, err
			}
			return truthy(rv), nil
		},
	}
	ranges := make(map[string]map[string]rangealg.KeyRange, len(a.Ranges))
	for src, paths := range a.Ranges {
		cp := make(map[string]rangealg.KeyRange, len(paths))
		for p, r := range paths {
			cp[p] = r
		}
		ranges[src] = cp
	}
	for src, paths := range b.Ranges {
		dst, ok := ranges[src]
		if !ok {
			dst = map[string]rangealg.KeyRange{}
			ranges[src] = dst
		}
		for p, r := range paths {
			if existing, has := dst[p]; has {
				dst[p] = rangealg.RangeIntersection{Left: existing, Right: r}
			} else {
				dst[p] = r
			}
		}
	}
	return &Term{Expr: combined, Ranges: ranges}
}

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

// CombineTerms folds terms into a single Term whose expression is their
// conjunction and whose Ranges is the per-source-path intersection of all
// inputs, used where a predicate cannot be split across sibling nodes and
// must instead be evaluated as one combined expression (spec.md §4.6
// sub-pass 1: "evaluate its term_groups as one combined predicate").
// Returns nil if terms is empty.
func CombineTerms(terms []*Term) *Term {
	if len(terms) == 0 {
		return nil
	}
	combined := terms[0]
	for _, t := range terms[1:] {
		combined = mergeTerms(combined, t)
	}
	return combined
}

// TermGroups holds a list of Terms plus the shared substitution table they
// were compiled against (spec.md §4.2).
type TermGroups struct {
	Subs  []relquery.Value
	Terms []*Term
}

// Add inserts term, merging it into an existing same-dependency-set Term
// if one is already present (spec.md §4.1 step 4 / §4.2).
func (g *TermGroups) Add(t *Term) {
	for i, existing := range g.Terms {
		if sameDeps(existing.Expr.Deps, t.Expr.Deps) {
			g.Terms[i] = mergeTerms(existing, t)
			return
		}
	}
	g.Terms = append(g.Terms, t)
}

// Merge re-indexes other's substitution references by the current length
// of g.Subs, appends its substitutions, and adds each of its Terms
// (spec.md §4.2: "merge(other) re-indexes the incoming substitution
// references by the current length, appends the substitutions...").
func (g *TermGroups) Merge(other *TermGroups) {
	offset := len(g.Subs)
	g.Subs = append(g.Subs, other.Subs...)
	for _, t := range other.Terms {
		shifted := shiftHoles(t.Expr.AST, offset)
		innerEval := t.Expr.eval
		shiftedExpr := &Expression{
			AST:        shifted,
			Subs:       g.Subs,
			Deps:       t.Expr.Deps,
			GroupSlots: t.Expr.GroupSlots,
			eval: func(tuple relquery.Tuple, params relquery.Record, group []relquery.Value) (relquery.Value, error) {
				return innerEval(tuple, params, group)
			},
		}
		g.Add(&Term{Expr: shiftedExpr, Ranges: t.Ranges})
	}
}

// shiftHoles rebuilds node with every Hole index increased by offset,
// used by TermGroups.Merge to re-index a merged-in group's substitution
// references against the receiver's concatenated Subs array.
func shiftHoles(node expr.Node, offset int) expr.Node {
	if offset == 0 {
		return node
	}
	switch n := node.(type) {
	case expr.Hole:
		return expr.Hole{Index: n.Index + offset}
	case expr.Literal, expr.DollarParam, expr.ReservedIdent, expr.Ident, expr.ThisRef, expr.This:
		return n
	case expr.RecordLiteral:
		values := make([]expr.Node, len(n.Values))
		for i, v := range n.Values {
			values[i] = shiftHoles(v, offset)
		}
		return expr.RecordLiteral{Keys: n.Keys, Values: values}
	case expr.FieldAccess:
		return expr.FieldAccess{Object: shiftHoles(n.Object, offset), Field: n.Field}
	case expr.IndexAccess:
		return expr.IndexAccess{Object: shiftHoles(n.Object, offset), Index: shiftHoles(n.Index, offset)}
	case expr.Lambda:
		return expr.Lambda{Params: n.Params, Body: shiftHoles(n.Body, offset)}
	case expr.Unary:
		return expr.Unary{Op: n.Op, Operand: shiftHoles(n.Operand, offset)}
	case *expr.Binary:
		return &expr.Binary{Op: n.Op, Left: shiftHoles(n.Left, offset), Right: shiftHoles(n.Right, offset)}
	case expr.Cmp3:
		return expr.Cmp3{Left: shiftHoles(n.Left, offset), Right: shiftHoles(n.Right, offset), Op: n.Op}
	case expr.Call:
		args := make([]expr.Node, len(n.Args))
		for i, a := range n.Args {
			args[i] = shiftHoles(a, offset)
		}
		return expr.Call{Callee: shiftHoles(n.Callee, offset), Args: args}
	case expr.GroupInit:
		args := make([]expr.Node, len(n.Args))
		for i, a := range n.Args {
			args[i] = shiftHoles(a, offset)
		}
		return expr.GroupInit{Slot: n.Slot, Name: n.Name, Args: args}
	default:
		return node
	}
}

// schemaNames reduces a relquery.Schema to the plain name-set ExtractRanges
// needs.
func schemaNames(schema relquery.Schema) map[string]bool {
	out := make(map[string]bool, len(schema))
	for name := range schema {
		out[name] = true
	}
	return out
}

func newExpression(ast expr.Node, subs []relquery.Value, deps map[string]*relquery.SourceIdentity, slots int, opts Options) *Expression {
	return &Expression{
		AST:        ast,
		Subs:       subs,
		Deps:       deps,
		GroupSlots: slots,
		eval: func(tuple relquery.Tuple, params relquery.Record, group []relquery.Value) (relquery.Value, error) {
			env := &expr.Env{Tuple: tuple, Params: params, Subs: subs, Group: group, Scope: opts.Scope}
			return expr.Eval(ast, env)
		},
	}
}

// CompilePredicate implements spec.md §4.1 end to end for a boolean
// predicate fragment: stitch, parse, split into term roots, run the four
// rewrite passes per root, and extract key ranges, returning the resulting
// TermGroups (§4.2).
func CompilePredicate(frag Fragment, schema relquery.Schema, opts Options) (*TermGroups, error) {
	raw, err := frag.Parse()
	if err != nil {
		return nil, err
	}
	names := schemaNames(schema)
	groups := &TermGroups{Subs: append([]relquery.Value{}, frag.Subs...)}
	for _, root := range splitConjunctions(raw) {
		slots := new(int)
		deps := map[string]*relquery.SourceIdentity{}
		st := &rewriteState{schema: schema, opts: opts, nextSlot: slots, deps: deps}
		rewritten, err := rewriteTree(root, st, map[string]bool{})
		if err != nil {
			return nil, err
		}
		ex := newExpression(rewritten, groups.Subs, deps, *slots, opts)
		groups.Add(newTerm(ex, names))
	}
	return groups, nil
}

// CompileExpression implements spec.md §4.1's `compile_all`: the whole
// fragment compiled as a single evaluable, without splitting into terms
// (used for projections, group keys, and order-by expressions).
func CompileExpression(frag Fragment, schema relquery.Schema, opts Options) (*Expression, error) {
	raw, err := frag.Parse()
	if err != nil {
		return nil, err
	}
	slots := new(int)
	deps := map[string]*relquery.SourceIdentity{}
	st := &rewriteState{schema: schema, opts: opts, nextSlot: slots, deps: deps}
	rewritten, err := rewriteTree(raw, st, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return newExpression(rewritten, append([]relquery.Value{}, frag.Subs...), deps, *slots, opts), nil
}

// MergeOverPrior returns a new Expression that evaluates e for a patch
// record, then shallow-merges it over tuple[alias]'s prior record,
// explicitly preserving relquery.PrimaryKeyAttr from the prior record
// (spec.md §4.7: "for update the builder rewrites the selector to be a
// shallow merge of the prior record into the new one ... the primary-key
// portion of the prior record is explicitly preserved"). Used by the
// builder package, which cannot construct an Expression with a custom
// eval closure directly since eval is unexported.
func (e *Expression) MergeOverPrior(alias string) *Expression {
	inner := e.eval
	return &Expression{
		AST:        e.AST,
		Subs:       e.Subs,
		Deps:       e.Deps,
		GroupSlots: e.GroupSlots,
		eval: func(tuple relquery.Tuple, params relquery.Record, group []relquery.Value) (relquery.Value, error) {
			v, err := inner(tuple, params, group)
			if err != nil {
				return nil, err
			}
			patch, _ := v.(relquery.Record)
			prior := tuple[alias]
			merged := make(relquery.Record, len(prior)+len(patch))
			for k, pv := range prior {
				merged[k] = pv
			}
			for k, pv := range patch {
				merged[k] = pv
			}
			if pk, ok := prior[relquery.PrimaryKeyAttr]; ok {
				merged[relquery.PrimaryKeyAttr] = pk
			}
			return merged, nil
		},
	}
}

package rangealg

import (
	"strings"

	"github.com/relquery/relquery/host/expr"
)

// ExtractRanges implements spec.md §4.3: for a rewritten term-root
// expression tree, recursively extract KeyRanges keyed by (dependency
// source name, key path). schema is the set of bound source names a
// FieldAccess/Ident chain may be rooted at.
//
// Grounded on constraints/time_constraints.go's range-style constraints
// attached to pattern matches, generalized from time-only
// ranges to the full Value domain ordering via relquery.Cmp.
func ExtractRanges(node expr.Node, schema map[string]bool) map[string]map[string]KeyRange {
	return extract(node, schema, false)
}

func extract(node expr.Node, schema map[string]bool, complement bool) map[string]map[string]KeyRange {
	switch n := node.(type) {
	case expr.Cmp3:
		return extractCmp(n, schema, complement)
	case *expr.Binary:
		switch n.Op {
		case "&&":
			return combineRanges(extract(n.Left, schema, complement), extract(n.Right, schema, complement), true, complement)
		case "||":
			return combineRanges(extract(n.Left, schema, complement), extract(n.Right, schema, complement), false, complement)
		}
		return nil
	case expr.Unary:
		if n.Op == "!" {
			return extract(n.Operand, schema, !complement)
		}
		return nil
	default:
		return nil
	}
}

// combineRanges implements spec.md §4.3's && → intersection (union under
// complement) / || → union (intersection under complement) rule, keeping
// only (dependency, keyPath) pairs present in both sub-results.
func combineRanges(a, b map[string]map[string]KeyRange, isAnd, complement bool) map[string]map[string]KeyRange {
	useIntersection := isAnd != complement
	out := map[string]map[string]KeyRange{}
	for src, pathsA := range a {
		pathsB, ok := b[src]
		if !ok {
			continue
		}
		for path, ra := range pathsA {
			rb, ok := pathsB[path]
			if !ok {
				continue
			}
			var combined KeyRange
			if useIntersection {
				combined = RangeIntersection{Left: ra, Right: rb}
			} else {
				combined = RangeUnion{Left: ra, Right: rb}
			}
			addRange(out, src, path, combined)
		}
	}
	return out
}

func extractCmp(n expr.Cmp3, schema map[string]bool, complement bool) map[string]map[string]KeyRange {
	out := map[string]map[string]KeyRange{}
	if src, path, ok := matchKeyPath(n.Left, schema); ok && !dependsOnSource(n.Right, src) {
		if kr, ok := rangeFor(n.Op, n.Right, complement); ok {
			addRange(out, src, strings.Join(path, "."), kr)
		}
	}
	if src, path, ok := matchKeyPath(n.Right, schema); ok && !dependsOnSource(n.Left, src) {
		if kr, ok := rangeFor(flipOp(n.Op), n.Left, complement); ok {
			addRange(out, src, strings.Join(path, "."), kr)
		}
	}
	return out
}

// flipOp swaps a comparison operator's sides: `expr <op> keyPath` is
// equivalent to `keyPath <flipOp(op)> expr` (spec.md §4.3: "When keyPath is
// on the right side of cmp, the same logic applies with sides swapped").
func flipOp(op string) string {
	switch op {
	case ">=":
		return "<="
	case ">":
		return "<"
	case "<=":
		return ">="
	case "<":
		return ">"
	default:
		return op
	}
}

// rangeFor builds the KeyRange a single cmp3 side yields, applying the
// complement flip of spec.md §4.3.
func rangeFor(op string, boundExpr expr.Node, complement bool) (KeyRange, bool) {
	switch op {
	case "===":
		if complement {
			return nil, false
		}
		return RangeExpression{LowerExpr: boundExpr, UpperExpr: boundExpr}, true
	case ">=":
		if complement {
			return RangeExpression{UpperExpr: boundExpr, UpperOpen: true}, true
		}
		return RangeExpression{LowerExpr: boundExpr}, true
	case ">":
		if complement {
			return RangeExpression{UpperExpr: boundExpr}, true
		}
		return RangeExpression{LowerExpr: boundExpr, LowerOpen: true}, true
	case "<=":
		if complement {
			return RangeExpression{LowerExpr: boundExpr, LowerOpen: true}, true
		}
		return RangeExpression{UpperExpr: boundExpr}, true
	case "<":
		if complement {
			return RangeExpression{LowerExpr: boundExpr}, true
		}
		return RangeExpression{UpperExpr: boundExpr, UpperOpen: true}, true
	default:
		return nil, false
	}
}

func addRange(out map[string]map[string]KeyRange, src, path string, kr KeyRange) {
	if out[src] == nil {
		out[src] = map[string]KeyRange{}
	}
	out[src][path] = kr
}

// matchKeyPath reports whether node is a chain of field accesses rooted at
// a schema-bound identifier, e.g. `thing.created.year` rooted at `thing`.
func matchKeyPath(node expr.Node, schema map[string]bool) (source string, path []string, ok bool) {
	switch n := node.(type) {
	case expr.Ident:
		if schema[n.Name] {
			return n.Name, nil, true
		}
		return "", nil, false
	case expr.FieldAccess:
		src, path, ok := matchKeyPath(n.Object, schema)
		if !ok {
			return "", nil, false
		}
		return src, append(path, n.Field), true
	default:
		return "", nil, false
	}
}

func dependsOnSource(node expr.Node, source string) bool {
	return freeIdents(node)[source]
}

// freeIdents collects every schema-identifier name referenced anywhere in
// node, ignoring lambda-local shadowing (range-extraction candidates are
// simple comparison operands and never contain lambdas in practice; a
// false positive here only suppresses a range that could have been
// extracted, never an unsound one).
func freeIdents(node expr.Node) map[string]bool {
	out := map[string]bool{}
	var walk func(expr.Node)
	walk = func(n expr.Node) {
		switch t := n.(type) {
		case expr.Ident:
			out[t.Name] = true
		case expr.FieldAccess:
			walk(t.Object)
		case expr.IndexAccess:
			walk(t.Object)
			walk(t.Index)
		case expr.RecordLiteral:
			for _, v := range t.Values {
				walk(v)
			}
		case expr.Lambda:
			walk(t.Body)
		case expr.Call:
			walk(t.Callee)
			for _, a := range t.Args {
				walk(a)
			}
		case expr.Unary:
			walk(t.Operand)
		case *expr.Binary:
			walk(t.Left)
			walk(t.Right)
		case expr.Cmp3:
			walk(t.Left)
			walk(t.Right)
		case expr.GroupInit:
			for _, a := range t.Args {
				walk(a)
			}
		case expr.AggregateCall:
			for _, a := range t.Args {
				walk(a)
			}
		}
	}
	walk(node)
	return out
}

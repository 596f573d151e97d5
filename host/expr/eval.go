package expr

import (
	"fmt"

	"github.com/relquery/relquery"
)

// Func is a standard-scope function: `cmp`, or any user-registered helper.
type Func func(args []relquery.Value) (relquery.Value, error)

// AggregateFunc folds one more input into a running aggregate state
// (spec.md §6.4: avg, count, max, min, sum). A nil prev denotes "no value
// yet" (the aggregate's identity element).
type AggregateFunc func(prev relquery.Value, args []relquery.Value) (relquery.Value, error)

// StdScope is the fixed standard scope an expression host resolves unbound
// calls against (spec.md §6.4).
type StdScope interface {
	Func(name string) (Func, bool)
	Aggregate(name string) (AggregateFunc, bool)
}

// LambdaValue is the runtime representation of a compiled Lambda: a closure
// over the Env it was created in.
type LambdaValue struct {
	params []string
	body   Node
	env    *Env
}

// Call invokes the lambda with positional arguments.
func (l *LambdaValue) Call(args []relquery.Value) (relquery.Value, error) {
	child := l.env.withLocals(l.params, args)
	return Eval(l.body, child)
}

// Env carries everything a compiled expression needs to evaluate: the
// current tuple, host parameters, the substitution table, mutable
// group-aggregation state slots, the standard scope, and any lambda-bound
// locals introduced by an enclosing Lambda call.
type Env struct {
	Tuple  relquery.Tuple
	Params relquery.Record
	Subs   []relquery.Value
	Group  []relquery.Value
	Scope  StdScope
	Locals map[string]relquery.Value
}

func (e *Env) withLocals(names []string, values []relquery.Value) *Env {
	locals := make(map[string]relquery.Value, len(names))
	for i, n := range names {
		if i < len(values) {
			locals[n] = values[i]
		}
	}
	return &Env{Tuple: e.Tuple, Params: e.Params, Subs: e.Subs, Group: e.Group, Scope: e.Scope, Locals: locals}
}

// Eval evaluates a compiled expression node against env.
func Eval(node Node, env *Env) (relquery.Value, error) {
	switch n := node.(type) {
	case Literal:
		return n.Value, nil
	case Hole:
		if n.Index < 0 || n.Index >= len(env.Subs) {
			return nil, fmt.Errorf("expr: substitution index %d out of range", n.Index)
		}
		return env.Subs[n.Index], nil
	case DollarParam:
		if env.Params == nil {
			return nil, nil
		}
		return env.Params[n.Suffix], nil
	case ReservedIdent:
		return nil, fmt.Errorf("expr: $$%s is not directly readable; call it as a standard-scope function", n.Name)
	case ThisRef:
		return env.Tuple, nil
	case This:
		return nil, fmt.Errorf("expr: unrewritten `this` reached evaluation")
	case Ident:
		if v, ok := env.Locals[n.Name]; ok {
			return v, nil
		}
		if rec, ok := env.Tuple[n.Name]; ok {
			return rec, nil
		}
		return nil, fmt.Errorf("expr: unresolved identifier %q", n.Name)
	case RecordLiteral:
		rec := make(relquery.Record, len(n.Keys))
		for i, k := range n.Keys {
			v, err := Eval(n.Values[i], env)
			if err != nil {
				return nil, err
			}
			rec[k] = v
		}
		return rec, nil
	case FieldAccess:
		obj, err := Eval(n.Object, env)
		if err != nil {
			return nil, err
		}
		return fieldOf(obj, n.Field)
	case IndexAccess:
		obj, err := Eval(n.Object, env)
		if err != nil {
			return nil, err
		}
		idx, err := Eval(n.Index, env)
		if err != nil {
			return nil, err
		}
		return indexOf(obj, idx)
	case Lambda:
		return &LambdaValue{params: n.Params, body: n.Body, env: env}, nil
	case Unary:
		return evalUnary(n, env)
	case *Binary:
		return evalBinary(n, env)
	case Cmp3:
		return evalCmp3(n, env)
	case Call:
		return evalCall(n, env)
	case AggregateCall:
		return nil, fmt.Errorf("expr: unrewritten aggregate call %q reached evaluation", n.Name)
	case GroupInit:
		return evalGroupInit(n, env)
	default:
		return nil, fmt.Errorf("expr: unknown node type %T", node)
	}
}

func fieldOf(obj relquery.Value, field string) (relquery.Value, error) {
	switch o := obj.(type) {
	case nil:
		return nil, nil
	case relquery.Record:
		return o[field], nil
	case map[string]interface{}:
		return o[field], nil
	default:
		return nil, fmt.Errorf("expr: cannot access field %q of %T", field, obj)
	}
}

func indexOf(obj, idx relquery.Value) (relquery.Value, error) {
	switch o := obj.(type) {
	case nil:
		return nil, nil
	case relquery.Sequence:
		i, err := toInt(idx)
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= len(o) {
			return nil, nil
		}
		return o[i], nil
	case []relquery.Value:
		i, err := toInt(idx)
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= len(o) {
			return nil, nil
		}
		return o[i], nil
	case relquery.Record:
		return o[fmt.Sprint(idx)], nil
	default:
		return nil, fmt.Errorf("expr: cannot index %T", obj)
	}
}

func toInt(v relquery.Value) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expr: expected numeric index, got %T", v)
	}
}

func evalUnary(n Unary, env *Env) (relquery.Value, error) {
	v, err := Eval(n.Operand, env)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "!":
		return !truthy(v), nil
	case "-":
		return negate(v)
	default:
		return nil, fmt.Errorf("expr: unknown unary operator %q", n.Op)
	}
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

func negate(v relquery.Value) (relquery.Value, error) {
	switch n := v.(type) {
	case int:
		return -n, nil
	case int64:
		return -n, nil
	case float64:
		return -n, nil
	default:
		return nil, fmt.Errorf("expr: cannot negate %T", v)
	}
}

func evalBinary(n *Binary, env *Env) (relquery.Value, error) {
	switch n.Op {
	case "&&":
		l, err := Eval(n.Left, env)
		if err != nil {
			return nil, err
		}
		if !truthy(l) {
			return false, nil
		}
		r, err := Eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	case "||":
		l, err := Eval(n.Left, env)
		if err != nil {
			return nil, err
		}
		if truthy(l) {
			return true, nil
		}
		r, err := Eval(n.Right, env)
		if err != nil {
			return nil, err
		}
		return truthy(r), nil
	}

	l, err := Eval(n.Left, env)
	if err != nil {
		return nil, err
	}
	r, err := Eval(n.Right, env)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "+":
		return addValues(l, r)
	case "-", "*", "/", "%":
		return arith(n.Op, l, r)
	case "==", "===":
		return relquery.Equal(l, r), nil
	case "!=":
		return !relquery.Equal(l, r), nil
	case ">=":
		return relquery.Cmp(l, r) >= 0, nil
	case ">":
		return relquery.Cmp(l, r) > 0, nil
	case "<=":
		return relquery.Cmp(l, r) <= 0, nil
	case "<":
		return relquery.Cmp(l, r) < 0, nil
	default:
		return nil, fmt.Errorf("expr: unknown binary operator %q", n.Op)
	}
}

func addValues(l, r relquery.Value) (relquery.Value, error) {
	ls, lok := l.(string)
	rs, rok := r.(string)
	if lok || rok {
		if !lok || !rok {
			return nil, fmt.Errorf("expr: cannot concatenate %T with %T", l, r)
		}
		return ls + rs, nil
	}
	return arith("+", l, r)
}

func arith(op string, l, r relquery.Value) (relquery.Value, error) {
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if !lok || !rok {
		return nil, fmt.Errorf("expr: arithmetic on non-numeric values %T, %T", l, r)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		return lf / rf, nil
	case "%":
		return float64(int64(lf) % int64(rf)), nil
	default:
		return nil, fmt.Errorf("expr: unknown arithmetic operator %q", op)
	}
}

func numeric(v relquery.Value) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func evalCmp3(n Cmp3, env *Env) (relquery.Value, error) {
	l, err := Eval(n.Left, env)
	if err != nil {
		return nil, err
	}
	r, err := Eval(n.Right, env)
	if err != nil {
		return nil, err
	}
	c := relquery.Cmp(l, r)
	switch n.Op {
	case "===":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case ">=":
		return c >= 0, nil
	case ">":
		return c > 0, nil
	case "<=":
		return c <= 0, nil
	case "<":
		return c < 0, nil
	default:
		return nil, fmt.Errorf("expr: unknown cmp3 operator %q", n.Op)
	}
}

func evalCall(n Call, env *Env) (relquery.Value, error) {
	if ident, ok := n.Callee.(Ident); ok {
		if fn, ok := env.Scope.Func(ident.Name); ok {
			args, err := evalArgs(n.Args, env)
			if err != nil {
				return nil, err
			}
			return fn(args)
		}
		if v, ok := env.Locals[ident.Name]; ok {
			if lam, ok := v.(*LambdaValue); ok {
				args, err := evalArgs(n.Args, env)
				if err != nil {
					return nil, err
				}
				return lam.Call(args)
			}
		}
		return nil, fmt.Errorf("expr: %q is not a callable name", ident.Name)
	}
	if reserved, ok := n.Callee.(ReservedIdent); ok {
		if fn, ok := env.Scope.Func(reserved.Name); ok {
			args, err := evalArgs(n.Args, env)
			if err != nil {
				return nil, err
			}
			return fn(args)
		}
		return nil, fmt.Errorf("expr: $$%s is not a standard-scope function", reserved.Name)
	}
	callee, err := Eval(n.Callee, env)
	if err != nil {
		return nil, err
	}
	lam, ok := callee.(*LambdaValue)
	if !ok {
		return nil, fmt.Errorf("expr: value of type %T is not callable", callee)
	}
	args, err := evalArgs(n.Args, env)
	if err != nil {
		return nil, err
	}
	return lam.Call(args)
}

func evalArgs(nodes []Node, env *Env) ([]relquery.Value, error) {
	out := make([]relquery.Value, len(nodes))
	for i, a := range nodes {
		v, err := Eval(a, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func evalGroupInit(n GroupInit, env *Env) (relquery.Value, error) {
	agg, ok := env.Scope.Aggregate(n.Name)
	if !ok {
		return nil, fmt.Errorf("expr: %q is not a registered aggregate", n.Name)
	}
	args, err := evalArgs(n.Args, env)
	if err != nil {
		return nil, err
	}
	for n.Slot >= len(env.Group) {
		env.Group = append(env.Group, nil)
	}
	updated, err := agg(env.Group[n.Slot], args)
	if err != nil {
		return nil, err
	}
	env.Group[n.Slot] = updated
	// Aggregates whose running state is richer than their public value
	// (e.g. avg's {sum, n, value}) surface a "value" field; the compiled
	// call reads g[k].value per spec.md §4.1 step 3, so unwrap it here.
	if rec, ok := updated.(relquery.Record); ok {
		if v, has := rec["value"]; has {
			return v, nil
		}
	}
	return updated, nil
}

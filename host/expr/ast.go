package expr

// Node is any expression-AST node. Compiled-expression rewrites (compile
// package) operate directly on this tree, returning a rebuilt node for each
// node they visit — there is no separate path/visitor indirection
// here since the expression AST, unlike the relational tree in plan, is
// small and always owned by exactly one Expression.
type Node interface {
	exprNode()
}

// Ident is a bare identifier: a schema source name, a standard-scope name,
// or a reserved $$ name, resolved by the compiler's identifier pass.
type Ident struct{ Name string }

func (Ident) exprNode() {}

// DollarParam is a single-$-prefixed identifier. The compiler leaves it as
// is; evaluation reads it as a parameter access, Env.Params[Suffix].
type DollarParam struct{ Suffix string }

func (DollarParam) exprNode() {}

// ReservedIdent is a $$-prefixed identifier other than the pre-stitched
// $$subs[i] hole form. Legal only when its Name is one of the reserved
// names {g, subs, this} or a standard-scope name (spec.md §4.1 step 3).
type ReservedIdent struct{ Name string }

func (ReservedIdent) exprNode() {}

// This is the bare `this` identifier, renamed by the compiler to ThisRef.
type This struct{}

func (This) exprNode() {}

// ThisRef is the implicit row identifier $$this, the rewritten form of This.
type ThisRef struct{}

func (ThisRef) exprNode() {}

// Hole is a stitched substitution reference $$subs[i].
type Hole struct{ Index int }

func (Hole) exprNode() {}

// Literal is a constant number, string, or bool.
type Literal struct{ Value interface{} }

func (Literal) exprNode() {}

// RecordLiteral is a `{k: expr, ...}` construction.
type RecordLiteral struct {
	Keys   []string
	Values []Node
}

func (RecordLiteral) exprNode() {}

// FieldAccess is `obj.Field`.
type FieldAccess struct {
	Object Node
	Field  string
}

func (FieldAccess) exprNode() {}

// IndexAccess is `obj[expr]`.
type IndexAccess struct {
	Object Node
	Index  Node
}

func (IndexAccess) exprNode() {}

// Lambda is `(params...) => body` or `param => body`.
type Lambda struct {
	Params []string
	Body   Node
}

func (Lambda) exprNode() {}

// Call is `callee(args...)`.
type Call struct {
	Callee Node
	Args   []Node
}

func (Call) exprNode() {}

// Unary is `!expr` or `-expr`.
type Unary struct {
	Op      string
	Operand Node
}

func (Unary) exprNode() {}

// Binary is any binary operator application, including the comparison
// operators before they are rewritten to Cmp3 by the compiler.
type Binary struct {
	Op          string
	Left, Right Node
	rewritten   bool // set once the cmp-rewrite pass has processed this node, for idempotency
}

func (*Binary) exprNode() {}

// MarkRewritten records that the comparison-operator rewrite pass has
// already transformed this node, so a second compiler pass over the same
// tree is a no-op (spec.md §4.1 step 3: "Rewritten nodes are marked so the
// pass is idempotent").
func (b *Binary) MarkRewritten() { b.rewritten = true }

// Rewritten reports whether MarkRewritten has been called.
func (b *Binary) Rewritten() bool { return b.rewritten }

// Cmp3 is the rewritten form of a comparison operator: cmp(lhs,rhs) <op'> 0.
type Cmp3 struct {
	Left, Right Node
	Op          string // one of === >= > <= <
}

func (Cmp3) exprNode() {}

// AggregateCall is a call to a tagged standard-scope aggregate
// (avg/count/max/min/sum); the compiler rewrites it into a GroupInit during
// the aggregate-extraction pass (spec.md §4.1 step 3).
type AggregateCall struct {
	Name string
	Args []Node
}

func (AggregateCall) exprNode() {}

// GroupInit is the compiled form of an AggregateCall: it updates group-state
// slot Slot via `g[Slot] = aggregate(g[Slot], args...)` and evaluates to the
// resulting g[Slot].value, i.e. the fused form of spec.md §4.1 step 3's
// "g[k] = aggregate(g[k], args…); replace the call with g[k].value" — since
// this host evaluates a tree rather than emitting textual JS, the
// assignment and the read are one node instead of a two-step sequence.
type GroupInit struct {
	Slot int
	Name string
	Args []Node
}

func (GroupInit) exprNode() {}

package plan

import (
	"github.com/relquery/relquery"
	"github.com/relquery/relquery/compile"
	"github.com/relquery/relquery/rangealg"
)

// NamedSource is the relational tree's leaf: a collection exposed under an
// alias. Predicates and KeyRanges are populated only during finalization
// (spec.md §4.4); before that they are nil/empty.
type NamedSource struct {
	ID         *relquery.SourceIdentity
	Name       string
	Data       SourceData
	Predicates []*compile.Expression
	KeyRanges  map[string]rangealg.KeyRange
}

// NewNamedSource allocates a NamedSource with a fresh identity.
func NewNamedSource(name string, data SourceData) *NamedSource {
	return &NamedSource{ID: relquery.NewSourceIdentity(), Name: name, Data: data}
}

func (n *NamedSource) Schema() (relquery.Schema, bool) {
	return relquery.Schema{n.Name: n.ID}, true
}
func (n *NamedSource) Children() []Path      { return nil }
func (n *NamedSource) Accept(v Visitor) Node { return acceptDefault(n, v) }

// JoinBase holds the fields common to InnerJoin/OuterJoin/AntiJoin.
type JoinBase struct {
	Left, Right Node
	Groups      *compile.TermGroups
	Predicates  []*compile.Expression
}

func (j *JoinBase) children() []Path {
	return []Path{
		NewPath(func() Node { return j.Left }, func(n Node) { j.Left = n }),
		NewPath(func() Node { return j.Right }, func(n Node) { j.Right = n }),
	}
}

func (j *JoinBase) unionSchema() (relquery.Schema, bool) {
	ls, lok := j.Left.Schema()
	rs, rok := j.Right.Schema()
	if !lok || !rok {
		return nil, false
	}
	return ls.Merge(rs), true
}

// InnerJoin emits the cross of left and right restricted by its predicates.
type InnerJoin struct{ JoinBase }

func (n *InnerJoin) Schema() (relquery.Schema, bool) { return n.unionSchema() }
func (n *InnerJoin) Children() []Path                { return n.children() }
func (n *InnerJoin) Accept(v Visitor) Node           { return acceptDefault(n, v) }

// OuterJoin is a left outer join: an unmatched left tuple is still emitted,
// paired with the otherwise sentinel for every right source name.
type OuterJoin struct{ JoinBase }

func (n *OuterJoin) Schema() (relquery.Schema, bool) { return n.unionSchema() }
func (n *OuterJoin) Children() []Path                { return n.children() }
func (n *OuterJoin) Accept(v Visitor) Node           { return acceptDefault(n, v) }

// AntiJoin emits a left tuple (paired with the otherwise sentinel) iff the
// right side has no match; its consumer-visible schema equals left's.
type AntiJoin struct{ JoinBase }

func (n *AntiJoin) Schema() (relquery.Schema, bool) { return n.Left.Schema() }
func (n *AntiJoin) Children() []Path                { return n.children() }
func (n *AntiJoin) Accept(v Visitor) Node           { return acceptDefault(n, v) }

// Where filters its child by a predicate. Finalization either pushes its
// term_groups down (when Child has a schema, removing this node) or
// collapses them into a single combined Predicate evaluated here (when
// Child hides its schema).
type Where struct {
	Child     Node
	Groups    *compile.TermGroups
	Predicate *compile.Expression
}

func (n *Where) Schema() (relquery.Schema, bool) { return n.Child.Schema() }
func (n *Where) Children() []Path {
	return []Path{NewPath(func() Node { return n.Child }, func(c Node) { n.Child = c })}
}
func (n *Where) Accept(v Visitor) Node { return acceptDefault(n, v) }

// GroupBy folds Child's stream into one tuple per distinct grouper key,
// using Selector as the per-input fold step (spec.md §4.7).
type GroupBy struct {
	Child    Node
	Selector *compile.Expression
	Grouper  *compile.Expression
}

func (n *GroupBy) Schema() (relquery.Schema, bool) { return nil, false }
func (n *GroupBy) Children() []Path {
	return []Path{NewPath(func() Node { return n.Child }, func(c Node) { n.Child = c })}
}
func (n *GroupBy) Accept(v Visitor) Node { return acceptDefault(n, v) }

// OrderingTerm is one entry of an OrderBy's ordering list: a comparison
// expression, its direction (+1 ascending, -1 descending), and its null
// placement (+1 nulls-last, -1 nulls-first — spec.md §4.4/§4.7).
type OrderingTerm struct {
	Expr  *compile.Expression
	Order int
	Nulls int
}

// OrderBy imposes a total order over Child's stream, materializing it
// first (spec.md §4.7).
type OrderBy struct {
	Child    Node
	Ordering []OrderingTerm
}

func (n *OrderBy) Schema() (relquery.Schema, bool) { return n.Child.Schema() }
func (n *OrderBy) Children() []Path {
	return []Path{NewPath(func() Node { return n.Child }, func(c Node) { n.Child = c })}
}
func (n *OrderBy) Accept(v Visitor) Node { return acceptDefault(n, v) }

// Select maps Child's stream through Selector, hiding schema from parents
// (spec.md §4.4).
type Select struct {
	Child    Node
	Selector *compile.Expression
}

func (n *Select) Schema() (relquery.Schema, bool) { return nil, false }
func (n *Select) Children() []Path {
	return []Path{NewPath(func() Node { return n.Child }, func(c Node) { n.Child = c })}
}
func (n *Select) Accept(v Visitor) Node { return acceptDefault(n, v) }

// SetKind distinguishes SetOperation's two variants.
type SetKind int

const (
	Union SetKind = iota
	UnionAll
)

// SetOperation combines two union-compatible legs, deduplicating
// structurally for Union and passing everything through for UnionAll.
type SetOperation struct {
	Left, Right Node
	Kind        SetKind
}

func (n *SetOperation) Schema() (relquery.Schema, bool) { return n.Left.Schema() }
func (n *SetOperation) Children() []Path {
	return []Path{
		NewPath(func() Node { return n.Left }, func(c Node) { n.Left = c }),
		NewPath(func() Node { return n.Right }, func(c Node) { n.Right = c }),
	}
}
func (n *SetOperation) Accept(v Visitor) Node { return acceptDefault(n, v) }

// CompositeUnion concatenates left and right without deduplication, used to
// assemble a full outer join from OuterJoin(L,R) and AntiJoin(R,L) (spec.md
// §4.4/§4.5). Its legs bind disjoint-but-overlapping name sets (one side's
// otherwise sentinel covers the other's names), so no single schema is
// exposed to a parent.
type CompositeUnion struct {
	Left, Right Node
}

func (n *CompositeUnion) Schema() (relquery.Schema, bool) { return nil, false }
func (n *CompositeUnion) Children() []Path {
	return []Path{
		NewPath(func() Node { return n.Left }, func(c Node) { n.Left = c }),
		NewPath(func() Node { return n.Right }, func(c Node) { n.Right = c }),
	}
}
func (n *CompositeUnion) Accept(v Visitor) Node { return acceptDefault(n, v) }

// Write materializes Child's tuples and persists them through Target,
// hiding schema from parents (spec.md §4.4/§4.7).
type Write struct {
	Child   Node
	Target  WriteTarget
	Options WriteOptions
}

func (n *Write) Schema() (relquery.Schema, bool) { return nil, false }
func (n *Write) Children() []Path {
	return []Path{NewPath(func() Node { return n.Child }, func(c Node) { n.Child = c })}
}
func (n *Write) Accept(v Visitor) Node { return acceptDefault(n, v) }

// Memoize replays Child's stream to every consumer within one execution
// instead of re-executing it (spec.md §4.4/§4.7).
type Memoize struct {
	Child Node
}

func (n *Memoize) Schema() (relquery.Schema, bool) { return n.Child.Schema() }
func (n *Memoize) Children() []Path {
	return []Path{NewPath(func() Node { return n.Child }, func(c Node) { n.Child = c })}
}
func (n *Memoize) Accept(v Visitor) Node { return acceptDefault(n, v) }

// TxnMode is a TransactionEnvelope's access mode.
type TxnMode int

const (
	ReadOnly TxnMode = iota
	ReadWrite
)

// TransactionEnvelope wraps a planned subtree that touches a persistent
// store, added only by finalization's prepareTransaction sub-pass (spec.md
// §4.6 sub-pass 2). StoreHandle is the store's comparable identity
// (PersistentSourceData.StoreHandle()).
type TransactionEnvelope struct {
	Child       Node
	StoreHandle interface{}
	SourceNames []string
	Mode        TxnMode
}

func (n *TransactionEnvelope) Schema() (relquery.Schema, bool) { return n.Child.Schema() }
func (n *TransactionEnvelope) Children() []Path {
	return []Path{NewPath(func() Node { return n.Child }, func(c Node) { n.Child = c })}
}
func (n *TransactionEnvelope) Accept(v Visitor) Node { return acceptDefault(n, v) }

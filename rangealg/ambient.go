package rangealg

import "context"

// ambientKey is the unexported context key under which execNamedSource
// installs a Context bound to the current tuple/params, so a store-backed
// plan.SourceData.Scan — which only receives a plain context.Context, not
// the richer exec.Ctx — can still Prepare a RangeExpression's bound
// expressions. Mirrors txn.NewContext/txn.FromContext's use of the standard
// library's own request-scoped-value idiom.
type ambientKey struct{}

// NewContext returns a context carrying c as the ambient range-expression
// evaluator.
func NewContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ambientKey{}, c)
}

// FromContext recovers the ambient Context installed by NewContext, if any.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(ambientKey{}).(Context)
	return c, ok
}

package txn

import "context"

// ambientKey is the unexported context key under which execTransactionEnvelope
// installs the running query's transaction handle, so a store-backed
// plan.SourceData/plan.WriteTarget — which only receives a plain
// context.Context, not exec.Ctx — can recover it (spec.md §4.7: every
// NamedSource scan and Write put runs "inside" whichever TransactionEnvelope
// encloses it). Grounded on the standard library's own request-scoped-value
// idiom (net/http, context.WithValue), not a pack dependency, since no pack
// member needs to carry ambient transaction state through an interface
// boundary it doesn't own.
type ambientKey struct{}

// NewContext returns a context carrying h as the ambient transaction.
func NewContext(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, ambientKey{}, h)
}

// FromContext recovers the ambient transaction installed by NewContext, if
// any.
func FromContext(ctx context.Context) (Handle, bool) {
	h, ok := ctx.Value(ambientKey{}).(Handle)
	return h, ok
}

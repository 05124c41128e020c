package auth

import (
	"context"

	"certledger.org/internal/ledger"
)

type callerContextKey struct{}

// ContextWithCaller attaches the authenticated caller to the context.
func ContextWithCaller(ctx context.Context, caller ledger.Address) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext extracts the authenticated caller from the context.
func CallerFromContext(ctx context.Context) (ledger.Address, bool) {
	if ctx == nil {
		return ledger.Address{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(ledger.Address)
	if !ok || v.IsZero() {
		return ledger.Address{}, false
	}
	return v, true
}

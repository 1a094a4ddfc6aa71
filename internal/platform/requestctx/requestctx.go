// Package requestctx carries per-request identity through contexts.
package requestctx

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type requestIDContextKey struct{}

type callerContextKey struct{}

// WithRequestID stores a request identifier in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request identifier stored in context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDContextKey{}).(string)
	return value
}

// WithCaller stores the account a request acts for.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the stored caller and whether one was set.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	if ctx == nil {
		return common.Address{}, false
	}
	value, ok := ctx.Value(callerContextKey{}).(common.Address)
	return value, ok
}

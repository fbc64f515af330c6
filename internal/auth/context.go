// ABOUTME: Caller identity carried through request handlers
// ABOUTME: Provides WithCaller/CallerFromContext for propagating the caller via context

package auth

import (
	"context"

	"github.com/servequery/servequery-agent/internal/toolkit"
)

// callerContextKey is the key type for storing the caller in context.Context.
type callerContextKey struct{}

// WithCaller returns a new context with the caller attached.
func WithCaller(ctx context.Context, caller *toolkit.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext retrieves the caller from the context, returning nil if not present.
func CallerFromContext(ctx context.Context) *toolkit.Caller {
	caller, _ := ctx.Value(callerContextKey{}).(*toolkit.Caller)
	return caller
}

// MustCallerFromContext retrieves the caller from the context, panicking if not present.
func MustCallerFromContext(ctx context.Context) *toolkit.Caller {
	caller := CallerFromContext(ctx)
	if caller == nil {
		panic("auth: caller not found in context")
	}
	return caller
}

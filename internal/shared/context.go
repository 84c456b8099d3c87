package shared

import "context"

type callerContextKey struct{}

// Caller identifies the API client behind a request.
type Caller struct {
	// KeyID is a non-secret label for the bearer key that authenticated the request.
	KeyID  string
	Origin string
}

// ContextWithCaller stores the caller in context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext extracts the caller from context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	return caller, ok
}

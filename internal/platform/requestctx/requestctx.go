// Package requestctx carries the authenticated device identity through
// request contexts.
package requestctx

import "context"

type uidContextKey struct{}

// WithUID stores the authenticated device uid in ctx.
func WithUID(ctx context.Context, uid string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, uidContextKey{}, uid)
}

// UIDFromContext returns the uid stored in ctx, or "" for anonymous
// requests.
func UIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	uid, _ := ctx.Value(uidContextKey{}).(string)
	return uid
}

package authorize

import (
	"context"
)

type contextKey int

const principalKey contextKey = iota

// WithPrincipal attaches the authenticated principal to the request
// context for downstream resource handlers.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal attached by the authorization chain,
// if any. The second return is false for anonymous requests.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok
}

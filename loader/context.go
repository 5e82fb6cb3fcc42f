package loader

import "context"

type ctxKey struct{}

// WithLoaders returns a context carrying the scope l.
func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the scope carried by ctx, or nil.
func FromContext(ctx context.Context) *Loaders {
	l, _ := ctx.Value(ctxKey{}).(*Loaders)
	return l
}

// Scope starts a new request scope and attaches it to ctx.
func Scope(ctx context.Context, src Source, cfg Config) (context.Context, *Loaders) {
	l := New(src, cfg)
	return WithLoaders(ctx, l), l
}

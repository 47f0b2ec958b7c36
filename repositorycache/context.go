package repositorycache

import (
	"context"

	"github.com/goliatone/go-cache-router/cache"
)

type strategyContextKey struct{}

type bypassContextKey struct{}

// WithCacheStrategy makes cached reads made with ctx use strategy instead of
// the repository default.
func WithCacheStrategy(ctx context.Context, strategy cache.StrategyID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if strategy == "" {
		return ctx
	}
	return context.WithValue(ctx, strategyContextKey{}, strategy)
}

// WithoutCache makes reads made with ctx go straight to the base repository.
// Nothing is read from or written to the cache.
func WithoutCache(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, bypassContextKey{}, true)
}

func strategyFromContext(ctx context.Context, fallback cache.StrategyID) cache.StrategyID {
	if ctx == nil {
		return fallback
	}
	if s, ok := ctx.Value(strategyContextKey{}).(cache.StrategyID); ok && s != "" {
		return s
	}
	return fallback
}

func bypassed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(bypassContextKey{}).(bool)
	return v
}

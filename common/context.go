package common

import (
	"context"
)

type ctxKey int

const (
	ctxKeyBrowserOptions ctxKey = iota
	ctxKeyHooks
	ctxKeyTraceID
)

// WithHooks attaches action hooks to ctx.
func WithHooks(ctx context.Context, hooks *Hooks) context.Context {
	return context.WithValue(ctx, ctxKeyHooks, hooks)
}

// GetHooks returns the hooks attached to ctx.
func GetHooks(ctx context.Context) *Hooks {
	v, _ := ctx.Value(ctxKeyHooks).(*Hooks)
	return v
}

// WithTraceID adds a unique trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKeyTraceID, traceID)
}

// GetTraceID returns the unique trace ID attached to the context.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyTraceID).(string)
	return v
}

// WithBrowserOptions attaches the browser options to ctx.
func WithBrowserOptions(ctx context.Context, opts *BrowserOptions) context.Context {
	return context.WithValue(ctx, ctxKeyBrowserOptions, opts)
}

// GetBrowserOptions returns the browser options attached to ctx.
func GetBrowserOptions(ctx context.Context) *BrowserOptions {
	v, _ := ctx.Value(ctxKeyBrowserOptions).(*BrowserOptions)
	return v
}

// Package trace provides tracing instrumentation for pages driven through a
// host: one live span per navigated target, with API calls nested under it.
package trace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/liuxd6825/tabpilot/host"
)

const tracerName = "tabpilot"

// liveSpan is the active navigation span of a target. Navigations are
// reported asynchronously by the host, so API calls find the span of their
// target here instead of through their context.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates spans for navigations and API calls, correlated per
// target.
type Tracer struct {
	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.RWMutex
	liveSpans   map[host.TargetID]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider. A nil
// provider creates a tracer that records nothing.
func NewTracer(tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption) *Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Tracer{
		Tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[host.TargetID]*liveSpan),
	}
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// TraceAPICall starts a span under the live span of target, or under ctx if
// the target hasn't navigated yet. The caller ends the span.
func (t *Tracer) TraceAPICall(
	ctx context.Context, target host.TargetID, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.RLock()
	ls := t.liveSpans[target]
	t.liveSpansMu.RUnlock()

	if ls == nil {
		return t.Start(ctx, spanName, opts...)
	}
	return t.Start(ls.ctx, spanName, opts...)
}

// TraceNavigation records a new live span for target, ending the previous
// one. The returned span stays open until the next navigation or End.
func (t *Tracer) TraceNavigation(
	ctx context.Context, target host.TargetID, url string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[target]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}

	opts = append(opts, trace.WithAttributes(attribute.String("navigation.url", url)))
	ls.ctx, ls.span = t.Start(ctx, "navigation", opts...)
	t.liveSpans[target] = ls

	return ls.ctx, ls.span
}

// End ends the live span of target, if any.
func (t *Tracer) End(target host.TargetID) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	if ls := t.liveSpans[target]; ls != nil {
		ls.span.End()
		delete(t.liveSpans, target)
	}
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}

	return meta
}

// Package tracing holds the process tracer and the helpers that carry span
// context across Kafka messages and into logs. Every helper is a no-op until
// SetTracer is called.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const traceParentKey = "traceparent"

var (
	tracer     trace.Tracer
	propagator = propagation.TraceContext{}
)

func SetTracer(t trace.Tracer) { tracer = t }

// StartSpan opens a child span. With no tracer set it returns ctx unchanged
// and whatever span ctx already holds.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks span failed with err; a nil err is ignored.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func activeSpan(ctx context.Context) (trace.SpanContext, bool) {
	if tracer == nil {
		return trace.SpanContext{}, false
	}
	sc := trace.SpanContextFromContext(ctx)
	return sc, sc.IsValid()
}

// GetTraceID is empty when ctx holds no valid span.
func GetTraceID(ctx context.Context) string {
	sc, ok := activeSpan(ctx)
	if !ok {
		return ""
	}
	return sc.TraceID().String()
}

// GetTraceParent renders the W3C traceparent for the span on ctx.
func GetTraceParent(ctx context.Context) string {
	if _, ok := activeSpan(ctx); !ok {
		return ""
	}
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	return carrier.Get(traceParentKey)
}

// ExtractTraceParent parents ctx on the remote span named by traceParent.
func ExtractTraceParent(ctx context.Context, traceParent string) context.Context {
	if traceParent == "" {
		return ctx
	}
	return propagator.Extract(ctx, propagation.MapCarrier{traceParentKey: traceParent})
}

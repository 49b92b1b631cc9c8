// Package tracing wires OpenTelemetry into textflow: a configurable provider,
// a JSONL file exporter, span naming conventions, and HTTP middleware that
// correlates requests with a trace ID.
package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// TraceIDFromContext returns the trace ID stored in ctx, falling back to the
// active span's trace ID. Returns "" when neither is present.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		return v
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// ContextWithTraceID returns a new context carrying traceID.
// If traceID is empty, ctx is returned unchanged.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GenerateTraceID creates a random 32-character hex ID in W3C trace-id format.
// Used when tracing is disabled and spans carry no trace ID.
func GenerateTraceID() string {
	b := make([]byte, 16)
	// crypto/rand.Read never returns an error on supported platforms
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

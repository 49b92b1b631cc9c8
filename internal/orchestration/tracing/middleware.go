package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceHeader carries the request's trace ID back to the caller.
const TraceHeader = "X-Trace-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers work through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware wraps next with a server span per request and stores the trace
// ID in the request context and the X-Trace-Id response header.
// A nil tracer still assigns trace IDs but records no spans.
func Middleware(tracer trace.Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var span trace.Span
			if tracer != nil {
				ctx, span = tracer.Start(ctx, SpanPrefixHTTP+r.Method,
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(attribute.String(AttrHTTPMethod, r.Method)),
				)
				defer span.End()
			}

			traceID := TraceIDFromContext(ctx)
			if traceID == "" {
				traceID = GenerateTraceID()
			}
			ctx = ContextWithTraceID(ctx, traceID)
			w.Header().Set(TraceHeader, traceID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(rec, r)

			if span != nil {
				// r.Pattern is set by ServeMux once a route matched.
				if r.Pattern != "" {
					span.SetName(SpanPrefixHTTP + r.Pattern)
					span.SetAttributes(attribute.String(AttrHTTPRoute, r.Pattern))
				}
				span.SetAttributes(attribute.Int(AttrHTTPStatus, rec.status))
				if rec.status >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(rec.status))
				}
			}
		})
	}
}

package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// === Provider ===

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.False(t, cfg.Enabled, "tracing should be disabled by default")
	require.Equal(t, ExporterFile, cfg.Exporter)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.Equal(t, DefaultServiceName, cfg.ServiceName)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	require.Error(t, Config{Enabled: true, Exporter: ExporterFile}.Validate())
	require.Error(t, Config{Enabled: true, Exporter: "jaeger"}.Validate())
	require.Error(t, Config{Enabled: true, Exporter: ExporterNone, SampleRate: 2}.Validate())
	require.NoError(t, Config{Enabled: true, Exporter: ExporterStdout}.Validate())
}

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: false})
	require.NoError(t, err)
	require.False(t, provider.Enabled())

	_, span := provider.Tracer().Start(context.Background(), "noop")
	span.End()
	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_FileExporterWritesSpans(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces", "traces.jsonl")

	provider, err := NewProvider(Config{
		Enabled:  true,
		Exporter: ExporterFile,
		FilePath: tracePath,
	})
	require.NoError(t, err)
	require.True(t, provider.Enabled())

	_, span := provider.Tracer().Start(context.Background(), SpanPrefixTask+"summary",
		trace.WithAttributes(attribute.String(AttrInstanceID, "text-analysis-1")))
	span.End()
	require.NoError(t, provider.Shutdown(context.Background()))

	records := readRecords(t, tracePath)
	require.Len(t, records, 1)
	require.Equal(t, "task.summary", records[0].Name)
	require.Equal(t, "text-analysis-1", records[0].InstanceID)
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, Exporter: ExporterFile})
	require.ErrorContains(t, err, "file_path")
}

func TestNewProvider_NoExporterStillTraces(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: true, Exporter: ExporterNone})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx, span := provider.Tracer().Start(context.Background(), "correlate")
	defer span.End()
	require.Len(t, TraceIDFromContext(ctx), 32)
}

// === Exporter ===

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []SpanRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec SpanRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func TestFileExporter_WritesJSONL(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "traces.jsonl")
	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	start := time.Now()
	stubs := tracetest.SpanStubs{
		{
			Name:      "instance.decide",
			SpanKind:  trace.SpanKindInternal,
			StartTime: start,
			EndTime:   start.Add(150 * time.Millisecond),
			Status:    sdktrace.Status{Code: codes.Error, Description: "boom"},
			Attributes: []attribute.KeyValue{
				attribute.String(AttrInstanceID, "abc"),
				attribute.String(AttrNamespace, "team-a"),
				attribute.String(AttrTaskKind, "summary"),
				attribute.String(AttrInstanceState, "RUNNING"),
			},
			Events: []sdktrace.Event{{Name: EventTimerStarted, Time: start}},
		},
		{Name: "http.GET", SpanKind: trace.SpanKindServer, StartTime: start, EndTime: start},
	}
	require.NoError(t, exporter.ExportSpans(context.Background(), stubs.Snapshots()))
	require.NoError(t, exporter.ExportSpans(context.Background(), nil))
	require.NoError(t, exporter.Shutdown(context.Background()))

	records := readRecords(t, tracePath)
	require.Len(t, records, 2)

	first := records[0]
	require.Equal(t, "abc", first.InstanceID)
	require.Equal(t, "team-a", first.Namespace)
	require.Equal(t, "summary", first.Task)
	require.NotContains(t, first.Attributes, AttrInstanceID)
	require.Equal(t, "INTERNAL", first.Kind)
	require.Equal(t, "ERROR", first.Status)
	require.Equal(t, "boom", first.StatusMsg)
	require.InDelta(t, 150.0, first.DurationMs, 0.001)
	require.Equal(t, "RUNNING", first.Attributes[AttrInstanceState])
	require.Len(t, first.Events, 1)

	require.Empty(t, records[1].InstanceID)
	require.Nil(t, records[1].Attributes)
	require.Equal(t, "SERVER", records[1].Kind)
	require.Equal(t, "UNSET", records[1].Status)
}

func TestFileExporter_ShutdownIsIdempotent(t *testing.T) {
	exporter, err := NewFileExporter(filepath.Join(t.TempDir(), "t.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.Shutdown(context.Background()))

	stubs := tracetest.SpanStubs{{Name: "late"}}
	require.Error(t, exporter.ExportSpans(context.Background(), stubs.Snapshots()))
}

// === Context ===

func TestContextWithTraceID(t *testing.T) {
	ctx := context.Background()
	require.Empty(t, TraceIDFromContext(ctx))
	require.Equal(t, ctx, ContextWithTraceID(ctx, ""))

	ctx = ContextWithTraceID(ctx, "abc123")
	require.Equal(t, "abc123", TraceIDFromContext(ctx))
}

func TestGenerateTraceID(t *testing.T) {
	a, b := GenerateTraceID(), GenerateTraceID()
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)
}

// === Middleware ===

func TestMiddleware_RecordsServerSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var seenTraceID string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/{id}", func(w http.ResponseWriter, r *http.Request) {
		seenTraceID = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := httptest.NewRecorder()
	Middleware(tp.Tracer("test"))(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/abc", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Len(t, seenTraceID, 32)
	require.Equal(t, seenTraceID, rec.Header().Get(TraceHeader))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "http.GET /status/{id}", spans[0].Name)
	require.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestMiddleware_NilTracerStillAssignsTraceID(t *testing.T) {
	handler := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, TraceIDFromContext(r.Context()))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Len(t, rec.Header().Get(TraceHeader), 32)
}

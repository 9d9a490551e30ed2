package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global provider for
// the duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestWithSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := SessionID(ctx); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	if got := WithSession(ctx, ""); got != ctx {
		t.Error("WithSession with an empty id should return ctx unchanged")
	}

	ctx = WithSession(ctx, "20261018-101500-ab12")
	if got := SessionID(ctx); got != "20261018-101500-ab12" {
		t.Errorf("SessionID = %q", got)
	}
	inner := WithSession(ctx, "next")
	if SessionID(inner) != "next" || SessionID(ctx) != "20261018-101500-ab12" {
		t.Error("nested WithSession should shadow only the derived context")
	}
}

func TestStartSpan_RecordsSession(t *testing.T) {
	exp := useTracer(t)

	ctx := WithSession(context.Background(), "run-1")
	ctx, span := StartSpan(ctx, "translation.translate")
	if len(TraceID(ctx)) != 32 {
		t.Errorf("TraceID = %q, want 32 hex chars", TraceID(ctx))
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "translation.translate" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	found := false
	for _, a := range spans[0].Attributes {
		if a.Key == AttrSessionID && a.Value.AsString() == "run-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v missing %s", spans[0].Attributes, AttrSessionID)
	}
}

func TestStartSpan_WithoutSession(t *testing.T) {
	exp := useTracer(t)

	_, span := StartSpan(context.Background(), "stt.transcribe")
	span.End()

	for _, a := range exp.GetSpans()[0].Attributes {
		if a.Key == AttrSessionID {
			t.Errorf("unexpected %s attribute outside a run", AttrSessionID)
		}
	}
}

func TestTraceID_Unique(t *testing.T) {
	useTracer(t)

	seen := make(map[string]struct{}, 50)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "unique")
		id := TraceID(ctx)
		span.End()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate trace id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	tests := []struct {
		name    string
		ctx     func() context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background,
			notWant: []string{"session_id", "trace_id"},
		},
		{
			name: "session only",
			ctx: func() context.Context {
				return WithSession(context.Background(), "run-7")
			},
			want:    []string{"session_id=run-7"},
			notWant: []string{"trace_id"},
		},
		{
			name: "session and span",
			ctx: func() context.Context {
				ctx, span := StartSpan(WithSession(context.Background(), "run-8"), "op")
				span.End()
				return ctx
			},
			want: []string{"session_id=run-8", "trace_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tt.ctx()).Info("translation: finished")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}

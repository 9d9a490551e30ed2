package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/lingoxa"

// Span attributes shared by the pipeline stages.
const (
	AttrSessionID  = attribute.Key("lingoxa.session_id")
	AttrSentenceID = attribute.Key("lingoxa.sentence_id")
)

type sessionKey struct{}

// WithSession returns a copy of ctx carrying the id of a pipeline run.
// Spans started with [StartSpan] and loggers from [Logger] pick it up.
func WithSession(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the pipeline run id carried by ctx, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// StartSpan starts a span on the globally registered tracer provider. The
// run id carried by ctx is recorded as [AttrSessionID]. The caller must end
// the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := SessionID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(AttrSessionID.String(id)))
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// TraceID returns the hex trace id of the span in ctx, or "" without one.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with the run id and trace id of ctx
// attached as session_id and trace_id. Missing values are left out.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	if tid := TraceID(ctx); tid != "" {
		l = l.With(slog.String("trace_id", tid))
	}
	return l
}

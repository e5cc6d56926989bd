package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Log attribute keys added by TracingHandler.
const (
	LogKeyTraceID  = "trace_id"
	LogKeySpanID   = "span_id"
	LogKeyRevision = "revision"

	logKeyService = "service"
	logKeyEnv     = "env"
	logKeyMode    = "mode"
)

type revisionKey struct{}

// WithRevision tags ctx with the revision being processed. Records logged
// through a TracingHandler under ctx carry it.
func WithRevision(ctx context.Context, revision string) context.Context {
	return context.WithValue(ctx, revisionKey{}, revision)
}

// RevisionFrom returns the revision set by WithRevision, or "".
func RevisionFrom(ctx context.Context) string {
	rev, _ := ctx.Value(revisionKey{}).(string)

	return rev
}

// TracingHandler decorates records with the active span and revision.
// Service metadata sits on the inner handler so groups never nest it.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps inner with service, env and mode attributes.
func NewTracingHandler(inner slog.Handler, service, env string, mode AppMode) *TracingHandler {
	attrs := []slog.Attr{slog.String(logKeyService, service), slog.String(logKeyMode, string(mode))}
	if env != "" {
		attrs = append(attrs, slog.String(logKeyEnv, env))
	}

	return &TracingHandler{inner: inner.WithAttrs(attrs)}
}

// Enabled implements slog.Handler.
func (h *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(LogKeyTraceID, sc.TraceID().String()),
			slog.String(LogKeySpanID, sc.SpanID().String()),
		)
	}

	if rev := RevisionFrom(ctx); rev != "" {
		record.AddAttrs(slog.String(LogKeyRevision, rev))
	}

	if err := h.inner.Handle(ctx, record); err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (h *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: h.inner.WithGroup(name)}
}

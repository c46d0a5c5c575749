package telemetry

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agumabanks/baraka-gateway/internal/gateway"
)

// Sinks implements both gateway.MetricsSink and gateway.LogSink over
// the structured logger and otel span events.
type Sinks struct {
	logger *slog.Logger
	tracer trace.Tracer
}

var (
	_ gateway.MetricsSink = (*Sinks)(nil)
	_ gateway.LogSink     = (*Sinks)(nil)
)

// NewSinks creates the default sink pair.
func NewSinks(logger *slog.Logger) *Sinks {
	return &Sinks{
		logger: logger,
		tracer: otel.Tracer("baraka-gateway/pipeline"),
	}
}

func (s *Sinks) RecordStart(ctx *gateway.Context) {
	s.logger.Debug("pipeline started",
		slog.String("request_id", ctx.RequestID),
		slog.String("method", ctx.Method),
		slog.String("path", ctx.Path))
}

func (s *Sinks) RecordSuccess(ctx *gateway.Context, duration time.Duration) {
	s.logger.Info("pipeline completed",
		slog.String("request_id", ctx.RequestID),
		slog.String("method", ctx.Method),
		slog.String("path", ctx.Path),
		slog.String("identifier", ctx.Identifier()),
		slog.Duration("duration", duration))
}

func (s *Sinks) RecordError(ctx *gateway.Context, duration time.Duration, env *gateway.Envelope) {
	s.logger.Warn("pipeline failed",
		slog.String("request_id", ctx.RequestID),
		slog.String("method", ctx.Method),
		slog.String("path", ctx.Path),
		slog.String("identifier", ctx.Identifier()),
		slog.String("code", env.Code),
		slog.Int("status", env.Status()),
		slog.Duration("duration", duration))
}

func (s *Sinks) LogRequest(ctx *gateway.Context) {
	s.logger.Debug("routing request",
		slog.String("request_id", ctx.RequestID),
		slog.String("client_ip", ctx.ClientIP),
		slog.String("method", ctx.Method),
		slog.String("path", ctx.Path))
}

func (s *Sinks) LogResponse(ctx *gateway.Context, status int, duration time.Duration) {
	s.logger.Debug("upstream response",
		slog.String("request_id", ctx.RequestID),
		slog.Int("status", status),
		slog.Duration("duration", duration))
}

func (s *Sinks) LogError(ctx *gateway.Context, env *gateway.Envelope) {
	s.logger.Error("request failed",
		slog.String("request_id", ctx.RequestID),
		slog.String("code", env.Code),
		slog.String("message", env.Message))
}

// SpanError annotates the current span with the envelope, keeping the
// trace and the error response correlated.
func SpanError(span trace.Span, env *gateway.Envelope) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent("gateway.error", trace.WithAttributes(
		attribute.String("code", env.Code),
		attribute.Int("status", env.Status()),
		attribute.String("request_id", env.RequestID),
	))
}

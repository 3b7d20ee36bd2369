// Package logger wraps zerolog with trace-aware contextual logging.
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init sets the service name on the global logger. Call once at startup.
func Init(serviceName string) {
	base = base.With().Str("service", serviceName).Logger()
}

// L returns the base logger.
func L() *zerolog.Logger {
	return &base
}

// Ctx returns a logger enriched with the trace and span ids of the active
// span in ctx, so log lines can be correlated with traces.
func Ctx(ctx context.Context) *zerolog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", span.SpanContext().TraceID().String()).
		Str("span_id", span.SpanContext().SpanID().String()).
		Logger()
	return &l
}

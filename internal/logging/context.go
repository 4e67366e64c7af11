package logging

import (
	"context"
	"log/slog"

	"taxonmatch/internal/services"
)

// Structured keys shared by every component.
const (
	FieldComponent     = "component"
	FieldStage         = "stage"
	FieldRunID         = "run_id"
	FieldCorrelationID = "correlation_id"
	FieldEventType     = "event_type"
	FieldErrorHint     = "error_hint"
	FieldImpact        = "impact"
	FieldDecisionType  = "decision_type"
)

var contextFields = []struct {
	key  string
	from func(context.Context) (string, bool)
}{
	{FieldRunID, services.RunIDFromContext},
	{FieldStage, services.StageFromContext},
	{FieldCorrelationID, services.RequestIDFromContext},
}

// ContextFields returns the run, stage and request identifiers carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	for _, f := range contextFields {
		if v, ok := f.from(ctx); ok {
			attrs = append(attrs, slog.String(f.key, v))
		}
	}
	return attrs
}

// WithContext returns logger tagged with ContextFields(ctx). A nil logger
// yields a no-op logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if attrs := ContextFields(ctx); len(attrs) > 0 {
		return logger.With(Args(attrs...)...)
	}
	return logger
}

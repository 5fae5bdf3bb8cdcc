package logging

import (
	"context"
	"log/slog"
)

type correlationKey struct{}

// WithCorrelationID stores the request correlation id on ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// FromContext decorates logger with the request's correlation id when present.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return logger.With(slog.String("correlation_id", id))
	}
	return logger
}

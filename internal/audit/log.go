package audit

import (
	"context"
	"log/slog"
	"strings"

	"hmsauth.org/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogSink writes authentication events as structured audit records.
type LogSink struct {
	logger *slog.Logger
}

var _ auth.EventSink = (*LogSink)(nil)

// NewLogSink returns a sink writing to logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit writes one record per event. Failures are logged at warn level.
func (s *LogSink) Emit(ctx context.Context, ev auth.Event) {
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", ev.Type),
		slog.String("outcome", ev.Outcome),
		slog.Time("occurred_at", ev.OccurredAt),
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	if ev.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", ev.AccountID))
	}
	if ev.Email != "" {
		attrs = append(attrs, slog.String("email", ev.Email))
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, slog.String("request_id", rid))
	}
	if len(ev.Fields) > 0 {
		fields := make([]any, 0, len(ev.Fields)*2)
		for k, v := range ev.Fields {
			fields = append(fields, k, v)
		}
		attrs = append(attrs, slog.Group("fields", fields...))
	}

	level := slog.LevelInfo
	if ev.Outcome == auth.OutcomeFailure {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "audit event", attrs...)
}

// Multi fans an event out to every sink in order.
type Multi []auth.EventSink

func (m Multi) Emit(ctx context.Context, ev auth.Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, ev)
		}
	}
}

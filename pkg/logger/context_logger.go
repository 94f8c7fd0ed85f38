package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Field names carried on a request context.
const (
	RequestIDField = "request_id"
	TraceIDField   = "trace_id"
	DeviceIDField  = "device_id"
	SessionIDField = "session_id"
)

type fieldsKey struct{}

// WithField returns a copy of ctx that adds name=value to every logger
// derived from it. Later values for the same name win.
func WithField(ctx context.Context, name, value string) context.Context {
	if value == "" {
		return ctx
	}
	prev := Fields(ctx)
	fields := make([]zap.Field, 0, len(prev)+1)
	for _, f := range prev {
		if f.Key != name {
			fields = append(fields, f)
		}
	}
	fields = append(fields, zap.String(name, value))
	return context.WithValue(ctx, fieldsKey{}, fields)
}

// Fields returns the logging fields stored on ctx.
func Fields(ctx context.Context) []zap.Field {
	fields, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	return fields
}

// ContextLogger decorates a base logger with the fields found on a context.
type ContextLogger struct {
	base *zap.Logger
}

func NewContextLogger(base *zap.Logger) *ContextLogger {
	return &ContextLogger{base: base}
}

func (cl *ContextLogger) For(ctx context.Context) *zap.Logger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return cl.base
	}
	return cl.base.With(fields...)
}

// LogRequest writes one line per completed control API request. Server
// errors are logged at warn level.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	log := cl.For(ctx)
	fields := []zap.Field{
		zap.String("method", method),
		zap.String("path", route),
		zap.Int("status_code", status),
		zap.Duration("elapsed", elapsed),
	}
	if status >= 500 {
		log.Warn("http_request", fields...)
		return
	}
	log.Info("http_request", fields...)
}

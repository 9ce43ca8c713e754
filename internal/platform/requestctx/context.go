package requestctx

import (
	"context"

	"go.uber.org/zap"
)

// Keys are unexported struct types so no other package can collide with or
// overwrite the values stored here.
type loggerKey struct{}
type traceKey struct{}

var noop = zap.NewNop()

// TraceInfo is the per-request slice of the W3C trace context, captured once
// by the tracing middleware and read by logging and error rendering.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// WithLogger binds a request-scoped logger to the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request-scoped logger. Callers never get nil; code
// running outside a request gets a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return noop
}

// NoopLogger returns the shared discard logger.
func NoopLogger() *zap.Logger { return noop }

// WithTrace binds trace metadata to the context.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace returns the trace metadata when the tracing middleware has run.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID is a shortcut for the trace id alone, empty outside a request.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

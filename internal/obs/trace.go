package obs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey int

const (
	ctxKeyTraceID ctxKey = iota
	ctxKeySpanID
	ctxKeyRequestID
)

// TraceID returns the trace identifier carried by ctx, or "".
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyTraceID).(string)
	return v
}

// SpanID returns the active span identifier carried by ctx, or "".
func SpanID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySpanID).(string)
	return v
}

// RequestID returns the request identifier carried by ctx, or "".
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// WithRequestID attaches a request identifier to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// Span measures one traced operation. Durations come from the monotonic clock.
type Span struct {
	Name    string
	ID      string
	TraceID string

	start  time.Time
	logger *zap.Logger
}

// StartTrace opens a new root trace and returns the derived context. Child
// operations started from the returned context inherit the trace ID.
func StartTrace(ctx context.Context, logger *zap.Logger, name string) (context.Context, *Span) {
	traceID := uuid.NewString()
	ctx = context.WithValue(ctx, ctxKeyTraceID, traceID)
	return startSpan(ctx, logger, name, traceID)
}

// StartSpan opens a child span under the active trace. If ctx carries no
// trace, a fresh one is opened.
func StartSpan(ctx context.Context, logger *zap.Logger, name string) (context.Context, *Span) {
	traceID := TraceID(ctx)
	if traceID == "" {
		return StartTrace(ctx, logger, name)
	}
	return startSpan(ctx, logger, name, traceID)
}

func startSpan(ctx context.Context, logger *zap.Logger, name, traceID string) (context.Context, *Span) {
	spanID := uuid.NewString()[:8]
	ctx = context.WithValue(ctx, ctxKeySpanID, spanID)
	s := &Span{
		Name:    name,
		ID:      spanID,
		TraceID: traceID,
		start:   time.Now(),
		logger:  logger,
	}
	return ctx, s
}

// End closes the span, logging its wall-clock duration and outcome.
func (s *Span) End(err error) time.Duration {
	d := time.Since(s.start)
	fields := []zap.Field{
		zap.String("trace_id", s.TraceID),
		zap.String("span_id", s.ID),
		zap.Float64("duration_ms", float64(d.Microseconds())/1000.0),
	}
	if err != nil {
		fields = append(fields, ErrFields(err)...)
		s.logger.Warn(s.Name+" failed", fields...)
		return d
	}
	s.logger.Debug(s.Name+" completed", fields...)
	return d
}

// Package obs provides structured logging, trace/span propagation and the
// process-wide Prometheus metric registry.
package obs

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trendscope/trendscope/internal/errkind"
)

// LogConfig controls logger construction.
type LogConfig struct {
	// JSON switches the encoder to one-object-per-line JSON. Console encoding
	// is used otherwise (dev runs).
	JSON bool
	// Level is one of debug, info, warn, error.
	Level string
	// FilePath, when set, double-writes every record to this file in addition
	// to stdout.
	FilePath string
}

// NewLogger builds the process logger. Records carry timestamp (RFC3339Nano,
// UTC), level, logger name, message and caller; trace identifiers are attached
// per-context via With.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil && cfg.Level != "" {
		return nil, errkind.New(errkind.Config, "invalid log level %q", cfg.Level)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.LevelKey = "level"
	enc.NameKey = "logger"
	enc.MessageKey = "message"
	enc.EncodeTime = func(t time.Time, e zapcore.PrimitiveArrayEncoder) {
		e.AppendString(t.UTC().Format(time.RFC3339Nano))
	}

	var encoder zapcore.Encoder
	if cfg.JSON {
		encoder = zapcore.NewJSONEncoder(enc)
	} else {
		encoder = zapcore.NewConsoleEncoder(enc)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errkind.Wrap(errkind.Config, err, "open log file")
		}
		sinks = append(sinks, zapcore.Lock(f))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller()), nil
}

// With returns the logger annotated with the request/trace/span IDs carried by
// ctx. Absent IDs are omitted.
func With(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 3)
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id := TraceID(ctx); id != "" {
		fields = append(fields, zap.String("trace_id", id))
	}
	if id := SpanID(ctx); id != "" {
		fields = append(fields, zap.String("span_id", id))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// ErrFields renders an error with its taxonomy classification for logging.
func ErrFields(err error) []zap.Field {
	kind := errkind.KindOf(err)
	return []zap.Field{
		zap.Error(err),
		zap.String("error_kind", string(kind)),
		zap.String("error_severity", string(errkind.SeverityOf(kind))),
	}
}

// Package logging provides structured, request-aware logging for intentd.
// Built on zap, it automatically includes the request_id stored in the
// context by the gateway in every log entry.
//
// Usage:
//
//	log := logging.New("intentd", logging.LevelInfo)
//	log.Info(ctx, "rpc listening", "addr", addr)
//	log.Error(ctx, "predict failed", "error", err)
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level aliases zapcore.Level for convenience.
type Level = zapcore.Level

// Standard log levels.
const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelWarn  = zapcore.WarnLevel
	LevelError = zapcore.ErrorLevel
)

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (Level, error) {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return lv, nil
}

// Logger is a request-aware structured logger.
type Logger struct {
	zap   *zap.Logger
	tool  string
	level zap.AtomicLevel
}

// Option configures a Logger.
type Option func(*config)

type config struct {
	writer io.Writer
	format string // "json" or "console"
}

// WithWriter sets the output writer. Default is os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writer = w }
}

// WithFormat sets the output format: "json" for production, "console" for
// dev. Default is "json".
func WithFormat(format string) Option {
	return func(c *config) { c.format = format }
}

// New creates a Logger for the given tool name and minimum level.
func New(tool string, level Level, opts ...Option) *Logger {
	cfg := config{
		writer: os.Stderr,
		format: "json",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.format == "console" || cfg.format == "text" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	lv := zap.NewAtomicLevelAt(level)
	core := zapcore.NewCore(encoder, zapcore.AddSync(cfg.writer), lv)

	z := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(2),
		zap.AddStacktrace(zapcore.DPanicLevel),
	).With(zap.String("tool", tool))

	return &Logger{zap: z, tool: tool, level: lv}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), tool: "nop", level: zap.NewAtomicLevelAt(LevelError)}
}

// SetLevel dynamically changes the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level)
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l.level.Enabled(level)
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelDebug, msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelWarn, msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level Level, msg string, args ...any) {
	ce := l.zap.Check(level, msg)
	if ce == nil {
		return
	}
	fields := toFields(args)
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	ce.Write(fields...)
}

// toFields turns alternating key/value pairs into zap fields. A dangling
// value is kept under !BADKEY, as slog does.
func toFields(args []any) []zap.Field {
	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i++ {
		if f, ok := args[i].(zap.Field); ok {
			fields = append(fields, f)
			continue
		}
		key, ok := args[i].(string)
		if !ok || i+1 == len(args) {
			fields = append(fields, zap.Any("!BADKEY", args[i]))
			continue
		}
		v := args[i+1]
		if err, isErr := v.(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
		} else {
			fields = append(fields, zap.Any(key, v))
		}
		i++
	}
	return fields
}

// With returns a new Logger with additional permanent attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		zap:   l.zap.With(toFields(args)...),
		tool:  l.tool,
		level: l.level,
	}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Zap returns the underlying zap.Logger for interop with libraries that
// accept one. Caller annotation points at the direct caller.
func (l *Logger) Zap() *zap.Logger {
	return l.zap.WithOptions(zap.AddCallerSkip(-2))
}

type requestIDKey struct{}

// WithRequestID returns a context carrying id; every entry logged with it
// includes request_id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

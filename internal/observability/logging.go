// Package observability provides the runtime's structured logging,
// Prometheus metrics, and OpenTelemetry tracing. Grounded on the
// teacher's internal/observability.Logger (log/slog wrapping with
// level/format config and context-carried correlation fields, regex
// secret redaction), narrowed from the teacher's request/session/user/
// channel correlation set to this runtime's platformKey/runID/streamID
// fields, and with a reduced redaction pattern bank.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	Output    io.Writer
	AddSource bool
}

type correlationKey string

const (
	platformKeyCtx correlationKey = "platform_key"
	runIDCtx       correlationKey = "run_id"
	streamIDCtx    correlationKey = "stream_id"
)

// WithPlatformKey returns a context carrying platformKey for correlation.
func WithPlatformKey(ctx context.Context, platformKey string) context.Context {
	return context.WithValue(ctx, platformKeyCtx, platformKey)
}

// WithRunID returns a context carrying runID for correlation.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDCtx, runID)
}

// WithStreamID returns a context carrying streamID for correlation.
func WithStreamID(ctx context.Context, streamID string) context.Context {
	return context.WithValue(ctx, streamIDCtx, streamID)
}

// redactPatterns catches the common secret shapes likely to land in a log
// line incidentally (a stringified error wrapping an HTTP request, say).
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{95,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{48,}`),
	regexp.MustCompile(`(?i)(bearer)\s+[a-zA-Z0-9_\-.]{16,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
}

// Logger wraps *slog.Logger with redaction and correlation-field
// extraction from context.
type Logger struct {
	slog *slog.Logger
}

// NewLogger builds a Logger from cfg, defaulting Level to info, Format to
// json, and Output to stdout.
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &Logger{slog: slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = redact(msg)
	redacted := make([]any, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok {
			redacted[i] = redact(s)
			continue
		}
		redacted[i] = a
	}

	var fields []any
	if v, ok := ctx.Value(platformKeyCtx).(string); ok && v != "" {
		fields = append(fields, "platform_key", v)
	}
	if v, ok := ctx.Value(runIDCtx).(string); ok && v != "" {
		fields = append(fields, "run_id", v)
	}
	if v, ok := ctx.Value(streamIDCtx).(string); ok && v != "" {
		fields = append(fields, "stream_id", v)
	}
	l.slog.Log(ctx, level, msg, append(fields, redacted...)...)
}

func redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

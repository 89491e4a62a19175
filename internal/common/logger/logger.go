package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type requestIDKey struct{}

var root atomic.Pointer[slog.Logger]

func init() {
	Setup("info", os.Stdout)
}

// Setup replaces the process-wide JSON handler. Loggers created afterwards pick it up.
func Setup(level string, w io.Writer) {
	root.Store(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

type Logger struct {
	service string
	l       *slog.Logger
}

func New(service string) *Logger {
	return &Logger{service: service, l: root.Load().With("service", service, "hostname", hostname())}
}

// NewWithWriter builds a logger detached from the process-wide handler; used by tests.
func NewWithWriter(service string, w io.Writer, level string) *Logger {
	base := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	return &Logger{service: service, l: base.With("service", service, "hostname", hostname())}
}

// Ctx returns a logger carrying the request id stored in ctx, if any.
func (l *Logger) Ctx(ctx context.Context) *Logger {
	id := RequestID(ctx)
	if id == "" {
		return l
	}
	return &Logger{service: l.service, l: l.l.With("request_id", id)}
}

func (l *Logger) log(level slog.Level, action string, fields map[string]any, err error) {
	attrs := make([]any, 0, 2*len(fields)+4)
	attrs = append(attrs, "action", action)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	if err != nil {
		attrs = append(attrs, slog.Group("error", "msg", err.Error()))
	}
	l.l.Log(context.Background(), level, action, attrs...)
}

func (l *Logger) Info(action string, fields map[string]any) {
	l.log(slog.LevelInfo, action, fields, nil)
}
func (l *Logger) Debug(action string, fields map[string]any) {
	l.log(slog.LevelDebug, action, fields, nil)
}
func (l *Logger) Warn(action string, fields map[string]any) {
	l.log(slog.LevelWarn, action, fields, nil)
}
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.log(slog.LevelError, action, fields, err)
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func hostname() string { h, _ := os.Hostname(); return h }

// Package logging provides the structured logger shared by deploydash
// components. It is a thin layer over log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const topicKey contextKey = "topic"

// Logger wraps slog.Logger. Its handler extracts the bus topic being
// dispatched, if any, from the context of InfoContext and friends.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified log level and format.
// format can be "json" or "text" (default is json). Output goes to stderr so
// it does not interleave with a board rendered on stdout.
func New(level slog.Level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a Logger that writes to w.
func NewWithWriter(w io.Writer, level slog.Level, format string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location for errors and above
		AddSource: level <= slog.LevelError,
	}

	switch format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(topicHandler{handler}),
	}
}

// ContextWithTopic returns a copy of ctx carrying the topic of the message
// being dispatched. Records logged with that context gain a topic attribute.
func ContextWithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, topicKey, topic)
}

// TopicFromContext returns the topic stored by ContextWithTopic, or "".
func TopicFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if topic, ok := ctx.Value(topicKey).(string); ok {
		return topic
	}
	return ""
}

// topicHandler adds the dispatched topic to records logged through the
// *Context methods.
type topicHandler struct {
	slog.Handler
}

func (h topicHandler) Handle(ctx context.Context, r slog.Record) error {
	if topic := TopicFromContext(ctx); topic != "" {
		r.AddAttrs(Topic(topic))
	}
	return h.Handler.Handle(ctx, r)
}

func (h topicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return topicHandler{h.Handler.WithAttrs(attrs)}
}

func (h topicHandler) WithGroup(name string) slog.Handler {
	return topicHandler{h.Handler.WithGroup(name)}
}

// With returns a new logger with the given attributes added.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel converts a string log level to slog.Level.
// Valid values: "debug", "info", "warn", "error" in any case.
// Returns slog.LevelInfo for invalid values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault sets the default logger for the application.
// This affects both slog.Default() and log package functions.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// Component returns slog.Default() tagged with a component name, the way
// long-lived deploydash components obtain their logger.
func Component(name string) *slog.Logger {
	return slog.Default().With(slog.String(FieldComponent, name))
}

package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string `yaml:"level" json:"level"`

	// Format specifies output format: "json" or "text"
	Format string `yaml:"format" json:"format"`

	// Output is the writer for log output (defaults to os.Stderr)
	Output io.Writer `yaml:"-" json:"-"`

	// AddSource includes file and line number in log records
	AddSource bool `yaml:"add_source" json:"add_source"`

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string `yaml:"redact_patterns" json:"redact_patterns,omitempty"`
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey ContextKey = "request_id"

	// SessionIDKey is the context key for session IDs.
	SessionIDKey ContextKey = "session_id"
)

// DefaultRedactPatterns contains regex patterns for the secrets this service
// handles: Groq, Anthropic and TMDB credentials.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,

	// Groq API keys
	`gsk_[a-zA-Z0-9]{20,}`,

	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{20,}`,

	// TMDB v3 keys travel as a query parameter
	`(?i)api_key=[a-fA-F0-9]{16,}`,

	// JWT tokens (TMDB v4 read access tokens)
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

const redacted = "[REDACTED]"

// NewLogger returns a slog logger writing in the configured format. Every
// string attribute and error value passes through the redaction patterns.
//
// If config.Output is nil, logs are written to os.Stderr.
// If config.Level is empty or invalid, defaults to "info".
// If config.Format is empty, defaults to "json".
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	redactor := newRedactor(append(append([]string(nil), DefaultRedactPatterns...), config.RedactPatterns...))

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return redactor.attr(a)
		},
	}

	var handler slog.Handler
	if strings.EqualFold(config.Format, "text") {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}
	return slog.New(handler)
}

type redactor struct {
	patterns []*regexp.Regexp
}

func newRedactor(patterns []string) *redactor {
	r := &redactor{}
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			r.patterns = append(r.patterns, re)
		}
	}
	return r
}

func (r *redactor) attr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		a.Value = slog.StringValue(r.redact(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			a.Value = slog.StringValue(r.redact(err.Error()))
		}
	}
	return a
}

func (r *redactor) redact(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// AddRequestID returns a context carrying the request ID.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// AddSessionID returns a context carrying the session ID.
func AddSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetSessionID extracts the session ID from context.
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(SessionIDKey).(string); ok {
		return v
	}
	return ""
}

// LoggerFrom returns base annotated with the request, session and trace IDs
// found in ctx.
func LoggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	var args []any
	if id := GetRequestID(ctx); id != "" {
		args = append(args, "request_id", id)
	}
	if id := GetSessionID(ctx); id != "" {
		args = append(args, "session_id", id)
	}
	if id := GetTraceID(ctx); id != "" {
		args = append(args, "trace_id", id)
	}
	if len(args) == 0 {
		return base
	}
	return base.With(args...)
}

// LogLevelFromString converts a string to slog.Level.
func LogLevelFromString(level string) slog.Level {
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

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
)

const serviceName = "devicehub"

const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the output.
// Matching is case-insensitive on the full key.
var sensitiveKeys = map[string]bool{
	"password":         true,
	"new_password":     true,
	"current_password": true,
	"password_hash":    true,
	"token":            true,
	"refresh_token":    true,
	"access_token":     true,
	"authorization":    true,
	"secret":           true,
}

// Logger is the service logger. Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by the logging section of the config.
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New writing to w; cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With(
		slog.String("service", serviceName),
		slog.String("version", version),
	)}
}

// redact masks values of sensitive keys, including inside groups.
func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
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

// With returns a Logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a plain slog logger tagged with component=name, for
// packages that take *slog.Logger.
func (l *Logger) Component(name string) *slog.Logger {
	return l.Logger.With("component", name)
}

// Default is the bootstrap logger used until the config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard drops everything. For tests.
func Discard() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
}

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// Logger is a slog.Logger whose entries carry service, version and role, so
// output from the bridge and every node can be merged and filtered.
// It is safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds the process logger. role names the process ("bridge", "door",
// "light", "sensor") and is omitted when empty. Output "stderr" writes to
// stderr; anything else writes to stdout.
func New(cfg config.LoggingConfig, version, role string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, role, w)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LoggingConfig, version, role string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.RedactCredentials {
		opts.ReplaceAttr = redactCredential
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	l := slog.New(h).With("service", "homesync", "version", version)
	if role != "" {
		l = l.With("role", role)
	}
	return &Logger{Logger: l}
}

// Default is the logger used before configuration is loaded: JSON to
// stdout at info.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{}, "dev", "", os.Stdout)
}

// With returns a Logger with additional attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags entries with the subsystem that wrote them.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Device tags entries with the device a node process runs as.
func (l *Logger) Device(id string) *Logger {
	return l.With("device_id", id)
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

// redactCredential keeps the last four characters of "credential" values.
func redactCredential(_ []string, a slog.Attr) slog.Attr {
	if a.Key != "credential" || a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if len(v) <= 4 {
		return slog.String(a.Key, strings.Repeat("*", len(v)))
	}
	return slog.String(a.Key, strings.Repeat("*", len(v)-4)+v[len(v)-4:])
}

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a logger writing to w.
// level may be "debug", "info", "warn", or "error" (default "info").
// format may be "json" or "text" (default "json").
func New(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup installs a stdout logger tagged with the service name as the slog
// default and returns it.
func Setup(service, level, format string) *slog.Logger {
	l := New(os.Stdout, level, format).With("service", service)
	slog.SetDefault(l)
	return l
}

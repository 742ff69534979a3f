package logging

import (
	"log/slog"
	"os"
	"strings"
)

var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Init installs the process-wide slog logger on stderr. SENTRY_JSON_LOG
// selects the JSON handler; SENTRY_LOG_LEVEL sets the floor (default info).
func Init(service string) *slog.Logger {
	level, ok := levelNames[strings.ToLower(os.Getenv("SENTRY_LOG_LEVEL"))]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	switch strings.ToLower(os.Getenv("SENTRY_JSON_LOG")) {
	case "1", "true", "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	return logger
}

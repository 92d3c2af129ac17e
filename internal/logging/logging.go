// Package logging builds the process-wide structured logger. All audit
// trails (authorization denials, rollbacks, rate-limit degradations) go
// through loggers derived from this one.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON slog logger tagged with the service name and
// environment. level accepts debug/info/warn/error, defaulting to info.
func New(level, service, env string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: Level(level)})
	return slog.New(h).With(
		slog.String("service", service),
		slog.String("env", env),
	)
}

func Level(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

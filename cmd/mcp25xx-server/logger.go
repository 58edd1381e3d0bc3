package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-mcp25xx/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	logging.SetLevel(logging.ParseLevel(level))
	l := logging.New(format, logging.Leveler(), os.Stderr).With("app", "mcp25xx-server")
	logging.Set(l)
	return l
}

// toggleDebug flips between debug and the configured level.
func toggleDebug(configured string, l *slog.Logger) {
	next := slog.LevelDebug
	if logging.Level() == slog.LevelDebug {
		next = logging.ParseLevel(configured)
	}
	logging.SetLevel(next)
	l.Info("log_level_changed", "level", next.String())
}

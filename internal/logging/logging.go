// Package logging holds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	current atomic.Pointer[slog.Logger]
	level   = new(slog.LevelVar)
)

func init() { current.Store(New("text", level, os.Stderr)) }

// L returns the process logger.
func L() *slog.Logger { return current.Load() }

// Set replaces the process logger; nil is ignored.
func Set(l *slog.Logger) {
	if l != nil {
		current.Store(l)
	}
}

// Level is shared by every logger built with Leveler, so it can be
// changed while the process runs.
func Level() slog.Level     { return level.Level() }
func SetLevel(l slog.Level) { level.Set(l) }
func Leveler() slog.Leveler { return level }

// Discard returns a logger that drops everything.
func Discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

// Component tags the process logger with a component name. It is resolved
// at call time, so call it after Set.
func Component(name string) *slog.Logger { return L().With("component", name) }

var handlers = map[string]func(io.Writer, *slog.HandlerOptions) slog.Handler{
	"text": func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewTextHandler(w, o) },
	"json": func(w io.Writer, o *slog.HandlerOptions) slog.Handler { return slog.NewJSONHandler(w, o) },
}

// New builds a logger writing format ("text" or "json") to w, stderr when
// w is nil. Unknown formats fall back to text.
func New(format string, lv slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	mk, ok := handlers[format]
	if !ok {
		mk = handlers["text"]
	}
	return slog.New(mk(w, &slog.HandlerOptions{Level: lv}))
}

// ParseLevel accepts slog level names in any case, including offsets such
// as "debug-4", and "warning". Anything else is info.
func ParseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lv
}

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", ParseLevel("warn"), &buf)
	l.Info("fifo_configured", "fifo", 2)
	l.Warn("bus_error", "tec", 96)
	out := buf.String()
	if strings.Contains(out, "fifo_configured") {
		t.Fatalf("info record not filtered: %s", out)
	}
	if !strings.Contains(out, `"msg":"bus_error"`) || !strings.Contains(out, `"tec":96`) {
		t.Fatalf("unexpected json output: %s", out)
	}
}

func TestUnknownFormatIsText(t *testing.T) {
	var buf bytes.Buffer
	New("logfmt", slog.LevelInfo, &buf).Info("chip_ready", "dev", "mcp2518fd")
	if !strings.Contains(buf.String(), "msg=chip_ready dev=mcp2518fd") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestSetAndComponent(t *testing.T) {
	prev := L()
	defer Set(prev)
	var buf bytes.Buffer
	Set(New("text", slog.LevelDebug, &buf))
	Set(nil)
	Component("mcp251xfd").Debug("spi_open")
	if !strings.Contains(buf.String(), "component=mcp251xfd") {
		t.Fatalf("component attr missing: %s", buf.String())
	}
}

func TestSharedLevel(t *testing.T) {
	prev := Level()
	defer SetLevel(prev)
	var buf bytes.Buffer
	l := New("text", Leveler(), &buf)
	SetLevel(slog.LevelError)
	l.Warn("dropped")
	SetLevel(slog.LevelDebug)
	l.Debug("kept")
	if out := buf.String(); strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"debug-4", slog.LevelDebug - 4},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

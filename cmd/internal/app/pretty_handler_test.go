package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_LineShape(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.Info("server.start", "addr", "127.0.0.1:8989", "db_enabled", true)

	line := buf.String()
	if !strings.Contains(line, "[INFO]") {
		t.Fatalf("missing level tag: %q", line)
	}
	if !strings.Contains(line, "server.start") {
		t.Fatalf("missing message: %q", line)
	}
	if !strings.Contains(line, "addr=127.0.0.1:8989") {
		t.Fatalf("missing attr: %q", line)
	}
	if !strings.Contains(line, "db_enabled=true") {
		t.Fatalf("missing bool attr: %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("color disabled but ANSI present: %q", line)
	}
}

func TestPrettyHandler_GroupsAndQuoting(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.WithGroup("http").Info("http.request", "user_agent", "curl 8.0")

	line := buf.String()
	if !strings.Contains(line, `http.user_agent="curl 8.0"`) {
		t.Fatalf("expected grouped quoted attr, got %q", line)
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))

	log.Info("dropped")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn record missing: %q", out)
	}
}

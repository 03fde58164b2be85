package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("asset missing", "path", "bg/hall.png")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["level"] != "warn" || rec["msg"] != "asset missing" || rec["path"] != "bg/hall.png" {
		t.Errorf("record = %v", rec)
	}
	if _, ok := rec["ts"]; !ok {
		t.Error("ts key missing")
	}
}

func TestAutoFormatOnBufferIsJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Format: "auto", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("tick")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("auto on a buffer should be json: %q", buf.String())
	}
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "debug", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	log.Debug("menu opened", "id", 3)
	out := buf.String()
	if !strings.Contains(out, "level=debug") || !strings.Contains(out, `msg="menu opened"`) || !strings.Contains(out, "id=3") {
		t.Errorf("console output = %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"DEBUG", slog.LevelDebug, false},
		{" warning ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}

	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("unknown format accepted")
	}
}

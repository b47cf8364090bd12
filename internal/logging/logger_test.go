package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"avatarreel/internal/config"
	"avatarreel/internal/services"
)

func TestPrettyHandlerFormatsComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))
	logger = NewComponentLogger(logger, "compositor")

	logger.Info("frames composited", Int("frames", 250), String("path", "/tmp/a b"))

	line := buf.String()
	if !strings.Contains(line, " INFO compositor: frames composited") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	if !strings.Contains(line, "frames=250") {
		t.Fatalf("missing frames field: %q", line)
	}
	if !strings.Contains(line, `path="/tmp/a b"`) {
		t.Fatalf("expected quoted path: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should be rendered as prefix only: %q", line)
	}
}

func TestPrettyHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newPrettyHandler(&buf, lvl, false))

	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info line should be filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "WARN shown") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestPrettyHandlerFlattensGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newPrettyHandler(&buf, new(slog.LevelVar), false))
	logger.WithGroup("clip").Info("probed", Int("width", 512))
	if !strings.Contains(buf.String(), "clip.width=512") {
		t.Fatalf("expected grouped key, got %q", buf.String())
	}
}

func TestJSONHandlerRenamesTimeAndLowercasesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, new(slog.LevelVar), false))
	logger.Error("encode failed", Error(errors.New("boom")))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
	if payload["level"] != "error" {
		t.Fatalf("level = %v, want error", payload["level"])
	}
	if payload["error"] != "boom" {
		t.Fatalf("error = %v, want boom", payload["error"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(dir, "logs")
	cfg.Logging.Format = "json"

	logger, err := NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("hello")

	data, err := os.ReadFile(filepath.Join(dir, "logs", "avatarreel.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("log file missing entry: %s", data)
	}
}

func TestWithContextAddsRunFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(newPrettyHandler(&buf, new(slog.LevelVar), false))

	ctx := services.WithRunID(context.Background(), "run-1")
	ctx = services.WithStage(ctx, "matte")
	ctx = services.WithEngine(ctx, "sadtalker")

	WithContext(ctx, base).Info("stage started")

	line := buf.String()
	for _, want := range []string{" INFO [matte]: stage started", "run_id=run-1", "engine=sadtalker"} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "stage=matte") {
		t.Fatalf("stage should be rendered as prefix only: %q", line)
	}
}

func TestConsoleSubject(t *testing.T) {
	tests := []struct {
		component, stage, want string
	}{
		{"", "", ""},
		{"encoder", "", "encoder"},
		{"", "encode", "[encode]"},
		{"encoder", "encode", "encoder [encode]"},
	}
	for _, tt := range tests {
		if got := consoleSubject(tt.component, tt.stage); got != tt.want {
			t.Errorf("consoleSubject(%q, %q) = %q, want %q", tt.component, tt.stage, got, tt.want)
		}
	}
}

func TestWithContextNilLogger(t *testing.T) {
	if WithContext(context.Background(), nil) == nil {
		t.Fatal("expected no-op logger")
	}
}

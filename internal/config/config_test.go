package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/repx-run/repx/internal/apperror"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}

	for _, key := range []string{"time", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}

func TestLoadNoFileReturnsUsableDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") with no config file present: %v", err)
	}
	if _, ok := cfg.Targets[cfg.SubmissionTarget]; !ok {
		t.Fatalf("default config's submission_target %q is not in Targets", cfg.SubmissionTarget)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
submission_target = "cluster"

[targets.cluster]
address = "user@cluster.example.edu"
base_path = "/home/user/repx-store"
default_scheduler = "slurm"
default_execution_type = "bwrap"

[targets.cluster.slurm]
partition = "batch"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}
	target, err := cfg.Target("")
	if err != nil {
		t.Fatalf("Target(\"\"): %v", err)
	}
	if target.Address != "user@cluster.example.edu" {
		t.Errorf("target.Address = %q, want %q", target.Address, "user@cluster.example.edu")
	}
	if target.DefaultScheduler != "slurm" {
		t.Errorf("target.DefaultScheduler = %q, want slurm", target.DefaultScheduler)
	}
}

func TestLoadDecodesStrictHostKeyChecking(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
submission_target = "cluster"

[targets.cluster]
address = "user@cluster.example.edu"
base_path = "/home/user/repx-store"
strict_host_key_checking = false

[targets.default]
address = "user@default.example.edu"
base_path = "/home/user/repx-store"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}

	relaxed, err := cfg.Target("cluster")
	if err != nil {
		t.Fatalf("Target(\"cluster\"): %v", err)
	}
	if relaxed.StrictHostKeyCheckingOrDefault() {
		t.Error("cluster target should have relaxed host key checking")
	}

	def, err := cfg.Target("default")
	if err != nil {
		t.Fatalf("Target(\"default\"): %v", err)
	}
	if !def.StrictHostKeyCheckingOrDefault() {
		t.Error("a target with strict_host_key_checking unset should default to strict")
	}
}

func TestLoadRejectsUnknownSubmissionTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
submission_target = "does-not-exist"

[targets.local]
default_scheduler = "local"
default_execution_type = "native"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() with unknown submission_target should error")
	}
	if kind, ok := apperror.Of(err); !ok || kind != apperror.KindConfig {
		t.Errorf("error kind = %v, ok=%v, want KindConfig", kind, ok)
	}
}

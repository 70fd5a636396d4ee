package telemetry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "info", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("hello", "session_id", "s1")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "logs", "minder.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"hello"`) {
		t.Fatalf("log file missing entry: %s", data)
	}
	if !strings.Contains(string(data), `"timestamp"`) {
		t.Fatalf("expected renamed time key, got: %s", data)
	}
}

func TestRedactsSensitiveKeys(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "debug", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("auth", "bot_token", "123456:ABCDEF", "user", "alice")
	_ = closer.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "logs", "minder.jsonl"))
	s := string(data)
	if strings.Contains(s, "ABCDEF") {
		t.Fatalf("token value leaked into log: %s", s)
	}
	if !strings.Contains(s, "[REDACTED]") {
		t.Fatalf("expected redaction marker: %s", s)
	}
	if !strings.Contains(s, "alice") {
		t.Fatalf("non-sensitive value should remain: %s", s)
	}
}

func TestRedactsSecretPatternsInValues(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "debug", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	// The attribute key is harmless; the secret hides inside the value.
	logger.Warn("provider call failed",
		"detail", "google rejected key AIzaSyA1b2C3d4E5f6G7h8I9j0K1l2M3n4O5, check credentials")
	_ = closer.Close()

	data, _ := os.ReadFile(filepath.Join(dir, "logs", "minder.jsonl"))
	s := string(data)
	if strings.Contains(s, "AIzaSy") {
		t.Fatalf("api key leaked into log: %s", s)
	}
	if !strings.Contains(s, "[REDACTED]") || !strings.Contains(s, "check credentials") {
		t.Fatalf("expected in-place redaction: %s", s)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

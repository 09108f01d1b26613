package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"turnrelay/pkg/config"
)

func TestLoggerJSONEntryShape(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("component", "dispatch.batch").Info("Request complete with status success", "record_id", "42", "ok", true)

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}

	if entry.Level != "info" {
		t.Fatalf("level = %q, want %q", entry.Level, "info")
	}
	if entry.Message != "Request complete with status success" {
		t.Fatalf("message = %q, want %q", entry.Message, "Request complete with status success")
	}
	if entry.Component != "dispatch.batch" {
		t.Fatalf("component = %q, want %q", entry.Component, "dispatch.batch")
	}
	if entry.Timestamp == "" {
		t.Fatal("expected timestamp")
	}
	if got := entry.Fields["record_id"]; got != "42" {
		t.Fatalf("fields.record_id = %v, want %q", got, "42")
	}
	if got := entry.Fields["ok"]; got != true {
		t.Fatalf("fields.ok = %v, want true", got)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv("TURNRELAY_LOG_LEVEL", "debug")
	t.Setenv("TURNRELAY_LOG_FORMAT", "text")
	defer unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func TestLoggerRedactsSensitiveKeys(t *testing.T) {
	unsetLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.With("api_key", "sk-live").Info("Configured client", "token", "123:abc", "user_id", "u1")

	var entry LogEntry
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	if got := entry.Fields["api_key"]; got != redactedValue {
		t.Fatalf("fields.api_key = %v, want redacted", got)
	}
	if got := entry.Fields["token"]; got != redactedValue {
		t.Fatalf("fields.token = %v, want redacted", got)
	}
	if got := entry.Fields["user_id"]; got != "u1" {
		t.Fatalf("fields.user_id = %v, want u1", got)
	}
}

func TestPreview(t *testing.T) {
	if got := Preview(" hello ", 10); got != "hello" {
		t.Fatalf("Preview short = %q, want hello", got)
	}

	long := strings.Repeat("a", 30)
	got := Preview(long, 20)
	if len(got) != 23 || !strings.HasSuffix(got, "...") {
		t.Fatalf("Preview long = %q, want 20 chars plus ellipsis", got)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	text := "ab" + strings.Repeat("é", 10)
	got := Truncate(text, 5)
	if got != "abé..." {
		t.Fatalf("Truncate = %q, want %q", got, "abé...")
	}
	if !utf8.ValidString(Preview(strings.Repeat("🙂", 10), 9)) {
		t.Fatal("Preview produced invalid UTF-8")
	}
	if got := Truncate("short", 0); got != "short" {
		t.Fatalf("Truncate without limit = %q", got)
	}
}

func unsetLoggingEnv(t *testing.T) {
	t.Helper()
	_ = os.Unsetenv("TURNRELAY_LOG_LEVEL")
	_ = os.Unsetenv("TURNRELAY_LOG_FORMAT")
	_ = os.Unsetenv("TURNRELAY_LOG_ADD_SOURCE")
}

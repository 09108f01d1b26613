package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "queue": {"type": "badger", "path": "/var/lib/turnrelay", "batch_size": 10},
	  "providers": {"openai": {"api_key_env": "TEST_KEY"}, "ollama": {"server_url": "http://127.0.0.1:11434"}},
	  "web_search": {"enabled": true, "top_k": 3},
	  "gateway": {"host": "0.0.0.0", "port": 18790},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("TURNRELAY_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if cfg.Queue.Type != "badger" || cfg.Queue.BatchSize != 10 {
		t.Fatalf("queue = %+v, want badger with batch size 10", cfg.Queue)
	}
	if cfg.Providers.Ollama.ServerURL != "http://127.0.0.1:11434" {
		t.Fatalf("providers.ollama.server_url = %q", cfg.Providers.Ollama.ServerURL)
	}
	if !cfg.WebSearch.Enabled || cfg.WebSearch.TopK != 3 {
		t.Fatalf("web_search = %+v, want enabled with top_k 3", cfg.WebSearch)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
queue:
  type: memory
  batch_size: 5
notify:
  websocket:
    url: ws://127.0.0.1:9000/notify
telemetry:
  trace_exporter: stdout
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("TURNRELAY_CONFIG", path)
	t.Setenv("TURNRELAY_NOTIFY_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Queue.BatchSize != 5 {
		t.Fatalf("queue.batch_size = %d, want 5", cfg.Queue.BatchSize)
	}
	if cfg.Notify.WebSocket.URL != "ws://127.0.0.1:9000/notify" {
		t.Fatalf("notify.websocket.url = %q", cfg.Notify.WebSocket.URL)
	}
	if cfg.Telemetry.TraceExporter != "stdout" {
		t.Fatalf("telemetry.trace_exporter = %q, want stdout", cfg.Telemetry.TraceExporter)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"notify": {"telegram": {"token": "file-token"}}}`), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("TURNRELAY_CONFIG", path)
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "4242")
	t.Setenv("TURNRELAY_SECRETS_DIR", "/tmp/secrets")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Notify.Telegram.Token != "env-token" {
		t.Fatalf("telegram token = %q, want env-token", cfg.Notify.Telegram.Token)
	}
	if cfg.Notify.Telegram.ChatID != 4242 {
		t.Fatalf("telegram chat id = %d, want 4242", cfg.Notify.Telegram.ChatID)
	}
	if cfg.Secrets.Dir != "/tmp/secrets" {
		t.Fatalf("secrets.dir = %q, want /tmp/secrets", cfg.Secrets.Dir)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("TURNRELAY_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

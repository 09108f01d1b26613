package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath       = "TURNRELAY_CONFIG"
	envTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	envTelegramChatID   = "TELEGRAM_CHAT_ID"
	envNotifyURL        = "TURNRELAY_NOTIFY_URL"
	envSecretsDir       = "TURNRELAY_SECRETS_DIR"
)

// Config is the root runtime configuration loaded from config.json or config.yaml.
type Config struct {
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`
	WebSearch WebSearchConfig `json:"web_search" yaml:"web_search"`
	Secrets   SecretsConfig   `json:"secrets" yaml:"secrets"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Logging   LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
}

// QueueConfig selects the record transport and its batching behaviour.
type QueueConfig struct {
	// Type is "memory" or "badger".
	Type                     string `json:"type" yaml:"type"`
	Path                     string `json:"path" yaml:"path"`
	BatchSize                int    `json:"batch_size" yaml:"batch_size"`
	VisibilityTimeoutSeconds int    `json:"visibility_timeout_seconds" yaml:"visibility_timeout_seconds"`
	PollIntervalMillis       int    `json:"poll_interval_millis" yaml:"poll_interval_millis"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI   OpenAIProviderConfig   `json:"openai" yaml:"openai"`
	Azure    AzureProviderConfig    `json:"azure" yaml:"azure"`
	Ollama   OllamaProviderConfig   `json:"ollama" yaml:"ollama"`
	OpenCode OpenCodeProviderConfig `json:"opencode" yaml:"opencode"`
	Fantasy  FantasyProviderConfig  `json:"fantasy" yaml:"fantasy"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	Organization          string `json:"organization" yaml:"organization"`
	Project               string `json:"project" yaml:"project"`
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// AzureProviderConfig configures Azure OpenAI deployments.
type AzureProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	APIVersion            string `json:"api_version" yaml:"api_version"`
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// OllamaProviderConfig configures a local Ollama server.
type OllamaProviderConfig struct {
	ServerURL             string `json:"server_url" yaml:"server_url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// OpenCodeProviderConfig configures the OpenCode provider client.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	Username              string `json:"username" yaml:"username"`
	PasswordEnv           string `json:"password_env" yaml:"password_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// FantasyProviderConfig tunes the fantasy agent adapter. Connection settings
// are shared with the openai section.
type FantasyProviderConfig struct {
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// RetrievalConfig configures the internal knowledge base.
type RetrievalConfig struct {
	Weaviate WeaviateConfig `json:"weaviate" yaml:"weaviate"`
}

// WeaviateConfig configures the Weaviate knowledge-base retriever.
type WeaviateConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	URL       string `json:"url" yaml:"url"`
	ClassName string `json:"class_name" yaml:"class_name"`
	TopK      int    `json:"top_k" yaml:"top_k"`
}

// WebSearchConfig configures the web search collaborator.
type WebSearchConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	Endpoint          string  `json:"endpoint" yaml:"endpoint"`
	APIKeySecret      string  `json:"api_key_secret" yaml:"api_key_secret"`
	TopK              int     `json:"top_k" yaml:"top_k"`
	TimeoutSeconds    int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	RecencyDays       int     `json:"recency_days" yaml:"recency_days"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
}

// SecretsConfig locates credentials materialized at worker start.
type SecretsConfig struct {
	Dir           string `json:"dir" yaml:"dir"`
	APIKeysSecret string `json:"api_keys_secret" yaml:"api_keys_secret"`
}

// NotifyConfig configures outbound client notification channels.
type NotifyConfig struct {
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
	Telegram  TelegramConfig  `json:"telegram" yaml:"telegram"`
}

// WebSocketConfig configures the notification relay connection.
type WebSocketConfig struct {
	URL                  string `json:"url" yaml:"url"`
	HandshakeTimeoutSecs int    `json:"handshake_timeout_seconds" yaml:"handshake_timeout_seconds"`
}

// TelegramConfig configures the Telegram mirror for final and error notifications.
type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	ChatID  int64  `json:"chat_id" yaml:"chat_id"`
}

// GatewayConfig configures HTTP status server bind settings.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// TelemetryConfig selects the trace exporter ("stdout" or "none").
type TelemetryConfig struct {
	TraceExporter string `json:"trace_exporter" yaml:"trace_exporter"`
	ServiceName   string `json:"service_name" yaml:"service_name"`
}

// LoadConfig resolves the config file, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile parses one config file. The format follows the file extension.
func LoadFile(configPath string) (*Config, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Notify.Telegram.Token = token
	}

	if rawChatID := strings.TrimSpace(os.Getenv(envTelegramChatID)); rawChatID != "" {
		if chatID, err := strconv.ParseInt(rawChatID, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = chatID
		}
	}

	if url := strings.TrimSpace(os.Getenv(envNotifyURL)); url != "" {
		cfg.Notify.WebSocket.URL = url
	}

	if dir := strings.TrimSpace(os.Getenv(envSecretsDir)); dir != "" {
		cfg.Secrets.Dir = dir
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is TURNRELAY_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config file not found (checked %s)", strings.Join(candidates, ", "))
}

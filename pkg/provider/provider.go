package provider

import (
	"log/slog"

	"turnrelay/pkg/config"
	"turnrelay/pkg/provider/azure"
	"turnrelay/pkg/provider/fantasy"
	"turnrelay/pkg/provider/ollama"
	provideropenai "turnrelay/pkg/provider/openai"
	"turnrelay/pkg/provider/opencode"
	providertypes "turnrelay/pkg/provider/types"
)

// New returns a registry with every built-in backend registered under its
// provider prefix. Credentials are checked when a factory runs, so a
// misconfigured backend only fails the records that select it.
func New(cfg *config.Config) (*Registry, error) {
	registry := NewRegistry()
	builtins := []struct {
		pattern string
		factory providertypes.Factory
	}{
		{pattern: `^openai\.`, factory: provideropenai.NewFactory(cfg.Providers.OpenAI)},
		{pattern: `^azure\.`, factory: azure.NewFactory(cfg.Providers.Azure)},
		{pattern: `^ollama\.`, factory: ollama.NewFactory(cfg.Providers.Ollama)},
		{pattern: `^opencode\.`, factory: opencode.NewFactory(cfg.Providers.OpenCode)},
		{pattern: `^fantasy\.`, factory: fantasy.NewFactory(cfg.Providers.OpenAI, cfg.Providers.Fantasy)},
	}

	for _, builtin := range builtins {
		if err := registry.Register(builtin.pattern, builtin.factory); err != nil {
			return nil, err
		}
	}

	slog.Default().With("component", "provider.registry").Debug("Registered adapters", "patterns", registry.Patterns())
	return registry, nil
}

// Package fantasy runs prompts through a charm fantasy agent backed by the
// OpenAI provider. Replies arrive whole and are delivered as one token.
package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"
	"github.com/google/uuid"

	"turnrelay/pkg/config"
	providertypes "turnrelay/pkg/provider/types"
)

const providerName = "fantasy"

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

type generateFunc func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)

// Adapter generates one agent reply per run.
type Adapter struct {
	providertypes.Streaming

	provider        languageModelProvider
	opts            providertypes.Options
	modelID         string
	requestTimeout  time.Duration
	maxOutputTokens *int64
	temperature     *float64
	generate        generateFunc
}

// NewFactory returns a factory sharing the openai connection settings.
func NewFactory(openaiCfg config.OpenAIProviderConfig, cfg config.FantasyProviderConfig) providertypes.Factory {
	return func(opts providertypes.Options) (providertypes.Adapter, error) {
		return New(openaiCfg, cfg, opts)
	}
}

// New builds an adapter for one run.
func New(openaiCfg config.OpenAIProviderConfig, cfg config.FantasyProviderConfig, opts providertypes.Options) (*Adapter, error) {
	apiKey := resolveAPIKey(openaiCfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	modelID, err := normalizeOpenAIModel(opts.ModelID)
	if err != nil {
		return nil, err
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(openaiCfg.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(openaiCfg.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(openaiCfg.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	adapter := &Adapter{
		provider:       fantasyProvider,
		opts:           opts,
		modelID:        modelID,
		requestTimeout: time.Duration(openaiCfg.RequestTimeoutSeconds) * time.Second,
		generate:       generateWithFantasyAgent,
	}
	adapter.applyGenerationSettings(cfg)

	return adapter, nil
}

// applyGenerationSettings merges config defaults with per-run model kwargs.
// Kwargs win.
func (a *Adapter) applyGenerationSettings(cfg config.FantasyProviderConfig) {
	if cfg.MaxTokens > 0 {
		maxTokens := int64(cfg.MaxTokens)
		a.maxOutputTokens = &maxTokens
	}
	if maxTokens, ok := providertypes.IntKwarg(a.opts.ModelKwargs, "maxTokens"); ok {
		a.maxOutputTokens = &maxTokens
	}

	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		a.temperature = &temp
	}
	if temp, ok := providertypes.FloatKwarg(a.opts.ModelKwargs, "temperature"); ok {
		a.temperature = &temp
	}
}

// Run generates the reply for the augmented prompt.
func (a *Adapter) Run(ctx context.Context, req providertypes.Request) (providertypes.Response, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "run")
	startedAt := time.Now()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providertypes.Response{}, errors.New("prompt is required")
	}

	languageModel, err := a.provider.LanguageModel(ctx, a.modelID)
	if err != nil {
		return providertypes.Response{}, fmt.Errorf("resolve language model: %w", err)
	}

	call := core.AgentCall{
		Prompt:          prompt,
		MaxOutputTokens: a.maxOutputTokens,
		Temperature:     a.temperature,
	}
	if systemPrompt := req.SystemPrompt(a.opts.Mode); systemPrompt != "" {
		call.Messages = []core.Message{{
			Role:    core.MessageRoleSystem,
			Content: []core.MessagePart{core.TextPart{Text: systemPrompt}},
		}}
	}

	log.Debug("provider request started", "session_id", a.opts.SessionID, "model", a.modelID, "prompt_length", len(prompt))

	generate := a.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	result, err := generate(ctx, languageModel, call)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Response{}, fmt.Errorf("prompt failed: %w", err)
	}

	text := extractText(result.Response.Content)
	if text == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no text")
		return providertypes.Response{}, errors.New("prompt succeeded but returned no text")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	a.EmitToken(uuid.NewString(), providertypes.TextToken(text))

	usage := providertypes.TokenUsage{
		InputTokens:         result.TotalUsage.InputTokens,
		OutputTokens:        result.TotalUsage.OutputTokens,
		TotalTokens:         result.TotalUsage.TotalTokens,
		ReasoningTokens:     result.TotalUsage.ReasoningTokens,
		CacheCreationTokens: result.TotalUsage.CacheCreationTokens,
		CacheReadTokens:     result.TotalUsage.CacheReadTokens,
	}

	return providertypes.Response{
		SessionID: a.opts.SessionID,
		Type:      providertypes.ResponseTypeText,
		Content:   text,
		Metadata: providertypes.Metadata{
			Provider:    providerName,
			ModelID:     a.opts.ModelID,
			Mode:        a.opts.Mode,
			UserID:      a.opts.UserID,
			Prompt:      req.Prompt,
			ModelKwargs: a.opts.ModelKwargs,
			Usage:       providertypes.UsagePtr(usage),
		},
	}, nil
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.fantasy")
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, a.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeOpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by fantasy openai provider", providerID)
	}

	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	runtime := core.NewAgent(model)
	return runtime.Generate(ctx, call)
}

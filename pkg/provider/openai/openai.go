package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"turnrelay/pkg/config"
	providertypes "turnrelay/pkg/provider/types"
)

const providerName = "openai"

// Adapter streams one chat completion per run.
type Adapter struct {
	providertypes.Streaming

	client         osdk.Client
	opts           providertypes.Options
	requestTimeout time.Duration
}

// NewFactory returns a factory bound to the provider config.
func NewFactory(cfg config.OpenAIProviderConfig) providertypes.Factory {
	return func(opts providertypes.Options) (providertypes.Adapter, error) {
		return New(cfg, opts)
	}
}

// New builds an adapter for one run.
func New(cfg config.OpenAIProviderConfig, opts providertypes.Options) (*Adapter, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Organization); organization != "" {
		requestOpts = append(requestOpts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Project); project != "" {
		requestOpts = append(requestOpts, option.WithProject(project))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		requestOpts = append(requestOpts, option.WithRequestTimeout(requestTimeout))
	}

	return &Adapter{
		client:         osdk.NewClient(requestOpts...),
		opts:           opts,
		requestTimeout: requestTimeout,
	}, nil
}

// Run streams the completion, forwarding each content delta as a token.
func (a *Adapter) Run(ctx context.Context, req providertypes.Request) (providertypes.Response, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "run")
	startedAt := time.Now()

	model, err := normalizeModel(a.opts.ModelID)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Response{}, err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return providertypes.Response{}, errors.New("prompt is required")
	}

	messages := make([]osdk.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt := req.SystemPrompt(a.opts.Mode); systemPrompt != "" {
		messages = append(messages, osdk.SystemMessage(systemPrompt))
	}
	messages = append(messages, osdk.UserMessage(req.Prompt))

	params := osdk.ChatCompletionNewParams{
		Model:         model,
		Messages:      messages,
		StreamOptions: osdk.ChatCompletionStreamOptionsParam{IncludeUsage: osdk.Bool(true)},
	}
	if temperature, ok := providertypes.FloatKwarg(a.opts.ModelKwargs, "temperature"); ok {
		params.Temperature = osdk.Float(temperature)
	}
	if maxTokens, ok := providertypes.IntKwarg(a.opts.ModelKwargs, "maxTokens"); ok {
		params.MaxCompletionTokens = osdk.Int(maxTokens)
	}

	log.Debug("provider request started",
		"session_id", a.opts.SessionID,
		"model", model,
		"prompt_length", len(req.Prompt),
		"media_refs", len(req.Images)+len(req.Documents)+len(req.Videos),
	)

	runID := uuid.NewString()
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := osdk.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			a.EmitToken(runID, providertypes.TextToken(chunk.Choices[0].Delta.Content))
		}
	}
	if err := stream.Err(); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Response{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := ""
	if len(acc.Choices) > 0 {
		content = acc.Choices[0].Message.Content
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(content))

	usage := providertypes.TokenUsage{
		InputTokens:     acc.Usage.PromptTokens,
		OutputTokens:    acc.Usage.CompletionTokens,
		TotalTokens:     acc.Usage.TotalTokens,
		ReasoningTokens: acc.Usage.CompletionTokensDetails.ReasoningTokens,
		CacheReadTokens: acc.Usage.PromptTokensDetails.CachedTokens,
	}

	return providertypes.Response{
		SessionID: a.opts.SessionID,
		Type:      providertypes.ResponseTypeText,
		Content:   content,
		Metadata: providertypes.Metadata{
			Provider:    providerName,
			ModelID:     model,
			Mode:        a.opts.Mode,
			UserID:      a.opts.UserID,
			Prompt:      req.Prompt,
			ModelKwargs: a.opts.ModelKwargs,
			Usage:       providertypes.UsagePtr(usage),
		},
	}, nil
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.openai")
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

func normalizeModel(model string) (string, error) {
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
	if providerID != providerName {
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}

	return modelID, nil
}

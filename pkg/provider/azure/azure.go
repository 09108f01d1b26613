// Package azure streams chat completions from Azure OpenAI deployments. The
// model name of a run is used as the deployment name.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"

	"turnrelay/pkg/config"
	providertypes "turnrelay/pkg/provider/types"
)

const (
	providerName      = "azure"
	defaultAPIKeyEnv  = "AZURE_OPENAI_API_KEY"
	defaultAPIVersion = "2024-06-01"
)

// Adapter streams one Azure OpenAI chat completion per run.
type Adapter struct {
	providertypes.Streaming

	client         *goopenai.Client
	opts           providertypes.Options
	requestTimeout time.Duration
}

// NewFactory returns a factory bound to the provider config.
func NewFactory(cfg config.AzureProviderConfig) providertypes.Factory {
	return func(opts providertypes.Options) (providertypes.Adapter, error) {
		return New(cfg, opts)
	}
}

// New builds an adapter for one run.
func New(cfg config.AzureProviderConfig, opts providertypes.Options) (*Adapter, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.azure.base_url is required")
	}

	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, fmt.Errorf("providers.azure.api_key_env is required or %s must be set", defaultAPIKeyEnv)
	}
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, errors.New("model is required")
	}

	clientCfg := goopenai.DefaultAzureConfig(apiKey, baseURL)
	clientCfg.APIVersion = defaultAPIVersion
	if version := strings.TrimSpace(cfg.APIVersion); version != "" {
		clientCfg.APIVersion = version
	}
	// Deployment names are used verbatim.
	clientCfg.AzureModelMapperFunc = func(model string) string { return model }

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	}

	return &Adapter{
		client:         goopenai.NewClientWithConfig(clientCfg),
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

	if strings.TrimSpace(req.Prompt) == "" {
		return providertypes.Response{}, errors.New("prompt is required")
	}

	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if systemPrompt := req.SystemPrompt(a.opts.Mode); systemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	request := goopenai.ChatCompletionRequest{
		Model:         a.opts.ModelID,
		Messages:      messages,
		StreamOptions: &goopenai.StreamOptions{IncludeUsage: true},
	}
	if temperature, ok := providertypes.FloatKwarg(a.opts.ModelKwargs, "temperature"); ok {
		request.Temperature = float32(temperature)
	}
	if maxTokens, ok := providertypes.IntKwarg(a.opts.ModelKwargs, "maxTokens"); ok {
		request.MaxCompletionTokens = int(maxTokens)
	}

	log.Debug("provider request started", "session_id", a.opts.SessionID, "deployment", a.opts.ModelID, "prompt_length", len(req.Prompt))

	stream, err := a.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Response{}, fmt.Errorf("chat completion failed: %w", err)
	}
	defer stream.Close()

	runID := uuid.NewString()
	var content strings.Builder
	var usage providertypes.TokenUsage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
			return providertypes.Response{}, fmt.Errorf("chat completion stream failed: %w", err)
		}

		if chunk.Usage != nil {
			usage = providertypes.TokenUsage{
				InputTokens:  int64(chunk.Usage.PromptTokens),
				OutputTokens: int64(chunk.Usage.CompletionTokens),
				TotalTokens:  int64(chunk.Usage.TotalTokens),
			}
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		content.WriteString(delta)
		a.EmitToken(runID, providertypes.TextToken(delta))
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", content.Len())

	return providertypes.Response{
		SessionID: a.opts.SessionID,
		Type:      providertypes.ResponseTypeText,
		Content:   content.String(),
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
	return slog.Default().With("component", "provider.azure")
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, a.requestTimeout)
}

func resolveAPIKey(cfg config.AzureProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv(defaultAPIKeyEnv))
}

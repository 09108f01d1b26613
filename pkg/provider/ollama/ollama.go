// Package ollama runs prompts against a local Ollama server through
// langchaingo, streaming chunks as tokens.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	lcollama "github.com/tmc/langchaingo/llms/ollama"

	"turnrelay/pkg/config"
	providertypes "turnrelay/pkg/provider/types"
)

const (
	providerName     = "ollama"
	defaultServerURL = "http://127.0.0.1:11434"
)

// Adapter generates one completion per run.
type Adapter struct {
	providertypes.Streaming

	model          llms.Model
	opts           providertypes.Options
	requestTimeout time.Duration
}

// NewFactory returns a factory bound to the provider config.
func NewFactory(cfg config.OllamaProviderConfig) providertypes.Factory {
	return func(opts providertypes.Options) (providertypes.Adapter, error) {
		return New(cfg, opts)
	}
}

// New builds an adapter for one run.
func New(cfg config.OllamaProviderConfig, opts providertypes.Options) (*Adapter, error) {
	modelID := strings.TrimSpace(opts.ModelID)
	if modelID == "" {
		return nil, errors.New("model is required")
	}

	serverURL := strings.TrimSpace(cfg.ServerURL)
	if serverURL == "" {
		serverURL = defaultServerURL
	}

	model, err := lcollama.New(lcollama.WithServerURL(serverURL), lcollama.WithModel(modelID))
	if err != nil {
		return nil, fmt.Errorf("initialize ollama client: %w", err)
	}

	return newWithModel(model, opts, time.Duration(cfg.RequestTimeoutSeconds)*time.Second), nil
}

func newWithModel(model llms.Model, opts providertypes.Options, requestTimeout time.Duration) *Adapter {
	return &Adapter{
		model:          model,
		opts:           opts,
		requestTimeout: requestTimeout,
	}
}

// Run generates a completion, forwarding streamed chunks as tokens.
func (a *Adapter) Run(ctx context.Context, req providertypes.Request) (providertypes.Response, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "run")
	startedAt := time.Now()

	if strings.TrimSpace(req.Prompt) == "" {
		return providertypes.Response{}, errors.New("prompt is required")
	}

	messages := make([]llms.MessageContent, 0, 2)
	if systemPrompt := req.SystemPrompt(a.opts.Mode); systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	runID := uuid.NewString()
	callOpts := []llms.CallOption{
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) > 0 {
				a.EmitToken(runID, providertypes.TextToken(string(chunk)))
			}
			return nil
		}),
	}
	if temperature, ok := providertypes.FloatKwarg(a.opts.ModelKwargs, "temperature"); ok {
		callOpts = append(callOpts, llms.WithTemperature(temperature))
	}
	if maxTokens, ok := providertypes.IntKwarg(a.opts.ModelKwargs, "maxTokens"); ok {
		callOpts = append(callOpts, llms.WithMaxTokens(int(maxTokens)))
	}

	log.Debug("provider request started", "session_id", a.opts.SessionID, "model", a.opts.ModelID, "prompt_length", len(req.Prompt))

	resp, err := a.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.Response{}, fmt.Errorf("generate content failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no choices")
		return providertypes.Response{}, errors.New("generate content returned no choices")
	}

	choice := resp.Choices[0]
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(choice.Content))

	return providertypes.Response{
		SessionID: a.opts.SessionID,
		Type:      providertypes.ResponseTypeText,
		Content:   choice.Content,
		Metadata: providertypes.Metadata{
			Provider:    providerName,
			ModelID:     a.opts.ModelID,
			Mode:        a.opts.Mode,
			UserID:      a.opts.UserID,
			Prompt:      req.Prompt,
			ModelKwargs: a.opts.ModelKwargs,
			Usage:       providertypes.UsagePtr(usageFromGenerationInfo(choice.GenerationInfo)),
		},
	}, nil
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.ollama")
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, a.requestTimeout)
}

func usageFromGenerationInfo(info map[string]any) providertypes.TokenUsage {
	usage := providertypes.TokenUsage{
		InputTokens:  intValue(info["PromptTokens"]),
		OutputTokens: intValue(info["CompletionTokens"]),
		TotalTokens:  intValue(info["TotalTokens"]),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}

func intValue(value any) int64 {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Package opencode relays runs to an OpenCode server. Each run opens a
// fresh server-side session and sends one prompt.
package opencode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	sdk "github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"

	"turnrelay/pkg/config"
	providertypes "turnrelay/pkg/provider/types"
)

const providerName = "opencode"

// Adapter runs one prompt against OpenCode. The server does not stream over
// this API, so the whole reply is delivered as a single token.
type Adapter struct {
	providertypes.Streaming

	client         *sdk.Client
	opts           providertypes.Options
	requestTimeout time.Duration
}

// NewFactory returns a factory bound to the provider config.
func NewFactory(cfg config.OpenCodeProviderConfig) providertypes.Factory {
	return func(opts providertypes.Options) (providertypes.Adapter, error) {
		return New(cfg, opts)
	}
}

// New builds an adapter for one run.
func New(cfg config.OpenCodeProviderConfig, opts providertypes.Options) (*Adapter, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("providers.opencode.base_url is required")
	}
	if _, _, ok := parseModelRef(opts.ModelID); !ok {
		return nil, fmt.Errorf("model %q must be of the form provider/model", opts.ModelID)
	}

	requestOpts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if authHeader, ok := buildBasicAuthHeader(cfg); ok {
		requestOpts = append(requestOpts, option.WithHeader("Authorization", authHeader))
	}

	return &Adapter{
		client:         sdk.NewClient(requestOpts...),
		opts:           opts,
		requestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}, nil
}

// Run creates a server session and prompts it once.
func (a *Adapter) Run(ctx context.Context, req providertypes.Request) (providertypes.Response, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	if strings.TrimSpace(req.Prompt) == "" {
		return providertypes.Response{}, errors.New("prompt is required")
	}

	remoteSessionID, err := a.createSession(ctx, a.opts.SessionID)
	if err != nil {
		return providertypes.Response{}, err
	}

	text, usage, err := a.prompt(ctx, remoteSessionID, req)
	if err != nil {
		return providertypes.Response{}, err
	}

	a.EmitToken(uuid.NewString(), providertypes.TextToken(text))

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

func (a *Adapter) createSession(ctx context.Context, title string) (string, error) {
	log := providerLogger().With("operation", "create_session")
	startedAt := time.Now()
	log.Debug("provider request started", "title_length", len(strings.TrimSpace(title)))

	params := sdk.SessionNewParams{}
	if strings.TrimSpace(title) != "" {
		params.Title = sdk.F(strings.TrimSpace(title))
	}

	session, err := a.client.Session.New(ctx, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", fmt.Errorf("create session failed: %w", err)
	}
	if session.ID == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "empty session id")
		return "", errors.New("create session returned empty session id")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "remote_session_id", session.ID)

	return session.ID, nil
}

func (a *Adapter) prompt(ctx context.Context, remoteSessionID string, req providertypes.Request) (string, providertypes.TokenUsage, error) {
	log := providerLogger().With("operation", "prompt")
	startedAt := time.Now()
	log.Debug("provider request started",
		"session_id", a.opts.SessionID,
		"model", a.opts.ModelID,
		"prompt_length", len(req.Prompt),
	)

	params := sdk.SessionPromptParams{
		Parts: sdk.F([]sdk.SessionPromptParamsPartUnion{
			sdk.TextPartInputParam{
				Type: sdk.F(sdk.TextPartInputTypeText),
				Text: sdk.F(req.Prompt),
			},
		}),
	}
	if systemPrompt := req.SystemPrompt(a.opts.Mode); systemPrompt != "" {
		params.System = sdk.F(systemPrompt)
	}
	if providerID, modelID, ok := parseModelRef(a.opts.ModelID); ok {
		params.Model = sdk.F(sdk.SessionPromptParamsModel{
			ProviderID: sdk.F(providerID),
			ModelID:    sdk.F(modelID),
		})
	}

	response, err := a.client.Session.Prompt(ctx, remoteSessionID, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return "", providertypes.TokenUsage{}, fmt.Errorf("prompt failed: %w", err)
	}

	text := extractText(response.Parts)
	if text == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no text parts")
		return "", providertypes.TokenUsage{}, errors.New("prompt succeeded but returned no text parts")
	}
	log.Debug("provider request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"response_length", len(text),
		"parts_count", len(response.Parts),
	)

	tokens := response.Info.Tokens
	usage := providertypes.TokenUsage{
		InputTokens:     tokenCount(tokens.Input),
		OutputTokens:    tokenCount(tokens.Output),
		TotalTokens:     tokenCount(tokens.Input) + tokenCount(tokens.Output),
		ReasoningTokens: tokenCount(tokens.Reasoning),
		CacheReadTokens: tokenCount(tokens.Cache.Read),
	}
	return text, usage, nil
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.opencode")
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.requestTimeout)
}

func buildBasicAuthHeader(cfg config.OpenCodeProviderConfig) (string, bool) {
	passwordEnv := strings.TrimSpace(cfg.PasswordEnv)
	if passwordEnv == "" {
		return "", false
	}

	password := strings.TrimSpace(os.Getenv(passwordEnv))
	if password == "" {
		return "", false
	}

	username := strings.TrimSpace(cfg.Username)
	if username == "" {
		username = "opencode"
	}

	token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return "Basic " + token, true
}

// parseModelRef splits "provider/model" as used by OpenCode.
func parseModelRef(input string) (providerID string, modelID string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(input), "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	providerID = strings.TrimSpace(parts[0])
	modelID = strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", "", false
	}

	return providerID, modelID, true
}

func extractText(parts []sdk.Part) string {
	var lines []string
	for _, part := range parts {
		if part.Type == sdk.PartTypeText {
			text := strings.TrimSpace(part.Text)
			if text != "" {
				lines = append(lines, text)
			}
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func tokenCount(value float64) int64 {
	if value <= 0 {
		return 0
	}

	return int64(math.Round(value))
}

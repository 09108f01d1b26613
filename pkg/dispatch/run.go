package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/notify"
	"turnrelay/pkg/observability"
	"turnrelay/pkg/provider"
	providertypes "turnrelay/pkg/provider/types"
	"turnrelay/pkg/retrieval"
	"turnrelay/pkg/stream"
)

// RunHandler executes one run event end to end: adapter resolution,
// context retrieval, prompt augmentation, model invocation with token
// streaming, and the terminal final_response notification.
type RunHandler struct {
	registry     *provider.Registry
	resolver     *retrieval.Resolver
	notifier     notify.Notifier
	metrics      *observability.Metrics
	now          chat.Clock
	newSessionID func() string
	baseLog      *slog.Logger
	log          *slog.Logger
}

// NewRunHandler creates a run handler from deps.
func NewRunHandler(deps Deps) *RunHandler {
	deps = deps.withDefaults()
	return &RunHandler{
		registry:     deps.Registry,
		resolver:     deps.Resolver,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		now:          deps.Clock,
		newSessionID: deps.NewSessionID,
		baseLog:      deps.Logger,
		log:          deps.Logger.With("component", "dispatch.run"),
	}
}

// Handle processes event as a run. Any returned error fails the record.
func (h *RunHandler) Handle(ctx context.Context, event chat.Event) error {
	startedAt := time.Now()

	payload, err := event.RunPayload()
	if err != nil {
		return err
	}

	sessionID := h.resolveSessionID(payload, event)
	key := provider.Key(payload.Provider, payload.ModelName)
	log := h.log.With("user_id", event.UserID, "session_id", sessionID, "adapter", key)

	factory, err := h.registry.Resolve(key)
	if err != nil {
		return err
	}
	adapter, err := factory(providertypes.Options{
		ModelID:     payload.ModelName,
		Mode:        payload.Mode,
		SessionID:   sessionID,
		UserID:      event.UserID,
		ModelKwargs: payload.ModelKwargs,
	})
	if err != nil {
		return fmt.Errorf("create adapter %s: %w", key, err)
	}

	emitter := stream.NewEmitter(ctx, h.notifier, event.UserID, sessionID,
		stream.WithClock(h.now),
		stream.WithDisabled(adapter.StreamingDisabled),
		stream.WithEmitHook(h.metrics.IncTokens),
		stream.WithLogger(h.baseLog),
	)
	adapter.SetTokenHandler(emitter.Handle)
	if !providertypes.StreamingRequested(payload.ModelKwargs) {
		adapter.DisableStreaming()
	}

	resolved, err := h.resolver.Resolve(ctx, retrieval.Query{
		Prompt:      payload.Text,
		WorkspaceID: payload.WorkspaceID,
		UserID:      event.UserID,
		SourceMode:  payload.SourceMode,
		AllowWeb:    payload.AllowWeb,
	})
	if err != nil {
		return err
	}
	prompt := retrieval.BuildAugmentedPrompt(payload.Text, resolved.Block)

	log.Debug("Run started",
		"source_mode", resolved.Decision.Mode,
		"augmented", resolved.Block != "",
		"streaming", !adapter.StreamingDisabled(),
	)

	response, err := adapter.Run(ctx, providertypes.Request{
		Prompt:        prompt,
		WorkspaceID:   payload.WorkspaceID,
		UserGroups:    event.UserGroups,
		Images:        payload.Images,
		Documents:     payload.Documents,
		Videos:        payload.Videos,
		SystemPrompts: event.SystemPrompts,
	})
	if err != nil {
		return err
	}

	if response.SessionID == "" {
		response.SessionID = sessionID
	}
	if response.Metadata.Prompt == "" {
		response.Metadata.Prompt = prompt
	}
	if response.Metadata.ModelID == "" {
		response.Metadata.ModelID = payload.ModelName
	}

	notification := chat.NewFinalResponseNotification(h.now(), event.UserID, event.UserGroups, response)
	if err := h.notifier.Send(ctx, notification); err != nil {
		return fmt.Errorf("send final response: %w", err)
	}

	log.Info("Run complete",
		"tokens", emitter.Sequence(),
		"response_length", len(response.Content),
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	return nil
}

func (h *RunHandler) resolveSessionID(payload chat.RunPayload, event chat.Event) string {
	if id := strings.TrimSpace(payload.SessionID); id != "" {
		return id
	}
	if id := strings.TrimSpace(event.SessionID); id != "" {
		return id
	}
	return h.newSessionID()
}

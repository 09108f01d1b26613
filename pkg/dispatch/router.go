package dispatch

import (
	"context"
	"log/slog"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/notify"
	"turnrelay/pkg/observability"
)

// Router branches on the event action.
type Router struct {
	run      *RunHandler
	notifier notify.Notifier
	metrics  *observability.Metrics
	now      chat.Clock
	log      *slog.Logger
}

// NewRouter creates a router with its own run handler.
func NewRouter(deps Deps) *Router {
	deps = deps.withDefaults()
	return &Router{
		run:      NewRunHandler(deps),
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		now:      deps.Clock,
		log:      deps.Logger.With("component", "dispatch.router"),
	}
}

// Route handles one decoded event. Unknown actions are ignored and return
// nil so newer producers do not poison the queue.
func (r *Router) Route(ctx context.Context, event chat.Event) error {
	switch action := event.NormalizedAction(); action {
	case chat.ActionRun:
		return r.run.Handle(ctx, event)
	case chat.ActionHeartbeat:
		return r.heartbeat(ctx, event)
	default:
		r.log.Debug("Ignoring event with unknown action", "action", event.Action, "user_id", event.UserID)
		return nil
	}
}

func (r *Router) heartbeat(ctx context.Context, event chat.Event) error {
	payload, err := event.HeartbeatPayload()
	if err != nil {
		return err
	}

	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = event.SessionID
	}

	// Heartbeats always succeed.
	if err := r.notifier.Send(ctx, chat.NewHeartbeatNotification(r.now(), event.UserID, sessionID)); err != nil {
		r.log.Warn("Heartbeat delivery failed", "user_id", event.UserID, "session_id", sessionID, "error", err)
		return nil
	}
	r.metrics.IncHeartbeats()
	return nil
}

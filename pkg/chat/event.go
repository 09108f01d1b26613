// Package chat holds the inbound chat-turn event model and the outbound
// client notification shapes.
package chat

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Action names understood by the message router.
const (
	ActionRun       = "run"
	ActionHeartbeat = "heartbeat"
)

// Source modes accepted by the context resolver.
const (
	SourceInternal = "internal"
	SourceWeb      = "web"
	SourceHybrid   = "hybrid"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Event is one chat-turn request after the transport envelope is removed.
// Data is decoded lazily because its shape depends on Action.
type Event struct {
	Action        string            `json:"action"`
	UserID        string            `json:"userId" validate:"required"`
	UserGroups    []string          `json:"userGroups,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	SystemPrompts map[string]string `json:"systemPrompts,omitempty"`
	Data          json.RawMessage   `json:"data,omitempty"`
}

// RunPayload is the data section of a run event.
type RunPayload struct {
	Provider    string         `json:"provider" validate:"required"`
	ModelName   string         `json:"modelName" validate:"required"`
	Mode        string         `json:"mode"`
	Text        string         `json:"text"`
	WorkspaceID string         `json:"workspaceId,omitempty"`
	SourceMode  string         `json:"sourceMode,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Images      []MediaRef     `json:"images,omitempty"`
	Documents   []MediaRef     `json:"documents,omitempty"`
	Videos      []MediaRef     `json:"videos,omitempty"`
	ModelKwargs map[string]any `json:"modelKwargs,omitempty"`
	// AllowWeb lets a hybrid request opt out of web search.
	AllowWeb *bool `json:"allowWeb,omitempty"`
}

// HeartbeatPayload is the data section of a heartbeat event.
type HeartbeatPayload struct {
	SessionID string `json:"sessionId"`
}

// MediaRef points at stored media. It is passed to adapters untouched.
type MediaRef struct {
	Provider string `json:"provider,omitempty"`
	Key      string `json:"key"`
}

// ContextItem is one piece of evidence from a retrieval source.
type ContextItem struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// NormalizedAction returns the action lower-cased and trimmed.
func (e Event) NormalizedAction() string {
	return strings.ToLower(strings.TrimSpace(e.Action))
}

// RunPayload decodes and validates the run data section.
func (e Event) RunPayload() (RunPayload, error) {
	var payload RunPayload
	if len(e.Data) == 0 {
		return payload, NewError(ErrorMissingField, "data")
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return payload, WrapError(ErrorInvalidJSON, "run payload", err)
	}
	if err := validate.Struct(payload); err != nil {
		return payload, WrapError(ErrorMissingField, "run payload", err)
	}

	return payload, nil
}

// HeartbeatPayload decodes the heartbeat data section. A missing data
// section yields an empty session id.
func (e Event) HeartbeatPayload() (HeartbeatPayload, error) {
	var payload HeartbeatPayload
	if len(e.Data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return payload, WrapError(ErrorInvalidJSON, "heartbeat payload", err)
	}

	return payload, nil
}

// DataSessionID extracts data.sessionId without validating the rest of the
// payload, falling back to the event-level session id. It never invents one.
func (e Event) DataSessionID() string {
	var probe struct {
		SessionID string `json:"sessionId"`
	}
	if len(e.Data) > 0 && json.Unmarshal(e.Data, &probe) == nil && probe.SessionID != "" {
		return probe.SessionID
	}

	return e.SessionID
}

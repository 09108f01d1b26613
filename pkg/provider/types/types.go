// Package types defines the contract between the run handler and model
// adapters.
package types

import (
	"context"
	"strings"

	"turnrelay/pkg/chat"
)

// ResponseTypeText is the only response type adapters currently produce.
const ResponseTypeText = "text"

// SystemPromptKey selects the default entry of Request.SystemPrompts.
const SystemPromptKey = "system"

// Adapter invokes one model backend for one run.
type Adapter interface {
	// SetTokenHandler binds the per-run streaming callback. It must be called
	// before Run.
	SetTokenHandler(handler TokenHandler)
	DisableStreaming()
	StreamingDisabled() bool
	Run(ctx context.Context, req Request) (Response, error)
}

// Factory builds an adapter for one run.
type Factory func(opts Options) (Adapter, error)

// Options are the per-run construction arguments handed to a Factory.
type Options struct {
	ModelID     string
	Mode        string
	SessionID   string
	UserID      string
	ModelKwargs map[string]any
}

// Request is the augmented prompt plus pass-through fields.
type Request struct {
	Prompt        string
	WorkspaceID   string
	UserGroups    []string
	Images        []chat.MediaRef
	Documents     []chat.MediaRef
	Videos        []chat.MediaRef
	SystemPrompts map[string]string
}

// SystemPrompt returns the prompt registered for mode, falling back to the
// default key.
func (r Request) SystemPrompt(mode string) string {
	if prompt := strings.TrimSpace(r.SystemPrompts[mode]); prompt != "" {
		return prompt
	}

	return strings.TrimSpace(r.SystemPrompts[SystemPromptKey])
}

// Response is the adapter's full result; it becomes the data section of the
// final_response notification.
type Response struct {
	SessionID string   `json:"sessionId"`
	Type      string   `json:"type"`
	Content   string   `json:"content"`
	Metadata  Metadata `json:"metadata"`
}

// Metadata carries provider/model identity, the prompt actually sent and
// optional usage accounting.
type Metadata struct {
	Provider    string         `json:"provider,omitempty"`
	ModelID     string         `json:"modelId"`
	Mode        string         `json:"mode,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Prompt      string         `json:"prompt"`
	ModelKwargs map[string]any `json:"modelKwargs,omitempty"`
	Usage       *TokenUsage    `json:"usage,omitempty"`
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens         int64 `json:"inputTokens"`
	OutputTokens        int64 `json:"outputTokens"`
	TotalTokens         int64 `json:"totalTokens"`
	ReasoningTokens     int64 `json:"reasoningTokens,omitempty"`
	CacheCreationTokens int64 `json:"cacheCreationTokens,omitempty"`
	CacheReadTokens     int64 `json:"cacheReadTokens,omitempty"`
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheCreationTokens == 0 &&
		u.CacheReadTokens == 0
}

// UsagePtr returns nil for zero usage.
func UsagePtr(u TokenUsage) *TokenUsage {
	if u.IsZero() {
		return nil
	}

	return &u
}

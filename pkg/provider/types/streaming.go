package types

import (
	"strings"
	"sync"
)

// Fragment is one structured piece of a token. Only Text is rendered.
type Fragment struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// Token is one incremental output unit. Backends send either plain text or
// an ordered list of fragments.
type Token struct {
	Text      string
	Fragments []Fragment
}

// TextToken wraps a plain text fragment.
func TextToken(text string) Token {
	return Token{Text: text}
}

// String concatenates the token's text. Fragments win over Text when present.
func (t Token) String() string {
	if len(t.Fragments) == 0 {
		return t.Text
	}

	var b strings.Builder
	for _, fragment := range t.Fragments {
		b.WriteString(fragment.Text)
	}
	return b.String()
}

// TokenHandler receives tokens emitted during Run.
type TokenHandler func(runID string, token Token)

// Streaming implements the callback half of Adapter. Embed it in adapters.
type Streaming struct {
	mu       sync.RWMutex
	handler  TokenHandler
	disabled bool
}

// SetTokenHandler binds the per-run callback.
func (s *Streaming) SetTokenHandler(handler TokenHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// DisableStreaming suppresses token delivery for the rest of the run.
func (s *Streaming) DisableStreaming() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = true
}

// StreamingDisabled reports whether tokens are suppressed.
func (s *Streaming) StreamingDisabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled
}

// EmitToken forwards a token to the bound handler, if any.
func (s *Streaming) EmitToken(runID string, token Token) {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()

	if handler == nil {
		return
	}
	handler(runID, token)
}

// StreamingRequested reads the streaming flag from model kwargs. Absent or
// non-boolean values mean streaming is requested.
func StreamingRequested(kwargs map[string]any) bool {
	value, ok := kwargs["streaming"]
	if !ok {
		return true
	}

	enabled, ok := value.(bool)
	if !ok {
		return true
	}
	return enabled
}

// FloatKwarg reads a numeric model kwarg. JSON numbers decode as float64.
func FloatKwarg(kwargs map[string]any, key string) (float64, bool) {
	switch value := kwargs[key].(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	default:
		return 0, false
	}
}

// IntKwarg reads a positive integer model kwarg.
func IntKwarg(kwargs map[string]any, key string) (int64, bool) {
	value, ok := FloatKwarg(kwargs, key)
	if !ok || value <= 0 {
		return 0, false
	}

	return int64(value), true
}

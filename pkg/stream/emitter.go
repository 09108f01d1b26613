// Package stream turns adapter tokens into ordered llm_new_token
// notifications.
package stream

import (
	"context"
	"log/slog"
	"time"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/notify"
	providertypes "turnrelay/pkg/provider/types"
)

// Emitter owns the sequence counter of exactly one run. It is not shared
// between runs, so it needs no locking as long as the adapter calls its
// token handler from one goroutine at a time.
type Emitter struct {
	ctx       context.Context
	notifier  notify.Notifier
	userID    string
	sessionID string
	disabled  func() bool
	now       chat.Clock
	log       *slog.Logger
	onEmit    func()

	sequence int
}

// Option customizes an Emitter.
type Option func(*Emitter)

// WithClock overrides the timestamp source.
func WithClock(now chat.Clock) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDisabled suppresses emission whenever disabled reports true.
func WithDisabled(disabled func() bool) Option {
	return func(e *Emitter) {
		e.disabled = disabled
	}
}

// WithEmitHook runs hook after every emitted token.
func WithEmitHook(hook func()) Option {
	return func(e *Emitter) {
		e.onEmit = hook
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(log *slog.Logger) Option {
	return func(e *Emitter) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEmitter creates the emitter for one run. Its counter starts at zero.
func NewEmitter(ctx context.Context, notifier notify.Notifier, userID, sessionID string, opts ...Option) *Emitter {
	e := &Emitter{
		ctx:       ctx,
		notifier:  notifier,
		userID:    userID,
		sessionID: sessionID,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "stream.emitter", "session_id", sessionID)
	return e
}

// Handle is the adapter's token callback.
func (e *Emitter) Handle(runID string, token providertypes.Token) {
	e.Emit(runID, token)
}

// Emit sends token as the next notification of the run. It reports whether
// a notification was produced. Disabled streaming and empty tokens emit
// nothing and leave the counter untouched.
func (e *Emitter) Emit(runID string, token providertypes.Token) bool {
	if e.disabled != nil && e.disabled() {
		return false
	}

	text := token.String()
	if text == "" {
		return false
	}

	e.sequence++
	notification := chat.NewTokenNotification(e.now(), e.userID, e.sessionID, chat.Token{
		RunID:          runID,
		SequenceNumber: e.sequence,
		Value:          text,
	})

	if err := e.notifier.Send(e.ctx, notification); err != nil {
		e.log.Warn("Token notification failed", "run_id", runID, "sequence_number", e.sequence, "error", err)
	}
	if e.onEmit != nil {
		e.onEmit()
	}
	return true
}

// Sequence returns the number of tokens emitted so far.
func (e *Emitter) Sequence() int {
	return e.sequence
}

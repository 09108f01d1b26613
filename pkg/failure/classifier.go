// Package failure turns failed record outcomes into client-safe error
// notifications. Raw error text is only ever logged.
package failure

import (
	"context"
	"log/slog"
	"time"

	"turnrelay/pkg/bus"
	"turnrelay/pkg/chat"
	"turnrelay/pkg/notify"
)

// Classification is the result of matching one raw error.
type Classification struct {
	Rule    string
	Message string
}

// Classifier evaluates an ordered rule table.
type Classifier struct {
	rules    []Rule
	notifier notify.Notifier
	now      chat.Clock
	log      *slog.Logger
	observe  func(rule string)
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithRules replaces the default rule table.
func WithRules(rules []Rule) Option {
	return func(c *Classifier) {
		c.rules = rules
	}
}

// WithClock overrides the timestamp source.
func WithClock(now chat.Clock) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// WithObserver is called with the selected rule name for every
// classification.
func WithObserver(observe func(rule string)) Option {
	return func(c *Classifier) {
		c.observe = observe
	}
}

// NewClassifier creates a classifier using DefaultRules.
func NewClassifier(notifier notify.Notifier, log *slog.Logger, opts ...Option) *Classifier {
	if log == nil {
		log = slog.Default()
	}

	c := &Classifier{
		rules:    DefaultRules(),
		notifier: notifier,
		now:      time.Now,
		log:      log.With("component", "failure.classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the first matching rule, or the fallback.
func (c *Classifier) Classify(raw string) Classification {
	for _, rule := range c.rules {
		if rule.Matcher != nil && rule.Matcher.Match(raw) {
			return Classification{Rule: rule.Name, Message: rule.Message}
		}
	}
	return Classification{Rule: fallbackRule, Message: FallbackMessage}
}

// Notify sends exactly one error notification per failed outcome. Successful
// outcomes are ignored. Records whose envelope cannot be decoded have no
// recoverable user and are only logged. It returns the number of
// notifications sent.
func (c *Classifier) Notify(ctx context.Context, outcomes []bus.Outcome) int {
	sent := 0
	for _, outcome := range outcomes {
		if !outcome.Failed() {
			continue
		}

		event, err := chat.Decode(outcome.Record.Body)
		if err != nil {
			c.log.Error("Unable to notify failed record", "record_id", outcome.Record.ID, "decode_error", err, "error", outcome.Error)
			continue
		}
		// Never invent a session here; a missing id stays empty.
		sessionID := event.DataSessionID()

		classification := c.Classify(outcome.Error)
		if classification.Rule == fallbackRule {
			c.log.Error("Unable to process request", "record_id", outcome.Record.ID, "user_id", event.UserID, "session_id", sessionID, "error", outcome.Error)
		} else {
			c.log.Warn("Classified request failure", "record_id", outcome.Record.ID, "user_id", event.UserID, "session_id", sessionID, "rule", classification.Rule)
		}
		if c.observe != nil {
			c.observe(classification.Rule)
		}

		notification := chat.NewErrorNotification(c.now(), event.UserID, sessionID, classification.Message)
		if err := c.notifier.Send(ctx, notification); err != nil {
			c.log.Error("Error notification failed", "record_id", outcome.Record.ID, "user_id", event.UserID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

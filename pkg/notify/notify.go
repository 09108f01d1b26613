// Package notify delivers structured events to the client notification
// channel.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"turnrelay/pkg/chat"
	"turnrelay/pkg/logger"
)

const notificationPreviewLimit = 120

// Notifier accepts one notification for delivery. Ordering and retry are the
// channel's concern.
type Notifier interface {
	Send(ctx context.Context, notification chat.Notification) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, notification chat.Notification) error

// Send calls f.
func (f Func) Send(ctx context.Context, notification chat.Notification) error {
	return f(ctx, notification)
}

// Multi fans a notification out to every notifier. All notifiers are tried
// and their errors joined.
type Multi []Notifier

// Send delivers to every member.
func (m Multi) Send(ctx context.Context, notification chat.Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Send(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort wraps a mirror channel whose delivery must not decide the
// outcome of a record. Failures are logged and dropped.
type BestEffort struct {
	next Notifier
	log  *slog.Logger
}

// NewBestEffort wraps next.
func NewBestEffort(next Notifier, log *slog.Logger) *BestEffort {
	if log == nil {
		log = slog.Default()
	}
	return &BestEffort{next: next, log: log.With("component", "notify.best_effort")}
}

// Send delivers to the wrapped notifier and always returns nil.
func (b *BestEffort) Send(ctx context.Context, notification chat.Notification) error {
	if b.next == nil {
		return nil
	}
	if err := b.next.Send(ctx, notification); err != nil {
		b.log.Warn("Mirror delivery failed", "action", notification.Action, "user_id", notification.UserID, "error", err)
	}
	return nil
}

// Log writes notifications to the structured log. It stands in for a client
// channel when none is configured.
type Log struct {
	log *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log.With("component", "notify.log")}
}

// Send logs the notification.
func (l *Log) Send(_ context.Context, notification chat.Notification) error {
	attrs := []any{
		"action", notification.Action,
		"user_id", notification.UserID,
		"timestamp", notification.Timestamp,
	}
	switch data := notification.Data.(type) {
	case chat.TokenData:
		attrs = append(attrs, "session_id", data.SessionID, "sequence_number", data.Token.SequenceNumber)
	case chat.SessionData:
		attrs = append(attrs, "session_id", data.SessionID)
	case chat.ErrorData:
		attrs = append(attrs, "session_id", data.SessionID, "content", logger.Preview(data.Content, notificationPreviewLimit))
	}

	if notification.Action == chat.NotifyNewToken {
		l.log.Debug("Notification", attrs...)
		return nil
	}
	l.log.Info("Notification", attrs...)
	return nil
}

// Recorder keeps every notification in memory. It is safe for concurrent use.
type Recorder struct {
	mu            sync.Mutex
	notifications []chat.Notification
}

// Send records the notification.
func (r *Recorder) Send(_ context.Context, notification chat.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, notification)
	return nil
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []chat.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}

// ByAction returns recorded notifications with the given action.
func (r *Recorder) ByAction(action string) []chat.Notification {
	var out []chat.Notification
	for _, notification := range r.Notifications() {
		if notification.Action == action {
			out = append(out, notification)
		}
	}
	return out
}

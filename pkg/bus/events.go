package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	EventRecordReceived  EventType = "record_received"
	EventRecordSucceeded EventType = "record_succeeded"
	EventRecordFailed    EventType = "record_failed"
	EventBatchCompleted  EventType = "batch_completed"
)

type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	RecordID  string            `json:"record_id,omitempty"`
	Attempt   int               `json:"attempt,omitempty"`
	Action    string            `json:"action,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (b *Bus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	default:
	}

	// Sends never block, so the read lock is held across them; unsubscribe
	// closes channels under the write lock.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.eventSubscribers {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

func (b *Bus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := b.nextEventSubscriberID
	b.nextEventSubscriberID++
	b.eventSubscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if eventCh, ok := b.eventSubscribers[id]; ok {
				delete(b.eventSubscribers, id)
				close(eventCh)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-b.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}

// ObserveEvents logs every event until ctx ends or the bus closes.
func (b *Bus) ObserveEvents(ctx context.Context, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.observer")

	events, unsubscribe := b.SubscribeEvents(ctx, defaultBufferSize)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event Event) {
	attrs := []any{
		"event_type", event.Type,
		"record_id", event.RecordID,
	}
	if event.Attempt > 0 {
		attrs = append(attrs, "attempt", event.Attempt)
	}
	if event.Action != "" {
		attrs = append(attrs, "action", event.Action)
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	if event.SessionID != "" {
		attrs = append(attrs, "session_id", event.SessionID)
	}
	for key, value := range event.Payload {
		attrs = append(attrs, key, value)
	}

	switch event.Type {
	case EventRecordFailed:
		if event.Error != "" {
			attrs = append(attrs, "error", event.Error)
		}
		log.Warn("Bus event", attrs...)
	case EventRecordReceived:
		log.Debug("Bus event", attrs...)
	default:
		log.Info("Bus event", attrs...)
	}
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"turnrelay/pkg/bus"
	"turnrelay/pkg/chat"
	"turnrelay/pkg/failure"
	"turnrelay/pkg/observability"
)

const (
	tracerName    = "turnrelay/dispatch"
	actionUnknown = "unknown"
)

// BatchResult is the outcome of one batch.
type BatchResult struct {
	Outcomes []bus.Outcome
	// Report lists the records to delete and the records to redeliver.
	Report bus.Report
	// Notified counts error notifications sent for failed records.
	Notified int
}

// Failed returns the number of failed outcomes.
func (r BatchResult) Failed() int {
	return len(r.Report.FailedIDs)
}

// Dispatcher processes transport batches. Records of one batch are handled
// sequentially and a failure in one record never affects its siblings.
type Dispatcher struct {
	router     *Router
	classifier *failure.Classifier
	metrics    *observability.Metrics
	bus        *bus.Bus
	tracer     trace.Tracer
	log        *slog.Logger
}

// NewDispatcher wires a dispatcher. Registry and Notifier are required.
func NewDispatcher(deps Deps) (*Dispatcher, error) {
	if deps.Registry == nil {
		return nil, errors.New("adapter registry is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	deps = deps.withDefaults()

	return &Dispatcher{
		router:     NewRouter(deps),
		classifier: deps.Classifier,
		metrics:    deps.Metrics,
		bus:        deps.Bus,
		tracer:     otel.Tracer(tracerName),
		log:        deps.Logger.With("component", "dispatch.dispatcher"),
	}, nil
}

// Process handles every record of the batch, then classifies and notifies
// the failures. The returned report should be handed to the transport.
func (d *Dispatcher) Process(ctx context.Context, records []bus.Record) BatchResult {
	ctx, span := d.tracer.Start(ctx, "dispatch.batch", trace.WithAttributes(attribute.Int("batch.size", len(records))))
	defer span.End()

	outcomes := make([]bus.Outcome, 0, len(records))
	for _, record := range records {
		outcomes = append(outcomes, d.processRecord(ctx, record))
	}

	result := BatchResult{
		Outcomes: outcomes,
		Report:   bus.NewReport(outcomes),
	}
	if result.Failed() > 0 {
		result.Notified = d.classifier.Notify(ctx, outcomes)
	}

	d.metrics.ObserveBatch(len(records))
	span.SetAttributes(attribute.Int("batch.failed", result.Failed()))
	d.publish(ctx, bus.Event{
		Type: bus.EventBatchCompleted,
		Payload: map[string]string{
			"size":   fmt.Sprint(len(records)),
			"failed": fmt.Sprint(result.Failed()),
		},
	})

	return result
}

func (d *Dispatcher) processRecord(ctx context.Context, record bus.Record) bus.Outcome {
	ctx, span := d.tracer.Start(ctx, "dispatch.record", trace.WithAttributes(
		attribute.String("record.id", record.ID),
		attribute.Int("record.attempt", record.Attempt),
	))
	defer span.End()
	startedAt := time.Now()

	d.publish(ctx, bus.Event{Type: bus.EventRecordReceived, RecordID: record.ID, Attempt: record.Attempt})

	event, err := d.handle(ctx, record)
	outcome := bus.Outcome{Status: bus.StatusSuccess, Record: record}
	if err != nil {
		outcome.Status = bus.StatusFail
		outcome.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
	}

	action := event.NormalizedAction()
	span.SetAttributes(attribute.String("event.action", action), attribute.String("record.status", string(outcome.Status)))
	d.metrics.ObserveOutcome(string(outcome.Status), metricAction(action), time.Since(startedAt))

	bookkeeping := bus.Event{
		Type:      bus.EventRecordSucceeded,
		RecordID:  record.ID,
		Attempt:   record.Attempt,
		Action:    action,
		UserID:    event.UserID,
		SessionID: event.DataSessionID(),
	}
	if outcome.Failed() {
		bookkeeping.Type = bus.EventRecordFailed
		bookkeeping.Error = outcome.Error
	}
	d.publish(ctx, bookkeeping)

	d.log.Info("Request complete with status "+string(outcome.Status),
		"record_id", record.ID,
		"attempt", record.Attempt,
		"action", action,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	return outcome
}

// handle decodes and routes one record, converting panics into errors.
func (d *Dispatcher) handle(ctx context.Context, record bus.Record) (event chat.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic while handling record: %v", recovered)
			d.log.Error("Recovered from panic", "record_id", record.ID, "panic", recovered, "stack", string(debug.Stack()))
		}
	}()

	event, err = chat.Decode(record.Body)
	if err != nil {
		return chat.Event{}, err
	}
	return event, d.router.Route(ctx, event)
}

// metricAction bounds the action label to the actions the router knows.
func metricAction(action string) string {
	switch action {
	case chat.ActionRun, chat.ActionHeartbeat:
		return action
	default:
		return actionUnknown
	}
}

func (d *Dispatcher) publish(ctx context.Context, event bus.Event) {
	if d.bus == nil {
		return
	}
	d.bus.PublishEvent(ctx, event)
}

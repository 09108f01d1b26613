package bus

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by transports after Close.
var ErrClosed = errors.New("transport closed")

// Record is one delivery of a transport message. Attempt starts at 1 and
// grows with every redelivery.
type Record struct {
	ID         string    `json:"id"`
	Body       []byte    `json:"body"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Status is the per-record processing result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// Outcome is produced once per delivered record by the dispatcher.
type Outcome struct {
	Status Status
	// Error holds the raw failure text. It is for operators only.
	Error  string
	Record Record
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool {
	return o.Status == StatusFail
}

// Report tells the transport which records of a batch to delete and which
// to redeliver.
type Report struct {
	SucceededIDs []string `json:"succeeded_ids"`
	FailedIDs    []string `json:"failed_ids"`
}

// NewReport splits outcomes by status.
func NewReport(outcomes []Outcome) Report {
	var report Report
	for _, outcome := range outcomes {
		if outcome.Failed() {
			report.FailedIDs = append(report.FailedIDs, outcome.Record.ID)
			continue
		}
		report.SucceededIDs = append(report.SucceededIDs, outcome.Record.ID)
	}
	return report
}

// Transport is an at-least-once record queue. Received records stay
// invisible until reported; unreported records reappear after the
// visibility timeout.
type Transport interface {
	Enqueue(ctx context.Context, body []byte) (Record, error)
	// Receive returns up to max visible records without blocking. An empty
	// result means nothing is ready.
	Receive(ctx context.Context, max int) ([]Record, error)
	Report(ctx context.Context, report Report) error
	Close() error
}

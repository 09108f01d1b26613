package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"turnrelay/pkg/bus"
	"turnrelay/pkg/chat"
	"turnrelay/pkg/config"
	"turnrelay/pkg/dispatch"
	"turnrelay/pkg/observability"
)

// scriptedProcessor fails the records whose body is "fail".
type scriptedProcessor struct {
	mu      sync.Mutex
	batches [][]bus.Record
}

func (p *scriptedProcessor) Process(_ context.Context, records []bus.Record) dispatch.BatchResult {
	p.mu.Lock()
	p.batches = append(p.batches, records)
	p.mu.Unlock()

	outcomes := make([]bus.Outcome, 0, len(records))
	for _, record := range records {
		status := bus.StatusSuccess
		if string(record.Body) == "fail" {
			status = bus.StatusFail
		}
		outcomes = append(outcomes, bus.Outcome{Status: status, Record: record})
	}
	return dispatch.BatchResult{Outcomes: outcomes, Report: bus.NewReport(outcomes)}
}

type brokenTransport struct {
	bus.Transport
}

func (brokenTransport) Receive(context.Context, int) ([]bus.Record, error) {
	return nil, errors.New("queue unreachable")
}

func newTestService(t *testing.T, transport bus.Transport, processor Processor) *Service {
	t.Helper()

	svc, err := NewService(&config.Config{Queue: config.QueueConfig{BatchSize: 2}}, transport, processor, observability.NewMetrics(), nil)
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	return svc
}

func TestNewServiceValidates(t *testing.T) {
	queue := bus.NewMemoryQueue(0)
	if _, err := NewService(nil, queue, &scriptedProcessor{}, nil, nil); err == nil {
		t.Fatal("expected error without config")
	}
	if _, err := NewService(&config.Config{}, nil, &scriptedProcessor{}, nil, nil); err == nil {
		t.Fatal("expected error without transport")
	}
	if _, err := NewService(&config.Config{}, queue, nil, nil, nil); err == nil {
		t.Fatal("expected error without processor")
	}
}

func TestProcessOnceReportsOutcomes(t *testing.T) {
	queue := bus.NewMemoryQueue(0)
	ctx := context.Background()
	for _, body := range []string{"ok", "fail", "ok"} {
		if _, err := queue.Enqueue(ctx, []byte(body)); err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
	}

	processor := &scriptedProcessor{}
	svc := newTestService(t, queue, processor)

	n, err := svc.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce error: %v", err)
	}
	if n != 2 {
		t.Fatalf("processed = %d, want batch size 2", n)
	}

	// The failed record is visible again together with the untouched third.
	if got := queue.Len(); got != 2 {
		t.Fatalf("queue len = %d, want 2", got)
	}

	status := svc.currentStatus("ok")
	if status.Batches != 1 || status.RecordsProcessed != 2 || status.RecordsFailed != 1 {
		t.Fatalf("status = %+v", status)
	}
}

func TestProcessOnceEmptyQueue(t *testing.T) {
	processor := &scriptedProcessor{}
	svc := newTestService(t, bus.NewMemoryQueue(0), processor)

	n, err := svc.ProcessOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("ProcessOnce = %d, %v; want 0, nil", n, err)
	}
	if len(processor.batches) != 0 {
		t.Fatal("processor should not be called for an empty batch")
	}
}

func TestIsReady(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	if svc.isReady() {
		t.Fatal("expected not ready before polling starts")
	}

	svc.polling = true
	if !svc.isReady() {
		t.Fatal("expected ready while polling")
	}

	svc.lastErr = "boom"
	if svc.isReady() {
		t.Fatal("expected not ready after transport error")
	}
}

func TestReceiveErrorMarksNotReady(t *testing.T) {
	svc := newTestService(t, brokenTransport{}, &scriptedProcessor{})
	svc.setPolling(true)

	if _, err := svc.ProcessOnce(context.Background()); err == nil {
		t.Fatal("expected receive error")
	}

	recorder := httptest.NewRecorder()
	svc.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503", recorder.Code)
	}

	var body statusResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if body.Status != "not_ready" || body.LastError == "" {
		t.Fatalf("status body = %+v", body)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	svc := newTestService(t, bus.NewMemoryQueue(0), &scriptedProcessor{})

	recorder := httptest.NewRecorder()
	svc.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", recorder.Code)
	}
}

func TestHandleEnqueue(t *testing.T) {
	queue := bus.NewMemoryQueue(0)
	svc := newTestService(t, queue, &scriptedProcessor{})

	body, err := chat.Encode(chat.Event{Action: "heartbeat", UserID: "u1"})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	recorder := httptest.NewRecorder()
	svc.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/records", bytes.NewReader(body)))
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	if queue.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", queue.Len())
	}

	recorder = httptest.NewRecorder()
	svc.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/records", strings.NewReader(`{"Message":"{}"}`)))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("invalid event status = %d, want 400", recorder.Code)
	}
	if queue.Len() != 1 {
		t.Fatal("invalid event must not be enqueued")
	}
}

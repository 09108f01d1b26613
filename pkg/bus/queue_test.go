package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func queues(t *testing.T, visibility time.Duration) map[string]Transport {
	t.Helper()

	durable, err := OpenDurableQueue(DurableOptions{Visibility: visibility})
	if err != nil {
		t.Fatalf("OpenDurableQueue error: %v", err)
	}
	t.Cleanup(func() { _ = durable.Close() })

	memory := NewMemoryQueue(visibility)
	t.Cleanup(func() { _ = memory.Close() })

	return map[string]Transport{"memory": memory, "durable": durable}
}

func enqueueAll(t *testing.T, q Transport, bodies ...string) []Record {
	t.Helper()

	records := make([]Record, 0, len(bodies))
	for _, body := range bodies {
		record, err := q.Enqueue(context.Background(), []byte(body))
		if err != nil {
			t.Fatalf("Enqueue error: %v", err)
		}
		records = append(records, record)
	}
	return records
}

func TestReceiveHonoursBatchSizeAndOrder(t *testing.T) {
	for name, q := range queues(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			enqueueAll(t, q, "a", "b", "c")

			batch, err := q.Receive(context.Background(), 2)
			if err != nil {
				t.Fatalf("Receive error: %v", err)
			}
			if len(batch) != 2 || string(batch[0].Body) != "a" || string(batch[1].Body) != "b" {
				t.Fatalf("batch = %+v, want a,b", batch)
			}
			if batch[0].Attempt != 1 {
				t.Fatalf("attempt = %d, want 1", batch[0].Attempt)
			}

			rest, err := q.Receive(context.Background(), 10)
			if err != nil {
				t.Fatalf("Receive error: %v", err)
			}
			if len(rest) != 1 || string(rest[0].Body) != "c" {
				t.Fatalf("rest = %+v, want c", rest)
			}

			empty, err := q.Receive(context.Background(), 10)
			if err != nil {
				t.Fatalf("Receive error: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("expected in-flight records to stay invisible, got %d", len(empty))
			}
		})
	}
}

func TestReportRedeliversOnlyFailedRecords(t *testing.T) {
	for name, q := range queues(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			enqueueAll(t, q, "ok", "poison", "ok2")

			batch, err := q.Receive(context.Background(), 10)
			if err != nil {
				t.Fatalf("Receive error: %v", err)
			}

			outcomes := []Outcome{
				{Status: StatusSuccess, Record: batch[0]},
				{Status: StatusFail, Error: "boom", Record: batch[1]},
				{Status: StatusSuccess, Record: batch[2]},
			}
			if err := q.Report(context.Background(), NewReport(outcomes)); err != nil {
				t.Fatalf("Report error: %v", err)
			}

			redelivered, err := q.Receive(context.Background(), 10)
			if err != nil {
				t.Fatalf("Receive error: %v", err)
			}
			if len(redelivered) != 1 || string(redelivered[0].Body) != "poison" {
				t.Fatalf("redelivered = %+v, want poison only", redelivered)
			}
			if redelivered[0].Attempt != 2 || redelivered[0].ID != batch[1].ID {
				t.Fatalf("redelivered record = %+v, want same id attempt 2", redelivered[0])
			}
		})
	}
}

func TestUnreportedRecordsReappearAfterVisibilityTimeout(t *testing.T) {
	for name, q := range queues(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			switch typed := q.(type) {
			case *MemoryQueue:
				typed.now = func() time.Time { return now }
			case *DurableQueue:
				typed.now = func() time.Time { return now }
			}

			enqueueAll(t, q, "crash")
			if _, err := q.Receive(context.Background(), 1); err != nil {
				t.Fatalf("Receive error: %v", err)
			}

			now = now.Add(2 * time.Minute)
			batch, err := q.Receive(context.Background(), 1)
			if err != nil {
				t.Fatalf("Receive error: %v", err)
			}
			if len(batch) != 1 || batch[0].Attempt != 2 {
				t.Fatalf("batch = %+v, want one redelivery", batch)
			}
		})
	}
}

func TestReportUnknownRecordFails(t *testing.T) {
	for name, q := range queues(t, time.Minute) {
		t.Run(name, func(t *testing.T) {
			if err := q.Report(context.Background(), Report{FailedIDs: []string{"missing"}}); err == nil {
				t.Fatal("expected error for unknown record")
			}
		})
	}
}

func TestMemoryQueueClosed(t *testing.T) {
	q := NewMemoryQueue(0)
	_ = q.Close()

	if _, err := q.Enqueue(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue error = %v, want ErrClosed", err)
	}
	if _, err := q.Receive(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive error = %v, want ErrClosed", err)
	}
}

func TestDurableQueuePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	first, err := OpenDurableQueue(DurableOptions{Path: dir})
	if err != nil {
		t.Fatalf("OpenDurableQueue error: %v", err)
	}
	enqueueAll(t, first, "kept")
	if err := first.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	second, err := OpenDurableQueue(DurableOptions{Path: dir})
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	count, err := second.Len()
	if err != nil {
		t.Fatalf("Len error: %v", err)
	}
	if count != 1 {
		t.Fatalf("Len = %d, want 1", count)
	}

	batch, err := second.Receive(context.Background(), 10)
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if len(batch) != 1 || string(batch[0].Body) != "kept" {
		t.Fatalf("batch = %+v, want kept", batch)
	}
}

func TestNewReport(t *testing.T) {
	report := NewReport([]Outcome{
		{Status: StatusSuccess, Record: Record{ID: "1"}},
		{Status: StatusFail, Record: Record{ID: "2"}},
	})
	if len(report.SucceededIDs) != 1 || report.SucceededIDs[0] != "1" {
		t.Fatalf("succeeded = %v", report.SucceededIDs)
	}
	if len(report.FailedIDs) != 1 || report.FailedIDs[0] != "2" {
		t.Fatalf("failed = %v", report.FailedIDs)
	}
}

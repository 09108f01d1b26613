package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultVisibilityTimeout = 30 * time.Second

type inflight struct {
	record    Record
	visibleAt time.Time
}

// MemoryQueue is a process-local Transport with the same visibility and
// redelivery rules as DurableQueue.
type MemoryQueue struct {
	visibility time.Duration
	now        func() time.Time

	mu       sync.Mutex
	ready    []Record
	inflight map[string]inflight

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue creates an empty queue. visibility <= 0 selects 30s.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}

	return &MemoryQueue{
		visibility: visibility,
		now:        time.Now,
		inflight:   make(map[string]inflight),
		done:       make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, body []byte) (Record, error) {
	if err := q.check(ctx); err != nil {
		return Record{}, err
	}

	record := Record{
		ID:         uuid.NewString(),
		Body:       append([]byte(nil), body...),
		EnqueuedAt: q.now().UTC(),
	}

	q.mu.Lock()
	q.ready = append(q.ready, record)
	q.mu.Unlock()
	return record, nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Record, error) {
	if err := q.check(ctx); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = defaultBatchSize
	}

	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	for id, entry := range q.inflight {
		if !now.Before(entry.visibleAt) {
			delete(q.inflight, id)
			q.ready = append(q.ready, entry.record)
		}
	}

	n := min(max, len(q.ready))
	batch := make([]Record, 0, n)
	for _, record := range q.ready[:n] {
		record.Attempt++
		q.inflight[record.ID] = inflight{record: record, visibleAt: now.Add(q.visibility)}
		batch = append(batch, record)
	}
	q.ready = append([]Record(nil), q.ready[n:]...)

	return batch, nil
}

func (q *MemoryQueue) Report(ctx context.Context, report Report) error {
	if err := q.check(ctx); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range report.SucceededIDs {
		delete(q.inflight, id)
	}
	for _, id := range report.FailedIDs {
		entry, ok := q.inflight[id]
		if !ok {
			return fmt.Errorf("report unknown record %s", id)
		}
		delete(q.inflight, id)
		q.ready = append(q.ready, entry.record)
	}
	return nil
}

// Len returns the number of records not yet acknowledged.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.inflight)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	return nil
}

func (q *MemoryQueue) check(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	default:
		return nil
	}
}

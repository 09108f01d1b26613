package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	recordPrefix     = "rec/"
	sequenceKey      = "seq/records"
	sequenceLease    = 100
	recordKeyDigits  = 20
	defaultBatchSize = 10
)

type storedRecord struct {
	Record    Record    `json:"record"`
	VisibleAt time.Time `json:"visible_at"`
}

// DurableOptions configures a badger-backed queue.
type DurableOptions struct {
	// Path is the database directory. Empty means in-memory.
	Path       string
	Visibility time.Duration
	Logger     *slog.Logger
}

// DurableQueue persists records in badger so that unacknowledged work
// survives a worker restart. Records are delivered in enqueue order.
type DurableQueue struct {
	db         *badger.DB
	seq        *badger.Sequence
	visibility time.Duration
	now        func() time.Time
	log        *slog.Logger

	// Serializes Receive so two callers never claim the same record.
	receiveMu sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// OpenDurableQueue opens or creates the queue database.
func OpenDurableQueue(opts DurableOptions) (*DurableQueue, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.durable")

	var badgerOpts badger.Options
	if strings.TrimSpace(opts.Path) == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create queue directory %s: %w", opts.Path, err)
		}
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts = badgerOpts.WithLogger(&badgerLogger{logger: log})

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceLease)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open record sequence: %w", err)
	}

	visibility := opts.Visibility
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}

	return &DurableQueue{
		db:         db,
		seq:        seq,
		visibility: visibility,
		now:        time.Now,
		log:        log,
	}, nil
}

func (q *DurableQueue) Enqueue(ctx context.Context, body []byte) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	n, err := q.seq.Next()
	if err != nil {
		return Record{}, fmt.Errorf("allocate record id: %w", err)
	}

	now := q.now().UTC()
	stored := storedRecord{
		Record: Record{
			ID:         fmt.Sprintf("%0*d", recordKeyDigits, n),
			Body:       append([]byte(nil), body...),
			EnqueuedAt: now,
		},
		VisibleAt: now,
	}

	if err := q.db.Update(func(txn *badger.Txn) error {
		return putRecord(txn, stored)
	}); err != nil {
		return Record{}, fmt.Errorf("enqueue record: %w", err)
	}
	return stored.Record, nil
}

func (q *DurableQueue) Receive(ctx context.Context, max int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = defaultBatchSize
	}

	q.receiveMu.Lock()
	defer q.receiveMu.Unlock()

	now := q.now().UTC()
	var batch []Record
	err := q.db.Update(func(txn *badger.Txn) error {
		claimed, err := visibleRecords(txn, now, max)
		if err != nil {
			return err
		}

		for _, stored := range claimed {
			stored.Record.Attempt++
			stored.VisibleAt = now.Add(q.visibility)
			if err := putRecord(txn, stored); err != nil {
				return err
			}
			batch = append(batch, stored.Record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("receive records: %w", err)
	}

	return batch, nil
}

// Report deletes succeeded records and makes failed ones visible again
// immediately.
func (q *DurableQueue) Report(ctx context.Context, report Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := q.now().UTC()
	return q.db.Update(func(txn *badger.Txn) error {
		for _, id := range report.SucceededIDs {
			if err := txn.Delete(recordKey(id)); err != nil {
				return fmt.Errorf("delete record %s: %w", id, err)
			}
		}

		for _, id := range report.FailedIDs {
			stored, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			stored.VisibleAt = now
			if err := putRecord(txn, stored); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len counts records not yet acknowledged.
func (q *DurableQueue) Len() (int, error) {
	count := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (q *DurableQueue) Close() error {
	q.closeOnce.Do(func() {
		q.closeErr = errors.Join(q.seq.Release(), q.db.Close())
	})
	return q.closeErr
}

// visibleRecords scans records in key order and returns up to max whose
// visibility window has passed.
func visibleRecords(txn *badger.Txn, now time.Time, max int) ([]storedRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(recordPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var visible []storedRecord
	for it.Rewind(); it.Valid() && len(visible) < max; it.Next() {
		var stored storedRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", it.Item().Key(), err)
		}
		if now.Before(stored.VisibleAt) {
			continue
		}
		visible = append(visible, stored)
	}
	return visible, nil
}

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

func putRecord(txn *badger.Txn, stored storedRecord) error {
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", stored.Record.ID, err)
	}
	return txn.Set(recordKey(stored.Record.ID), payload)
}

func getRecord(txn *badger.Txn, id string) (storedRecord, error) {
	item, err := txn.Get(recordKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storedRecord{}, fmt.Errorf("report unknown record %s", id)
		}
		return storedRecord{}, fmt.Errorf("load record %s: %w", id, err)
	}

	var stored storedRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	}); err != nil {
		return storedRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return stored, nil
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

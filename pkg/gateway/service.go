// Package gateway runs the worker loop that pulls record batches from the
// transport, hands them to the dispatcher and reports outcomes back. It also
// serves health, readiness and metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"turnrelay/pkg/bus"
	"turnrelay/pkg/chat"
	"turnrelay/pkg/config"
	"turnrelay/pkg/dispatch"
	"turnrelay/pkg/observability"
)

const (
	defaultHealthHost   = "0.0.0.0"
	defaultHealthPort   = 18790
	defaultBatchSize    = 10
	defaultPollInterval = 500 * time.Millisecond
	maxRecordBytes      = 1 << 20
)

// Processor handles one batch of records.
type Processor interface {
	Process(ctx context.Context, records []bus.Record) dispatch.BatchResult
}

type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	transport bus.Transport
	processor Processor
	metrics   *observability.Metrics

	batchSize    int
	pollInterval time.Duration

	mu          sync.RWMutex
	startedAt   time.Time
	polling     bool
	batches     int64
	processed   int64
	failed      int64
	lastBatchAt time.Time
	lastErr     string
}

type statusResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Polling          bool   `json:"polling"`
	Batches          int64  `json:"batches"`
	RecordsProcessed int64  `json:"records_processed"`
	RecordsFailed    int64  `json:"records_failed"`
	LastBatchAt      string `json:"last_batch_at,omitempty"`
	LastError        string `json:"last_error,omitempty"`
}

func NewService(cfg *config.Config, transport bus.Transport, processor Processor, metrics *observability.Metrics, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if log == nil {
		log = slog.Default()
	}

	batchSize := cfg.Queue.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	pollInterval := time.Duration(cfg.Queue.PollIntervalMillis) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Service{
		cfg:          cfg,
		log:          log.With("component", "gateway.service"),
		transport:    transport,
		processor:    processor,
		metrics:      metrics,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}, nil
}

// Run polls until ctx is cancelled or the status server fails. A batch that
// has started is always finished and reported, even after cancellation.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.polling = true
	s.mu.Unlock()
	defer s.setPolling(false)

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	s.log.Info("Worker started", "batch_size", s.batchSize, "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Worker stopped")
			return nil
		case err := <-serverErrors:
			return err
		default:
		}

		n, err := s.ProcessOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("Batch poll failed", "error", err)
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(s.pollInterval):
		}
	}
}

// ProcessOnce receives at most one batch, dispatches it and reports the
// outcomes. It returns the number of records handled.
func (s *Service) ProcessOnce(ctx context.Context) (int, error) {
	records, err := s.transport.Receive(ctx, s.batchSize)
	if err != nil {
		s.setLastErr(err)
		return 0, fmt.Errorf("receive batch: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	// Runs are not cancellable once started.
	batchCtx := context.WithoutCancel(ctx)
	result := s.processor.Process(batchCtx, records)

	if err := s.transport.Report(batchCtx, result.Report); err != nil {
		s.setLastErr(err)
		return len(records), fmt.Errorf("report batch: %w", err)
	}

	s.mu.Lock()
	s.batches++
	s.processed += int64(len(records))
	s.failed += int64(result.Failed())
	s.lastBatchAt = time.Now().UTC()
	s.lastErr = ""
	s.mu.Unlock()

	s.log.Debug("Batch reported",
		"size", len(records),
		"succeeded", len(result.Report.SucceededIDs),
		"failed", len(result.Report.FailedIDs),
	)
	return len(records), nil
}

// Handler serves /healthz, /readyz, /metrics and the POST /records producer
// endpoint.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("POST /records", s.handleEnqueue)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

// handleEnqueue accepts one encoded event envelope. Bodies that do not
// decode are rejected so that producers learn about schema errors at once.
func (s *Service) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	if _, err := chat.Decode(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, err := s.transport.Enqueue(r.Context(), body)
	if err != nil {
		s.log.Error("Failed to enqueue record", "error", err)
		http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": record.ID})
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	lastBatch := ""
	if !s.lastBatchAt.IsZero() {
		lastBatch = s.lastBatchAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		Polling:          s.polling,
		Batches:          s.batches,
		RecordsProcessed: s.processed,
		RecordsFailed:    s.failed,
		LastBatchAt:      lastBatch,
		LastError:        s.lastErr,
	}
}

// isReady requires a running poll loop whose last transport call succeeded.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.polling && s.lastErr == ""
}

func (s *Service) setPolling(polling bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polling = polling
}

func (s *Service) setLastErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = errorString(err)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

package trafficlog

import (
	"context"
	"log/slog"
	"time"

	"gatewayproxy/internal/observability/metrics"
)

// Sink is the assembled queue-plus-worker pipeline: producers call Enqueue
// (never blocking), and a single background goroutine batches entries out
// to a Driver.
type Sink struct {
	queue         *queue
	driver        Driver
	batchSize     int
	flushInterval time.Duration
	recorder      *metrics.Recorder
	logger        *slog.Logger

	stop    chan struct{}
	stopped chan struct{}
}

// Config controls Sink construction.
type Config struct {
	QueueCapacity int
	BatchSize     int
	FlushInterval time.Duration
	Recorder      *metrics.Recorder
	Logger        *slog.Logger
}

// NewSink constructs a Sink around driver and starts its background
// worker. Callers must call Shutdown to drain pending entries before the
// process exits.
func NewSink(driver Driver, cfg Config) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Sink{
		queue:         newQueue(cfg.QueueCapacity, cfg.Recorder, cfg.Logger),
		driver:        driver,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		recorder:      cfg.Recorder,
		logger:        cfg.Logger,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue admits e into the bounded queue. If the queue is full, the
// oldest pending entry is dropped to make room; Enqueue itself never
// blocks the caller.
func (s *Sink) Enqueue(e Entry) {
	select {
	case <-s.stop:
		s.logger.Warn("traffic log sink is shutting down, dropping entry", "trace_id", e.TraceID)
		return
	default:
	}
	s.queue.enqueue(e)
}

// QueueDepth reports the current pending entry count.
func (s *Sink) QueueDepth() int {
	return s.queue.len()
}

// DroppedCount reports the total number of drop-oldest evictions observed
// so far.
func (s *Sink) DroppedCount() uint64 {
	return s.queue.droppedCount()
}

func (s *Sink) run() {
	defer close(s.stopped)
	for {
		batch := s.queue.drain(s.batchSize)
		if len(batch) > 0 {
			s.flush(batch)
			continue
		}

		select {
		case <-s.queue.notify:
		case <-time.After(s.flushInterval):
		case <-s.stop:
			s.drainAll()
			return
		}
	}
}

func (s *Sink) drainAll() {
	for {
		batch := s.queue.drain(s.batchSize)
		if len(batch) == 0 {
			return
		}
		s.flush(batch)
	}
}

func (s *Sink) flush(batch []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.driver.WriteBatch(ctx, batch); err != nil {
		s.recorder.FlushFailed()
		s.logger.Error("traffic log batch dropped after driver error", "count", len(batch), "error", err)
	}
}

// Shutdown signals the worker to perform a final drain-and-flush, waits
// for it to finish (or ctx to expire), and closes the underlying driver.
func (s *Sink) Shutdown(ctx context.Context) error {
	close(s.stop)
	select {
	case <-s.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.driver.Close()
}

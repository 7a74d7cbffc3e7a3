package trafficlog

import (
	"log/slog"
	"sync"

	"gatewayproxy/internal/observability/metrics"
)

// queue is a bounded multi-producer/single-consumer FIFO with a
// drop-oldest overflow policy: an enqueue on a full queue always admits
// the new entry and evicts the oldest pending one, so the queue never
// blocks a producer.
type queue struct {
	mu       sync.Mutex
	items    []Entry
	capacity int
	notify   chan struct{}
	recorder *metrics.Recorder
	logger   *slog.Logger
	dropped  uint64
}

func newQueue(capacity int, recorder *metrics.Recorder, logger *slog.Logger) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &queue{
		items:    make([]Entry, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		recorder: recorder,
		logger:   logger,
	}
}

// enqueue admits e, evicting the oldest pending entry if the queue is at
// capacity. It never blocks.
func (q *queue) enqueue(e Entry) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.dropped++
		q.recorder.QueueDropped()
		q.logger.Warn("trafficlog: queue full, dropping oldest entry",
			"trace_id", dropped.TraceID,
			"capacity", q.capacity,
		)
	}
	q.items = append(q.items, e)
	depth := len(q.items)
	q.mu.Unlock()

	q.recorder.QueueEnqueued(depth)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns up to max pending entries without blocking.
func (q *queue) drain(max int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	n := max
	if n > len(q.items) {
		n = len(q.items)
	}
	batch := append([]Entry(nil), q.items[:n]...)
	q.items = q.items[n:]
	q.recorder.QueueEnqueued(len(q.items))
	return batch
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

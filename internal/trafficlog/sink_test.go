package trafficlog

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingDriver struct {
	mu      sync.Mutex
	batches [][]Entry
	closed  bool
	block   chan struct{}
}

func (d *recordingDriver) WriteBatch(ctx context.Context, entries []Entry) error {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cloned := append([]Entry(nil), entries...)
	d.batches = append(d.batches, cloned)
	return nil
}

func (d *recordingDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *recordingDriver) all() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	var flat []Entry
	for _, b := range d.batches {
		flat = append(flat, b...)
	}
	return flat
}

func TestSinkBackpressureDropsExactlyOneOldest(t *testing.T) {
	driver := &recordingDriver{block: make(chan struct{})}
	sink := NewSink(driver, Config{QueueCapacity: 4, BatchSize: 64, FlushInterval: 50 * time.Millisecond})

	for i := 0; i < 5; i++ {
		sink.Enqueue(Entry{TraceID: string(rune('a' + i))})
	}

	if sink.DroppedCount() != 1 {
		t.Fatalf("expected exactly one drop, got %d", sink.DroppedCount())
	}

	close(driver.block)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	flushed := driver.all()
	if len(flushed) != 4 {
		t.Fatalf("expected 4 flushed entries, got %d (%v)", len(flushed), flushed)
	}
	want := []string{"b", "c", "d", "e"}
	for i, e := range flushed {
		if e.TraceID != want[i] {
			t.Fatalf("expected in-order flush %v, got %v", want, flushed)
		}
	}
}

func TestSinkDrainsOnShutdown(t *testing.T) {
	driver := &recordingDriver{}
	sink := NewSink(driver, Config{QueueCapacity: 16, BatchSize: 64, FlushInterval: time.Hour})

	for i := 0; i < 3; i++ {
		sink.Enqueue(Entry{TraceID: string(rune('a' + i))})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(driver.all()) != 3 {
		t.Fatalf("expected all 3 entries drained on shutdown, got %d", len(driver.all()))
	}
	if !driver.closed {
		t.Fatalf("expected driver to be closed on shutdown")
	}
}

func TestSinkEnqueueAfterShutdownIsDropped(t *testing.T) {
	driver := &recordingDriver{}
	sink := NewSink(driver, Config{QueueCapacity: 16, BatchSize: 64, FlushInterval: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	sink.Enqueue(Entry{TraceID: "late"})
	for _, e := range driver.all() {
		if e.TraceID == "late" {
			t.Fatalf("expected post-shutdown enqueue to be dropped")
		}
	}
}

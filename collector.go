package spanz

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector is a Writer that buffers written traces for batch export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	traces       [][]SpanData
	tracesCh     chan []SpanData
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	startOnce    sync.Once
	closeOnce    sync.Once
	closed       atomic.Bool // Track if collector is closed.
	syncMode     bool        // Bypass channel for synchronous collection.
}

// NewCollector creates a new collector with the specified name and buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	return &Collector{
		name:     name,
		traces:   make([][]SpanData, 0, 8), // Start with small capacity.
		tracesCh: make(chan []SpanData, bufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Name returns the collector name.
func (c *Collector) Name() string { return c.name }

// Start runs the collector's receive loop. Safe to call multiple times.
func (c *Collector) Start() {
	c.startOnce.Do(func() { go c.run() })
}

// run receives traces from the channel until the collector is closed.
func (c *Collector) run() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining traces before shutdown.
			for {
				select {
				case trace := <-c.tracesCh:
					c.buffer(trace)
				default:
					return // Clean shutdown.
				}
			}
		case trace := <-c.tracesCh:
			c.buffer(trace)
		}
	}
}

// Close shuts down the collector gracefully. Buffered traces stay available
// to Export. Safe to call multiple times.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.Start() // so done is always closed
		close(c.stopCh)
		select {
		case <-c.done:
			// Clean shutdown completed.
		case <-time.After(100 * time.Millisecond):
			// Timeout - the loop keeps draining in the background.
		}
	})
	return nil
}

// Write implements Writer. The trace is snapshotted, then queued without
// blocking; if the internal channel is full the trace is dropped and counted.
// In sync mode, traces are buffered directly for deterministic testing.
func (c *Collector) Write(trace []*Span) {
	if len(trace) == 0 {
		return
	}
	if c.closed.Load() {
		// Collector is closed - drop trace.
		c.droppedCount.Add(1)
		return
	}

	snapshot := Snapshot(trace)
	if c.syncMode {
		c.buffer(snapshot)
		return
	}

	select {
	case c.tracesCh <- snapshot:
		// Successfully queued.
	default:
		// Channel full - drop trace to prevent blocking.
		c.droppedCount.Add(1)
	}
}

// buffer appends a trace to the internal buffer.
func (c *Collector) buffer(trace []SpanData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if buffer needs to grow - optimized growth strategy.
	if len(c.traces) >= cap(c.traces) {
		currentCap := cap(c.traces)
		var newCap int
		if currentCap < 1024 {
			// Double capacity for small buffers.
			newCap = currentCap * 2
		} else {
			// Grow by 50% for large buffers to avoid excessive memory usage.
			newCap = currentCap + currentCap/2
		}
		if newCap < 32 {
			newCap = 32
		}
		grown := make([][]SpanData, len(c.traces), newCap)
		copy(grown, c.traces)
		c.traces = grown
	}
	c.traces = append(c.traces, trace)
}

// Export returns all buffered traces and clears the internal buffer.
// The returned traces are snapshots and safe to modify.
func (c *Collector) Export() [][]SpanData {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.traces) == 0 {
		return nil
	}

	result := make([][]SpanData, len(c.traces))
	copy(result, c.traces)

	// More conservative shrinking to avoid allocation churn.
	if cap(c.traces) > 256 && len(c.traces) < cap(c.traces)/8 {
		newCap := cap(c.traces) / 4
		if newCap < 32 {
			newCap = 32
		}
		c.traces = make([][]SpanData, 0, newCap)
	} else {
		c.traces = c.traces[:0] // Keep capacity, reset length.
	}

	return result
}

// Count returns the current number of buffered traces.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.traces)
}

// DroppedCount returns the total number of traces dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, traces are buffered directly without using the channel.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode = sync
}

// Reset clears all buffered traces and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.traces = c.traces[:0]
	c.droppedCount.Store(0)
}

package spanz

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Writer receives finished, sampled traces. Write is called at most once per
// trace, from the goroutine that finished the trace's last span, and must not
// block; slow exporters belong behind an AsyncWriter or a Collector.
type Writer interface {
	Start()
	Write(trace []*Span)
	Close() error
}

// NoopWriter discards every trace.
type NoopWriter struct{}

// Start implements Writer.
func (NoopWriter) Start() {}

// Write implements Writer.
func (NoopWriter) Write([]*Span) {}

// Close implements Writer.
func (NoopWriter) Close() error { return nil }

// Snapshot converts a trace to serializable span data, preserving order.
func Snapshot(trace []*Span) []SpanData {
	out := make([]SpanData, len(trace))
	for i, s := range trace {
		out[i] = s.Data()
	}
	return out
}

// LoggingWriter logs each trace as one JSON encoded entry.
type LoggingWriter struct {
	logger *zap.Logger
}

// NewLoggingWriter creates a writer logging to logger.
func NewLoggingWriter(logger *zap.Logger) *LoggingWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingWriter{logger: logger.Named("writer")}
}

// Start implements Writer.
func (w *LoggingWriter) Start() {}

// Write implements Writer.
func (w *LoggingWriter) Write(trace []*Span) {
	if len(trace) == 0 {
		return
	}
	b, err := json.Marshal(Snapshot(trace))
	if err != nil {
		w.logger.Warn("failed to encode trace", zap.Error(err))
		return
	}
	w.logger.Info("trace",
		zap.Uint64("trace_id", trace[0].TraceID()),
		zap.Int("spans", len(trace)),
		zap.ByteString("json", b))
}

// Close implements Writer.
func (w *LoggingWriter) Close() error {
	_ = w.logger.Sync()
	return nil
}

// AsyncWriter hands traces to a bounded pool of workers that call the
// wrapped writer. Write never blocks: when the queue is full the trace is
// dropped and counted.
//
//nolint:govet // Field order optimized for functionality over memory
type AsyncWriter struct {
	next    Writer
	logger  *zap.Logger
	tasks   chan []*Span
	stop    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64
	workers int
	started atomic.Bool
	closed  atomic.Bool
}

// NewAsyncWriter wraps next with workers goroutines and a queue of queueSize
// traces.
func NewAsyncWriter(next Writer, workers, queueSize int, logger *zap.Logger) (*AsyncWriter, error) {
	if next == nil {
		return nil, errors.New("async writer needs a downstream writer")
	}
	if workers <= 0 {
		return nil, errors.Newf("workers must be > 0, got %d", workers)
	}
	if queueSize <= 0 {
		return nil, errors.Newf("queueSize must be > 0, got %d", queueSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncWriter{
		next:    next,
		logger:  logger.Named("async"),
		tasks:   make(chan []*Span, queueSize),
		stop:    make(chan struct{}),
		workers: workers,
	}, nil
}

// Start launches the workers and starts the downstream writer.
// Safe to call multiple times.
func (w *AsyncWriter) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.next.Start()
	w.wg.Add(w.workers)
	for i := 0; i < w.workers; i++ {
		go w.run()
	}
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case trace := <-w.tasks:
			w.deliver(trace)
		case <-w.stop:
			// Drain what is already queued.
			for {
				select {
				case trace := <-w.tasks:
					w.deliver(trace)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) deliver(trace []*Span) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			w.logger.Error("writer panicked", zap.Any("panic", r))
		}
	}()
	w.next.Write(trace)
}

// Write implements Writer.
func (w *AsyncWriter) Write(trace []*Span) {
	if w.closed.Load() {
		w.dropped.Add(1)
		return
	}
	select {
	case w.tasks <- trace:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns the number of traces dropped because the queue was full
// or the writer was closed.
func (w *AsyncWriter) Dropped() uint64 { return w.dropped.Load() }

// Failed returns the number of traces whose delivery panicked.
func (w *AsyncWriter) Failed() uint64 { return w.failed.Load() }

// Close drains the queue, stops the workers and closes the downstream writer.
// Safe to call multiple times.
func (w *AsyncWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.stop)
	w.wg.Wait()
	return w.next.Close()
}

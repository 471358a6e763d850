package spanz

import (
	"sync"
	"sync/atomic"
)

// sealed marks a trace buffer whose pending count already crossed zero.
// No span or continuation can register on it afterwards.
const sealed int64 = -1

// traceBuffer accumulates the finished spans of one trace and detects the
// moment the last pending span or continuation is released.
//
//nolint:govet // Field order optimized for readability over memory
type traceBuffer struct {
	tracer   *Tracer
	spans    []*Span // finish order
	traceID  uint64
	pending  atomic.Int64
	priority atomic.Int32
	mu       sync.Mutex
}

func newTraceBuffer(t *Tracer, traceID uint64, priority SamplingPriority) *traceBuffer {
	tb := &traceBuffer{
		tracer:  t,
		traceID: traceID,
		spans:   make([]*Span, 0, 4),
	}
	tb.priority.Store(int32(priority))
	t.openTraces.Add(1)
	return tb
}

// register reserves a pending slot. It fails once the buffer is sealed.
func (tb *traceBuffer) register() bool {
	for {
		n := tb.pending.Load()
		if n == sealed {
			return false
		}
		if tb.pending.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release gives back a pending slot. It returns true for exactly one caller:
// the one whose release made the count reach zero. That caller owns the
// flush. Releasing more than was registered is ignored.
func (tb *traceBuffer) release() bool {
	for {
		n := tb.pending.Load()
		if n <= 0 {
			return false
		}
		next := n - 1
		if next == 0 {
			next = sealed
		}
		if tb.pending.CompareAndSwap(n, next) {
			return next == sealed
		}
	}
}

// addFinished appends a finished span and releases its slot. If the span was
// the last pending entry the buffer is flushed to the tracer.
func (tb *traceBuffer) addFinished(span *Span) {
	tb.mu.Lock()
	tb.spans = append(tb.spans, span)
	tb.mu.Unlock()

	tb.releaseAndMaybeFlush()
}

// releaseAndMaybeFlush drops one reservation and flushes on the zero crossing.
func (tb *traceBuffer) releaseAndMaybeFlush() {
	if !tb.release() {
		return
	}
	tb.tracer.openTraces.Add(-1)

	tb.mu.Lock()
	trace := tb.spans
	tb.spans = nil
	tb.mu.Unlock()

	tb.tracer.write(trace)
}

// pendingCount reports outstanding spans plus continuations; 0 once sealed.
func (tb *traceBuffer) pendingCount() int64 {
	n := tb.pending.Load()
	if n == sealed {
		return 0
	}
	return n
}

func (tb *traceBuffer) isSealed() bool {
	return tb.pending.Load() == sealed
}

func (tb *traceBuffer) samplingPriority() SamplingPriority {
	return SamplingPriority(tb.priority.Load())
}

func (tb *traceBuffer) setSamplingPriority(p SamplingPriority) {
	tb.priority.Store(int32(p))
}

// rootOf picks the span that represents a finished trace: the first span
// whose parent is not part of the trace, else the first finished span.
func rootOf(trace []*Span) *Span {
	if len(trace) == 0 {
		return nil
	}
	ids := make(map[uint64]struct{}, len(trace))
	for _, s := range trace {
		ids[s.context.spanID] = struct{}{}
	}
	for _, s := range trace {
		if _, ok := ids[s.context.parentID]; !ok {
			return s
		}
	}
	return trace[0]
}

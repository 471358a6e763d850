package spanz

import (
	"sync"

	"go.uber.org/zap"
)

// Continuation hands an active span over to another goroutine. Capturing
// reserves a pending slot in the span's trace so the trace cannot complete
// while the continuation is outstanding; the slot is given back when the
// activated span is deactivated, or when the continuation is closed unused.
type Continuation struct {
	span     *Span
	reserved *traceBuffer // nil once handed over or closed
	mu       sync.Mutex
	used     bool
}

func newContinuation(span *Span) *Continuation {
	c := &Continuation{span: span}
	tb := span.context.trace
	if tb.register() {
		c.reserved = tb
	} else {
		span.context.tracer.usageError("capture after trace completed", span.context)
	}
	return c
}

// Context returns the captured span context.
func (c *Continuation) Context() *SpanContext {
	if c == nil {
		return nil
	}
	return c.span.context
}

// Activate makes the captured span active on the calling goroutine. The first
// activation takes over the capture reservation; later activations reserve a
// slot of their own, so each returned ActiveSpan is deactivated independently.
func (c *Continuation) Activate() *ActiveSpan {
	if c == nil {
		return nil
	}
	t := c.span.context.tracer

	c.mu.Lock()
	reservation := c.reserved
	c.reserved = nil
	first := !c.used
	c.used = true
	c.mu.Unlock()

	if !first {
		if tb := c.span.context.trace; tb.register() {
			reservation = tb
		}
	}
	t.logger.Debug("activated continuation",
		zap.Uint64("trace_id", c.span.context.traceID),
		zap.Uint64("span_id", c.span.context.spanID),
		zap.Bool("first", first))
	return t.scopes.activate(c.span, reservation)
}

// Close releases the reservation of a continuation that was never activated.
// Safe to call multiple times.
func (c *Continuation) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	reservation := c.reserved
	c.reserved = nil
	c.used = true
	c.mu.Unlock()

	if reservation != nil {
		reservation.releaseAndMaybeFlush()
	}
}

package spanz

import (
	"time"

	"go.uber.org/zap"
)

// SpanData is a complete, immutable snapshot of a finished span, laid out for
// serialization by writers.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type SpanData struct {
	Tags     map[string]Value  `json:"tags,omitempty"`
	Baggage  map[string]string `json:"baggage,omitempty"`
	Service  string            `json:"service"`
	Name     string            `json:"name"`
	Resource string            `json:"resource"`
	Type     string            `json:"type,omitempty"`
	TraceID  uint64            `json:"trace_id"`
	SpanID   uint64            `json:"span_id"`
	ParentID uint64            `json:"parent_id"`
	Start    int64             `json:"start"`
	Duration int64             `json:"duration"`
	Error    bool              `json:"error"`
}

// Span represents a single timed operation within a trace.
// Safe for concurrent use: metadata writes are serialized by the span's
// context and become no-ops once the span is finished.
type Span struct {
	context    *SpanContext
	startTime  time.Time
	startNanos int64
	duration   int64 // guarded by context.mu
}

// Context returns the span's context. Nil-safe.
func (s *Span) Context() *SpanContext {
	if s == nil {
		return nil
	}
	return s.context
}

// TraceID returns the trace id of this span.
func (s *Span) TraceID() uint64 { return s.context.traceID }

// SpanID returns the span id of this span.
func (s *Span) SpanID() uint64 { return s.context.spanID }

// ParentID returns the parent span id, 0 for a root span.
func (s *Span) ParentID() uint64 { return s.context.parentID }

// StartTime returns the span start time.
func (s *Span) StartTime() time.Time { return s.startTime }

// StartNanos returns the span start as Unix nanoseconds.
func (s *Span) StartNanos() int64 { return s.startNanos }

// DurationNanos returns the span duration, 0 until finished.
func (s *Span) DurationNanos() int64 {
	s.context.mu.RLock()
	defer s.context.mu.RUnlock()
	return s.duration
}

// Finished reports whether Finish has been called.
func (s *Span) Finished() bool {
	s.context.mu.RLock()
	defer s.context.mu.RUnlock()
	return s.context.finished
}

// SetTag adds a tag to the span. Tags handled by a decorator may rewrite span
// fields instead of being stored. No-op once the span is finished.
func (s *Span) SetTag(key string, value Value) *Span {
	if s == nil || key == "" || !value.Valid() {
		return s
	}
	c := s.context
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		c.tracer.usageError("tag on finished span", c, zap.String("tag", key))
		return s
	}
	c.tracer.applyTagLocked(c, key, value)
	return s
}

// Tag returns a tag value by key.
func (s *Span) Tag(key string) (Value, bool) { return s.context.Tag(key) }

// SetBaggageItem sets a baggage item, propagated to children created after
// this call. No-op once the span is finished.
func (s *Span) SetBaggageItem(key, value string) *Span {
	if s == nil {
		return s
	}
	c := s.context
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		c.tracer.usageError("baggage on finished span", c, zap.String("key", key))
		return s
	}
	if c.baggage == nil {
		c.baggage = make(map[string]string)
	}
	c.baggage[key] = value
	return s
}

// BaggageItem returns a baggage value, "" when absent.
func (s *Span) BaggageItem(key string) string { return s.context.BaggageItem(key) }

// SetServiceName overrides the service name.
func (s *Span) SetServiceName(name string) *Span {
	return s.mutate("service name", func(c *SpanContext) { c.serviceName = name })
}

// SetOperationName overrides the operation name.
func (s *Span) SetOperationName(name string) *Span {
	return s.mutate("operation name", func(c *SpanContext) { c.operationName = name })
}

// SetResourceName overrides the resource name.
func (s *Span) SetResourceName(name string) *Span {
	return s.mutate("resource name", func(c *SpanContext) { c.resourceName = name })
}

// SetSpanType overrides the span type.
func (s *Span) SetSpanType(spanType string) *Span {
	return s.mutate("span type", func(c *SpanContext) { c.spanType = spanType })
}

// SetError marks the span as failed.
func (s *Span) SetError() *Span {
	return s.mutate("error flag", func(c *SpanContext) { c.errorFlag = true })
}

// SetSamplingPriority forces the keep/drop decision for the whole trace.
func (s *Span) SetSamplingPriority(p SamplingPriority) *Span {
	return s.mutate("sampling priority", func(c *SpanContext) { c.trace.setSamplingPriority(p) })
}

func (s *Span) mutate(what string, fn func(c *SpanContext)) *Span {
	if s == nil {
		return s
	}
	c := s.context
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		c.tracer.usageError(what+" on finished span", c)
		return s
	}
	fn(c)
	return s
}

// Finish completes the span using the tracer clock.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Span) Finish() {
	if s == nil {
		return
	}
	s.finish(s.context.tracer.clock.Now().Sub(s.startTime))
}

// FinishWithTimestamp completes the span at finishMicros (Unix microseconds).
// A finish time before the start yields a zero duration.
func (s *Span) FinishWithTimestamp(finishMicros int64) {
	if s == nil {
		return
	}
	s.finish(time.Duration(finishMicros*int64(time.Microsecond) - s.startNanos))
}

func (s *Span) finish(d time.Duration) {
	c := s.context
	t := c.tracer

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		t.usageError("span finished twice", c)
		return
	}
	if d < 0 {
		t.logger.Warn("negative span duration clamped to zero",
			zap.Uint64("trace_id", c.traceID),
			zap.Uint64("span_id", c.spanID),
			zap.Duration("duration", d))
		d = 0
	}
	if c.resourceName == "" {
		c.resourceName = c.operationName
	}
	s.duration = int64(d)
	c.finished = true
	c.mu.Unlock()

	t.scopes.deactivateSpan(s)
	t.logger.Debug("finished span",
		zap.Uint64("trace_id", c.traceID),
		zap.Uint64("span_id", c.spanID),
		zap.String("operation", c.OperationName()))

	c.trace.addFinished(s)
}

// Data returns a snapshot of the span's fields.
func (s *Span) Data() SpanData {
	c := s.context
	c.mu.RLock()
	defer c.mu.RUnlock()

	resource := c.resourceName
	if resource == "" {
		resource = c.operationName
	}
	d := SpanData{
		Service:  c.serviceName,
		Name:     c.operationName,
		Resource: resource,
		Type:     c.spanType,
		TraceID:  c.traceID,
		SpanID:   c.spanID,
		ParentID: c.parentID,
		Start:    s.startNanos,
		Duration: s.duration,
		Error:    c.errorFlag,
		Baggage:  copyBaggage(c.baggage),
	}
	if len(c.tags) > 0 {
		d.Tags = make(map[string]Value, len(c.tags))
		for k, v := range c.tags {
			d.Tags[k] = v
		}
	}
	return d
}

package spanz

import (
	"time"

	"go.uber.org/zap"
)

type tagEntry struct {
	key   string
	value Value
}

// SpanBuilder collects the options of a span before it starts.
// A builder is meant to be used by a single goroutine and discarded after
// Start or StartActive.
//
//nolint:govet // Field order optimized for readability over memory
type SpanBuilder struct {
	tracer        *Tracer
	parent        *SpanContext
	tags          []tagEntry
	operationName string
	serviceName   string
	resourceName  string
	spanType      string
	startMicros   int64
	priority      SamplingPriority
	errorFlag     bool
	ignoreActive  bool
}

// WithServiceName sets the service name, overriding the parent's.
func (b *SpanBuilder) WithServiceName(name string) *SpanBuilder {
	b.serviceName = name
	return b
}

// WithResourceName sets the resource name.
func (b *SpanBuilder) WithResourceName(name string) *SpanBuilder {
	b.resourceName = name
	return b
}

// WithSpanType sets the span type, overriding the parent's.
func (b *SpanBuilder) WithSpanType(spanType string) *SpanBuilder {
	b.spanType = spanType
	return b
}

// WithTag adds a tag. The service, resource and span type tag keys set the
// corresponding field instead.
func (b *SpanBuilder) WithTag(key string, value Value) *SpanBuilder {
	switch key {
	case ServiceNameTag:
		return b.WithServiceName(value.String())
	case ResourceNameTag:
		return b.WithResourceName(value.String())
	case SpanTypeTag:
		return b.WithSpanType(value.String())
	}
	b.tags = append(b.tags, tagEntry{key: key, value: value})
	return b
}

// WithStartTimestamp sets the start time in Unix microseconds.
func (b *SpanBuilder) WithStartTimestamp(micros int64) *SpanBuilder {
	b.startMicros = micros
	return b
}

// AsChildOf sets an explicit parent. A nil parent leaves parent resolution
// to the active span.
func (b *SpanBuilder) AsChildOf(parent ParentContext) *SpanBuilder {
	if parent == nil {
		return b
	}
	b.parent = parent.Context()
	return b
}

// WithErrorFlag marks the span as failed from the start.
func (b *SpanBuilder) WithErrorFlag() *SpanBuilder {
	b.errorFlag = true
	return b
}

// WithSamplingPriority forces the keep/drop decision for the trace.
func (b *SpanBuilder) WithSamplingPriority(p SamplingPriority) *SpanBuilder {
	b.priority = p
	return b
}

// IgnoreActiveSpan makes the span a root unless AsChildOf is used.
func (b *SpanBuilder) IgnoreActiveSpan() *SpanBuilder {
	b.ignoreActive = true
	return b
}

// Start creates a manual span. It is not pushed onto the active stack.
func (b *SpanBuilder) Start() *Span {
	span := b.build()
	b.tracer.logger.Debug("started span",
		zap.Uint64("trace_id", span.context.traceID),
		zap.Uint64("span_id", span.context.spanID),
		zap.Uint64("parent_id", span.context.parentID),
		zap.String("operation", b.operationName))
	return span
}

// StartActive creates a span and makes it the calling goroutine's active span.
func (b *SpanBuilder) StartActive() *ActiveSpan {
	return b.tracer.scopes.activate(b.Start(), nil)
}

// build resolves the parent and registers the new span with its trace.
// Parent resolution: explicit parent, else the active span, else a new root.
func (b *SpanBuilder) build() *Span {
	t := b.tracer

	parent := b.parent
	if parent == nil && !b.ignoreActive {
		if active := t.scopes.active(); active != nil {
			parent = active.span.context
		}
	}

	c := &SpanContext{
		tracer:        t,
		spanID:        t.newSpanID(),
		operationName: b.operationName,
		serviceName:   b.serviceName,
		resourceName:  b.resourceName,
		spanType:      b.spanType,
		errorFlag:     b.errorFlag,
	}

	priority := b.priority
	if parent != nil {
		c.traceID = parent.traceID
		c.parentID = parent.spanID

		parent.mu.RLock()
		c.baggage = copyBaggage(parent.baggage)
		if c.serviceName == "" {
			c.serviceName = parent.serviceName
		}
		if c.spanType == "" {
			c.spanType = parent.spanType
		}
		parent.mu.RUnlock()

		if priority == PriorityUnset {
			priority = parent.SamplingPriority()
		}
		if tb := parent.trace; tb != nil && tb.register() {
			c.trace = tb
			if b.priority != PriorityUnset {
				tb.setSamplingPriority(b.priority)
			}
		} else {
			if tb != nil {
				t.logger.Debug("parent trace already written, starting a new fragment",
					zap.Uint64("trace_id", c.traceID),
					zap.Uint64("parent_id", c.parentID))
			}
			c.trace = newTraceBuffer(t, c.traceID, priority)
			c.trace.register()
		}
	} else {
		c.traceID = t.newTraceID()
		c.trace = newTraceBuffer(t, c.traceID, priority)
		c.trace.register()
	}

	if c.serviceName == "" {
		c.serviceName = t.serviceName
	}

	c.mu.Lock()
	for k, v := range t.spanTags {
		t.applyTagLocked(c, k, v)
	}
	for _, tag := range b.tags {
		if tag.value.Valid() {
			t.applyTagLocked(c, tag.key, tag.value)
		}
	}
	c.mu.Unlock()

	span := &Span{context: c}
	if b.startMicros > 0 {
		span.startTime = time.UnixMicro(b.startMicros)
		span.startNanos = b.startMicros * int64(time.Microsecond)
	} else {
		span.startTime = t.clock.Now()
		span.startNanos = span.startTime.UnixNano()
	}
	return span
}

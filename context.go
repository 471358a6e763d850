package spanz

import (
	"context"
	"sync"
)

// SamplingPriority is an explicit keep/drop decision that overrides the
// sampler for the whole trace.
type SamplingPriority int32

// Sampling priorities.
const (
	PriorityUnset SamplingPriority = iota
	PriorityDrop
	PriorityKeep
)

// String returns the priority name.
func (p SamplingPriority) String() string {
	switch p {
	case PriorityDrop:
		return "drop"
	case PriorityKeep:
		return "keep"
	default:
		return "unset"
	}
}

// ParentContext is anything a span can be started as a child of:
// *Span, *ActiveSpan and *SpanContext all qualify.
type ParentContext interface {
	Context() *SpanContext
}

// SpanContext carries the identity of a span together with the mutable
// metadata shared with the span (tags, baggage, names).
// Identity fields never change after creation; the rest is guarded by mu.
//
//nolint:govet // Field order optimized for readability over memory
type SpanContext struct {
	tags          map[string]Value
	baggage       map[string]string
	trace         *traceBuffer
	tracer        *Tracer
	serviceName   string
	operationName string
	resourceName  string
	spanType      string
	traceID       uint64
	spanID        uint64
	parentID      uint64
	mu            sync.RWMutex
	errorFlag     bool
	remote        bool
	remotePrio    SamplingPriority
	finished      bool
}

// NewRemoteContext builds an opaque parent context for a span started in
// another process. A child of it joins traceID with spanID as its parent but
// is tracked in a local trace buffer of its own.
func NewRemoteContext(traceID, spanID uint64, baggage map[string]string, priority SamplingPriority) *SpanContext {
	return &SpanContext{
		traceID:    traceID,
		spanID:     spanID,
		baggage:    copyBaggage(baggage),
		remote:     true,
		remotePrio: priority,
	}
}

// Context returns the receiver, so a SpanContext can be used as a parent.
func (c *SpanContext) Context() *SpanContext { return c }

// TraceID returns the id shared by every span of the trace.
func (c *SpanContext) TraceID() uint64 { return c.traceID }

// SpanID returns the id of the span owning this context.
func (c *SpanContext) SpanID() uint64 { return c.spanID }

// ParentID returns the parent span id, 0 for a root span.
func (c *SpanContext) ParentID() uint64 { return c.parentID }

// IsRemote reports whether the context was built with NewRemoteContext.
func (c *SpanContext) IsRemote() bool { return c.remote }

// ServiceName returns the service the span belongs to.
func (c *SpanContext) ServiceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serviceName
}

// OperationName returns the span name.
func (c *SpanContext) OperationName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.operationName
}

// ResourceName returns the resource, defaulting to the operation name.
func (c *SpanContext) ResourceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.resourceName == "" {
		return c.operationName
	}
	return c.resourceName
}

// SpanType returns the span type.
func (c *SpanContext) SpanType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spanType
}

// ErrorFlag reports whether the span was marked as an error.
func (c *SpanContext) ErrorFlag() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errorFlag
}

// SamplingPriority returns the trace-level priority.
func (c *SpanContext) SamplingPriority() SamplingPriority {
	if c.trace == nil {
		return c.remotePrio
	}
	return c.trace.samplingPriority()
}

// Tag returns a tag value by key.
func (c *SpanContext) Tag(key string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.tags[key]
	return v, ok
}

// Tags returns a copy of the tags.
func (c *SpanContext) Tags() map[string]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.tags) == 0 {
		return nil
	}
	out := make(map[string]Value, len(c.tags))
	for k, v := range c.tags {
		out[k] = v
	}
	return out
}

// BaggageItem returns a baggage value, "" when absent.
func (c *SpanContext) BaggageItem(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baggage[key]
}

// Baggage returns a copy of the baggage.
func (c *SpanContext) Baggage() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyBaggage(c.baggage)
}

// ForeachBaggageItem calls fn for each baggage item until fn returns false.
func (c *SpanContext) ForeachBaggageItem(fn func(key, value string) bool) {
	for k, v := range c.Baggage() {
		if !fn(k, v) {
			return
		}
	}
}

// setTagLocked stores a tag; callers hold mu and have checked finished.
func (c *SpanContext) setTagLocked(key string, value Value) {
	if c.tags == nil {
		c.tags = make(map[string]Value)
	}
	c.tags[key] = value
}

func copyBaggage(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// spanKeyType is a private type for context keys to avoid collisions.
type spanKeyType string

const spanKey spanKeyType = "spanz"

// ContextWithSpan returns a copy of ctx carrying span.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, spanKey, span)
}

// SpanFromContext extracts the span stored by ContextWithSpan.
// Returns nil if no span is present.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	if span, ok := ctx.Value(spanKey).(*Span); ok {
		return span
	}
	return nil
}

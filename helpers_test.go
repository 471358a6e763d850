package spanz

import (
	"testing"
)

// newTestTracer returns a tracer writing into a synchronous collector.
func newTestTracer(t *testing.T, opts ...Option) (*Tracer, *Collector) {
	t.Helper()
	collector := NewCollector("test", 100)
	collector.SetSyncMode(true)
	tracer := New(append([]Option{WithWriter(collector)}, opts...)...)
	t.Cleanup(func() { _ = tracer.Close() })
	return tracer, collector
}

// samplerFunc adapts a function to a Sampler.
type samplerFunc func(root *Span) bool

func (f samplerFunc) Sample(root *Span) bool { return f(root) }

// panicWriter panics on every write.
type panicWriter struct{ NoopWriter }

func (panicWriter) Write([]*Span) { panic("writer exploded") }

func spanNames(trace []SpanData) []string {
	out := make([]string, len(trace))
	for i, s := range trace {
		out[i] = s.Name
	}
	return out
}

// detachedSpan builds a span outside any tracer, for sampler and writer tests.
func detachedSpan(traceID, spanID uint64, name string, tags map[string]Value) *Span {
	return &Span{context: &SpanContext{
		traceID:       traceID,
		spanID:        spanID,
		operationName: name,
		serviceName:   DefaultServiceName,
		tags:          tags,
	}}
}

// Package integration exercises spanz end to end: real tracers, real
// goroutine hand-offs and a synchronous collector to assert on.
package integration

import (
	"sync"
	"testing"

	"github.com/zoobzio/spanz"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported [][]spanz.SpanData
	*spanz.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, name string) *MockCollector {
	collector := spanz.NewCollector(name, 100)
	collector.SetSyncMode(true) // Enable synchronous collection for testing.
	return &MockCollector{Collector: collector, t: t}
}

// NewTracer returns a tracer writing to a fresh MockCollector. The tracer is
// closed when the test ends.
func NewTracer(t *testing.T, opts ...spanz.Option) (*spanz.Tracer, *MockCollector) {
	t.Helper()
	collector := NewMockCollector(t, t.Name())
	tracer := spanz.New(append([]spanz.Option{spanz.WithWriter(collector)}, opts...)...)
	t.Cleanup(func() { _ = tracer.Close() })
	return tracer, collector
}

// Traces returns every trace written so far, including earlier exports.
func (m *MockCollector) Traces() [][]spanz.SpanData {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exported = append(m.exported, m.Collector.Export()...)
	all := make([][]spanz.SpanData, len(m.exported))
	copy(all, m.exported)
	return all
}

// AssertTraceCount verifies the number of written traces.
func (m *MockCollector) AssertTraceCount(expected int) [][]spanz.SpanData {
	m.t.Helper()
	traces := m.Traces()
	if len(traces) != expected {
		m.t.Errorf("Expected %d traces, got %d", expected, len(traces))
	}
	return traces
}

// FindSpan returns the first span named name across all traces.
func (m *MockCollector) FindSpan(name string) (spanz.SpanData, bool) {
	for _, trace := range m.Traces() {
		for _, span := range trace {
			if span.Name == name {
				return span, true
			}
		}
	}
	return spanz.SpanData{}, false
}

// AssertParentChild verifies that child is a direct child of parent.
func (m *MockCollector) AssertParentChild(parentName, childName string) {
	m.t.Helper()
	parent, ok := m.FindSpan(parentName)
	if !ok {
		m.t.Errorf("Span named '%s' not found", parentName)
		return
	}
	child, ok := m.FindSpan(childName)
	if !ok {
		m.t.Errorf("Span named '%s' not found", childName)
		return
	}
	if child.ParentID != parent.SpanID {
		m.t.Errorf("Expected %s to be a child of %s", childName, parentName)
	}
	if child.TraceID != parent.TraceID {
		m.t.Errorf("Expected %s and %s in the same trace", childName, parentName)
	}
}

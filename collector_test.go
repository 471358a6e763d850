package spanz

import (
	"sync"
	"testing"
	"time"
)

func testTrace(traceID uint64, names ...string) []*Span {
	trace := make([]*Span, len(names))
	for i, name := range names {
		trace[i] = detachedSpan(traceID, traceID+uint64(i)+1, name, nil)
	}
	return trace
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector("test-collector", 100)
	defer collector.Close()

	if collector.Name() != "test-collector" {
		t.Errorf("Expected name 'test-collector', got %q", collector.Name())
	}
	if collector.Count() != 0 {
		t.Errorf("Expected 0 traces initially, got %d", collector.Count())
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped traces initially, got %d", collector.DroppedCount())
	}
}

func TestCollectorBasicCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true) // Enable sync for deterministic testing.
	defer collector.Close()

	collector.Write(testTrace(7, "child", "root"))

	if collector.Count() != 1 {
		t.Errorf("Expected 1 trace, got %d", collector.Count())
	}

	traces := collector.Export()
	if len(traces) != 1 || len(traces[0]) != 2 {
		t.Fatalf("Expected one trace of two spans, got %v", traces)
	}
	if traces[0][0].Name != "child" || traces[0][1].Name != "root" {
		t.Errorf("Expected span order preserved, got %v", spanNames(traces[0]))
	}

	// After export, collector should be empty.
	if collector.Count() != 0 {
		t.Errorf("Expected 0 traces after export, got %d", collector.Count())
	}
	if collector.Export() != nil {
		t.Error("Expected nil export from an empty collector")
	}
}

func TestCollectorIgnoresEmptyTrace(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	collector.Write(nil)
	if collector.Count() != 0 || collector.DroppedCount() != 0 {
		t.Error("Expected an empty trace to be ignored")
	}
}

func TestCollectorBackpressure(t *testing.T) {
	// Not started: nothing drains the channel.
	collector := NewCollector("test", 2)

	for i := uint64(1); i <= 5; i++ {
		collector.Write(testTrace(i, "op"))
	}

	if got := collector.DroppedCount(); got != 3 {
		t.Errorf("Expected 3 dropped traces, got %d", got)
	}
	_ = collector.Close()
	if got := collector.Count(); got != 2 {
		t.Errorf("Expected the 2 queued traces drained on close, got %d", got)
	}
}

func TestCollectorAsyncDelivery(t *testing.T) {
	collector := NewCollector("async", 100)
	collector.Start()

	for i := uint64(1); i <= 10; i++ {
		collector.Write(testTrace(i, "op"))
	}

	deadline := time.Now().Add(time.Second)
	for collector.Count() < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if collector.Count() != 10 {
		t.Errorf("Expected 10 traces, got %d", collector.Count())
	}
	_ = collector.Close()
}

func TestCollectorWriteAfterClose(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.Start()
	if err := collector.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Multiple closes are safe.
	if err := collector.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	collector.Write(testTrace(1, "late"))
	if collector.DroppedCount() != 1 {
		t.Errorf("Expected write after close to be dropped, got %d", collector.DroppedCount())
	}
}

func TestCollectorReset(t *testing.T) {
	collector := NewCollector("test", 1)
	collector.SetSyncMode(true)
	defer collector.Close()

	collector.Write(testTrace(1, "op"))
	collector.Reset()
	if collector.Count() != 0 {
		t.Errorf("Expected empty collector after reset, got %d", collector.Count())
	}
}

func TestCollectorConcurrentWrites(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	const writers = 10
	const perWriter = 100
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				collector.Write(testTrace(uint64(w*perWriter+i+1), "op"))
			}
		}(w)
	}
	wg.Wait()

	if got := collector.Count(); got != writers*perWriter {
		t.Errorf("Expected %d traces, got %d", writers*perWriter, got)
	}
}

func TestCollectorExportShrinksLargeBuffer(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	for i := uint64(1); i <= 1000; i++ {
		collector.Write(testTrace(i, "op"))
	}
	if got := len(collector.Export()); got != 1000 {
		t.Fatalf("Expected 1000 traces, got %d", got)
	}

	collector.Write(testTrace(1001, "op"))
	if got := len(collector.Export()); got != 1 {
		t.Errorf("Expected 1 trace after reuse, got %d", got)
	}
}

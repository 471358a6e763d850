package spanz

import (
	"sync"
	"testing"

	"github.com/petermattis/goid"
)

func TestScopeStackOutOfOrderDeactivation(t *testing.T) {
	tracer, _ := newTestTracer(t)

	a1 := tracer.BuildSpan("a1").StartActive()
	a2 := tracer.BuildSpan("a2").StartActive()
	a3 := tracer.BuildSpan("a3").StartActive()

	if got := tracer.scopes.depth(); got != 3 {
		t.Fatalf("Expected depth 3, got %d", got)
	}

	// Removing a middle entry leaves the top untouched.
	a2.Deactivate()
	if tracer.ActiveSpan() != a3 {
		t.Error("Expected a3 to stay active")
	}
	if got := tracer.scopes.depth(); got != 2 {
		t.Errorf("Expected depth 2, got %d", got)
	}

	a3.Deactivate()
	if tracer.ActiveSpan() != a1 {
		t.Error("Expected a1 below a3 once a2 is gone")
	}

	a1.Deactivate()
	if tracer.scopes.current(false) != nil {
		t.Error("Expected the empty stack to be dropped")
	}

	for _, a := range []*ActiveSpan{a3, a2, a1} {
		a.Span().Finish()
	}
}

func TestScopeStackReactivationAfterDrop(t *testing.T) {
	tracer, _ := newTestTracer(t)

	first := tracer.BuildSpan("first").StartActive()
	first.Close()
	if tracer.scopes.current(false) != nil {
		t.Fatal("Expected stack dropped after the last deactivation")
	}

	second := tracer.BuildSpan("second").StartActive()
	if tracer.ActiveSpan() != second {
		t.Error("Expected a fresh stack to be created")
	}
	if second.Span().ParentID() != 0 {
		t.Error("Expected no parent from the dropped stack")
	}
	second.Close()
}

func TestMakeActive(t *testing.T) {
	tracer, collector := newTestTracer(t)

	span := tracer.BuildSpan("manual").Start()
	active := tracer.MakeActive(span)
	if tracer.ActiveSpan() != active || active.Span() != span {
		t.Fatal("Expected the manual span to be active")
	}

	child := tracer.BuildSpan("child").Start()
	if child.ParentID() != span.SpanID() {
		t.Error("Expected child of the activated span")
	}
	child.Finish()

	active.Close()
	if collector.Count() != 1 {
		t.Errorf("Expected 1 trace, got %d", collector.Count())
	}
	if tracer.MakeActive(nil) != nil {
		t.Error("Expected nil for a nil span")
	}
}

func TestSameSpanActivatedTwice(t *testing.T) {
	tracer, _ := newTestTracer(t)

	span := tracer.BuildSpan("twice").Start()
	tracer.MakeActive(span)
	tracer.MakeActive(span)
	if got := tracer.scopes.depth(); got != 2 {
		t.Fatalf("Expected depth 2, got %d", got)
	}

	span.Finish()
	if got := tracer.scopes.depth(); got != 0 {
		t.Errorf("Expected finish to remove every activation, depth %d", got)
	}
}

func TestNilActiveSpan(t *testing.T) {
	var a *ActiveSpan
	a.Deactivate()
	a.Close()
	if a.Span() != nil || a.Context() != nil || a.Capture() != nil {
		t.Error("Expected nil-safe accessors")
	}
}

func TestGoroutineIDsAreDistinct(t *testing.T) {
	const n = 16
	ids := make([]int64, n)
	var ready, release sync.WaitGroup
	ready.Add(n)
	release.Add(1)

	var done sync.WaitGroup
	for i := 0; i < n; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			ids[i] = goid.Get()
			ready.Done()
			// Stay alive so no id can be reused.
			release.Wait()
		}(i)
	}
	ready.Wait()
	release.Done()
	done.Wait()

	seen := make(map[int64]bool, n+1)
	seen[goid.Get()] = true
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("Goroutine id %d shared between live goroutines: %v", id, ids)
		}
		seen[id] = true
	}
}

func TestConcurrentGoroutinesKeepSeparateStacks(t *testing.T) {
	tracer, collector := newTestTracer(t)

	const n = 16
	var ready, release, done sync.WaitGroup
	ready.Add(n)
	release.Add(1)

	errs := make(chan string, n*3)
	for i := 0; i < n; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			active := tracer.BuildSpan("worker").StartActive()
			ready.Done()
			// Every goroutine holds an active span at the same time.
			release.Wait()

			if tracer.ActiveSpan() != active {
				errs <- "active span leaked between goroutines"
			}
			if depth := tracer.scopes.depth(); depth != 1 {
				errs <- "stack shared between goroutines"
			}
			if active.Span().ParentID() != 0 {
				errs <- "root span picked up a foreign parent"
			}
			active.Close()
		}()
	}
	ready.Wait()
	release.Done()
	done.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
	if got := collector.Count(); got != n {
		t.Errorf("Expected %d independent traces, got %d", n, got)
	}
}

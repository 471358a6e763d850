package spanz

import (
	"sync"

	"github.com/petermattis/goid"
	"go.uber.org/zap"
)

// ActiveSpan is a span made current on one goroutine. Active spans form a
// LIFO stack per goroutine; the top of the stack is the implicit parent of
// spans started on that goroutine.
type ActiveSpan struct {
	span   *Span
	parent *ActiveSpan // entry below this one on the stack
	stack  *scopeStack
	// reservation released on deactivation, set for continuation activations.
	reservation *traceBuffer
	done        bool // guarded by stack.mu
}

// Span returns the wrapped span.
func (a *ActiveSpan) Span() *Span {
	if a == nil {
		return nil
	}
	return a.span
}

// Context returns the wrapped span's context. Nil-safe.
func (a *ActiveSpan) Context() *SpanContext {
	if a == nil {
		return nil
	}
	return a.span.context
}

// SetTag tags the wrapped span.
func (a *ActiveSpan) SetTag(key string, value Value) *ActiveSpan {
	a.span.SetTag(key, value)
	return a
}

// SetBaggageItem sets baggage on the wrapped span.
func (a *ActiveSpan) SetBaggageItem(key, value string) *ActiveSpan {
	a.span.SetBaggageItem(key, value)
	return a
}

// Deactivate removes the span from its goroutine's stack. It does not finish
// the span. Deactivating twice, or an entry that is no longer on the stack,
// is a no-op.
func (a *ActiveSpan) Deactivate() {
	if a == nil {
		return
	}
	if !a.deactivate() {
		a.span.context.tracer.usageError("deactivate of inactive span", a.span.context)
	}
}

// Close finishes the wrapped span and deactivates it.
// Finishing already removes the span from the calling goroutine's stack, so
// the explicit deactivation only matters when Close runs on another goroutine.
func (a *ActiveSpan) Close() {
	if a == nil {
		return
	}
	a.span.Finish()
	a.deactivate()
}

func (a *ActiveSpan) deactivate() bool {
	if !a.stack.remove(a) {
		return false
	}
	a.released()
	return true
}

// Capture returns a continuation that keeps the trace open until it is
// activated and deactivated elsewhere, or closed.
func (a *ActiveSpan) Capture() *Continuation {
	if a == nil {
		return nil
	}
	return newContinuation(a.span)
}

// released gives back the continuation reservation, if any. Callers have
// already unlinked a from its stack.
func (a *ActiveSpan) released() {
	if tb := a.reservation; tb != nil {
		a.reservation = nil
		tb.releaseAndMaybeFlush()
	}
}

// scopeStack is the active span stack of one goroutine.
type scopeStack struct {
	top      *ActiveSpan
	mgr      *scopeManager
	gid      int64
	mu       sync.Mutex
	detached bool
}

// push fails only when the stack was dropped concurrently.
func (st *scopeStack) push(a *ActiveSpan) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.detached {
		return false
	}
	a.parent = st.top
	a.stack = st
	st.top = a
	return true
}

// remove unlinks a from the stack. Popping the top is the common case; an
// entry deeper in the stack is unlinked without disturbing the others.
func (st *scopeStack) remove(a *ActiveSpan) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if a.done {
		return false
	}
	if st.top == a {
		st.top = a.parent
	} else {
		above := st.top
		for above != nil && above.parent != a {
			above = above.parent
		}
		if above == nil {
			return false
		}
		above.parent = a.parent
	}
	a.done = true
	if st.top == nil {
		st.mgr.drop(st)
	}
	return true
}

// removeSpan unlinks every entry wrapping span and returns them.
func (st *scopeStack) removeSpan(span *Span) []*ActiveSpan {
	st.mu.Lock()
	defer st.mu.Unlock()

	var removed []*ActiveSpan
	var above *ActiveSpan
	for cur := st.top; cur != nil; cur = cur.parent {
		if cur.span != span {
			above = cur
			continue
		}
		if above == nil {
			st.top = cur.parent
		} else {
			above.parent = cur.parent
		}
		cur.done = true
		removed = append(removed, cur)
	}
	if st.top == nil {
		st.mgr.drop(st)
	}
	return removed
}

func (st *scopeStack) active() *ActiveSpan {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.top
}

func (st *scopeStack) depth() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for cur := st.top; cur != nil; cur = cur.parent {
		n++
	}
	return n
}

// scopeManager maps goroutines to their active span stacks.
// Each stack is only touched by its own goroutine in correct usage; the
// per-stack mutex keeps misuse from corrupting it.
type scopeManager struct {
	logger *zap.Logger
	stacks sync.Map // int64 goroutine id -> *scopeStack
}

// current returns the calling goroutine's stack, creating it when asked.
func (m *scopeManager) current(create bool) *scopeStack {
	gid := goid.Get()
	if v, ok := m.stacks.Load(gid); ok {
		return v.(*scopeStack)
	}
	if !create {
		return nil
	}
	v, _ := m.stacks.LoadOrStore(gid, &scopeStack{mgr: m, gid: gid})
	return v.(*scopeStack)
}

// drop forgets an empty stack so finished goroutines leave nothing behind.
// Called with st.mu held.
func (m *scopeManager) drop(st *scopeStack) {
	st.detached = true
	m.stacks.CompareAndDelete(st.gid, st)
}

// activate pushes span onto the calling goroutine's stack.
func (m *scopeManager) activate(span *Span, reservation *traceBuffer) *ActiveSpan {
	a := &ActiveSpan{span: span, reservation: reservation}
	for !m.current(true).push(a) {
	}
	m.logger.Debug("activated span",
		zap.Uint64("trace_id", span.context.traceID),
		zap.Uint64("span_id", span.context.spanID))
	return a
}

// active returns the top of the calling goroutine's stack.
func (m *scopeManager) active() *ActiveSpan {
	st := m.current(false)
	if st == nil {
		return nil
	}
	return st.active()
}

// deactivateSpan removes span from the calling goroutine's stack, if present.
func (m *scopeManager) deactivateSpan(span *Span) {
	st := m.current(false)
	if st == nil {
		return
	}
	for _, a := range st.removeSpan(span) {
		a.released()
	}
}

// depth reports the size of the calling goroutine's stack.
func (m *scopeManager) depth() int {
	st := m.current(false)
	if st == nil {
		return 0
	}
	return st.depth()
}

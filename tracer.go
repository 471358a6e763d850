package spanz

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// DefaultServiceName is used when neither the caller, a parent span nor the
// tracer configuration names a service.
const DefaultServiceName = "unnamed-go-app"

// Option configures a Tracer.
type Option func(*Tracer)

// WithServiceName sets the default service name.
func WithServiceName(name string) Option {
	return func(t *Tracer) {
		if name != "" {
			t.serviceName = name
		}
	}
}

// WithWriter sets the writer receiving sampled traces.
func WithWriter(w Writer) Option {
	return func(t *Tracer) {
		if w != nil {
			t.writer = w
		}
	}
}

// WithSampler sets the sampling policy.
func WithSampler(s Sampler) Option {
	return func(t *Tracer) {
		if s != nil {
			t.sampler = s
		}
	}
}

// WithClock sets the clock used for span timing.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger.Named("spanz")
		}
	}
}

// WithSpanTags sets tags added to every span at creation.
func WithSpanTags(tags map[string]Value) Option {
	return func(t *Tracer) {
		for k, v := range tags {
			t.spanTags[k] = v
		}
	}
}

// WithDecorators installs decorators in addition to BuiltinDecorators.
func WithDecorators(ds ...Decorator) Option {
	return func(t *Tracer) {
		t.extraDecorators = append(t.extraDecorators, ds...)
	}
}

// WithPanicHook sets a function called when the sampler or writer panics.
func WithPanicHook(hook func(component string, r interface{})) Option {
	return func(t *Tracer) {
		t.panicHook = hook
	}
}

// Stats is a point-in-time view of tracer counters.
type Stats struct {
	// TracesWritten counts traces handed to the writer. Traces a writer drops
	// afterwards (a full AsyncWriter queue, a closed Collector) are still
	// counted here and reported by the writer's own drop counter.
	TracesWritten    uint64 `json:"traces_written" yaml:"traces_written"`
	TracesSampledOut uint64 `json:"traces_sampled_out" yaml:"traces_sampled_out"`
	// TracesFailed counts traces whose sampler or writer call panicked.
	TracesFailed     uint64 `json:"traces_failed" yaml:"traces_failed"`
	PendingTraces    int64  `json:"pending_traces" yaml:"pending_traces"`
}

// Tracer creates spans, tracks the active span of each goroutine and hands
// completed traces to the sampler and writer.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	writer          Writer
	sampler         Sampler
	logger          *zap.Logger
	clock           clockz.Clock
	panicHook       func(component string, r interface{})
	decorators      decoratorSet
	extraDecorators []Decorator
	spanTags        map[string]Value
	scopes          *scopeManager
	traceIDPool     *IDPool
	spanIDPool      *IDPool
	serviceName     string
	idPoolOnce      sync.Once
	openTraces      atomic.Int64
	written         atomic.Uint64
	sampledOut      atomic.Uint64
	failed          atomic.Uint64
	closed          atomic.Bool
}

// New creates a tracer. Without options it keeps every trace, discards
// them with a NoopWriter, uses the real clock and logs nothing.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		writer:      NoopWriter{},
		sampler:     NewAllSampler(),
		logger:      zap.NewNop(),
		clock:       clockz.RealClock,
		spanTags:    make(map[string]Value),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.decorators = newDecoratorSet(append(BuiltinDecorators(), t.extraDecorators...))
	t.scopes = &scopeManager{logger: t.logger}
	t.writer.Start()

	t.logger.Info("new tracer",
		zap.String("service", t.serviceName),
		zap.String("writer", typeName(t.writer)),
		zap.String("sampler", typeName(t.sampler)),
		zap.Int("span_tags", len(t.spanTags)))
	return t
}

// ServiceName returns the default service name.
func (t *Tracer) ServiceName() string { return t.serviceName }

// Logger returns the tracer's diagnostics logger.
func (t *Tracer) Logger() *zap.Logger { return t.logger }

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100
		factory := func() uint64 { return randomID(t.clock.Now) }
		t.traceIDPool = NewIDPool(poolSize, factory)
		t.spanIDPool = NewIDPool(poolSize, factory)
	})
}

func (t *Tracer) newTraceID() uint64 {
	t.ensureIDPools()
	if t.traceIDPool == nil {
		return randomID(t.clock.Now)
	}
	return t.traceIDPool.Get()
}

func (t *Tracer) newSpanID() uint64 {
	t.ensureIDPools()
	if t.spanIDPool == nil {
		return randomID(t.clock.Now)
	}
	return t.spanIDPool.Get()
}

// BuildSpan returns a builder for a span named operationName. Nothing
// happens until Start or StartActive is called.
func (t *Tracer) BuildSpan(operationName string) *SpanBuilder {
	return &SpanBuilder{tracer: t, operationName: operationName}
}

// StartSpan starts a manual span whose parent is the span carried by ctx, or
// the calling goroutine's active span when ctx carries none. The returned
// context carries the new span.
func (t *Tracer) StartSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	b := t.BuildSpan(operationName)
	if parent := SpanFromContext(ctx); parent != nil {
		b.AsChildOf(parent)
	}
	span := b.Start()
	return ContextWithSpan(ctx, span), span
}

// ActiveSpan returns the calling goroutine's current span, or nil.
func (t *Tracer) ActiveSpan() *ActiveSpan {
	return t.scopes.active()
}

// MakeActive pushes an existing span onto the calling goroutine's stack.
func (t *Tracer) MakeActive(span *Span) *ActiveSpan {
	if span == nil {
		return nil
	}
	return t.scopes.activate(span, nil)
}

// write is called by a trace buffer once its last span finished. The root
// span decides, through an explicit priority or the sampler, whether the
// trace reaches the writer. Panics from either collaborator stop here.
func (t *Tracer) write(trace []*Span) {
	if len(trace) == 0 {
		return
	}
	root := rootOf(trace)

	keep := false
	if !t.safeCall("sampler", root, func() { keep = t.sample(root) }) {
		return
	}
	if !keep {
		t.sampledOut.Add(1)
		t.logger.Debug("trace sampled out",
			zap.Uint64("trace_id", root.TraceID()),
			zap.Int("spans", len(trace)))
		return
	}
	if t.safeCall("writer", root, func() { t.writer.Write(trace) }) {
		t.written.Add(1)
	}
}

func (t *Tracer) sample(root *Span) bool {
	switch root.context.trace.samplingPriority() {
	case PriorityKeep:
		return true
	case PriorityDrop:
		return false
	default:
		return t.sampler.Sample(root)
	}
}

// safeCall runs fn and reports whether it returned without panicking.
func (t *Tracer) safeCall(component string, root *Span, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			t.failed.Add(1)
			t.logger.Error("trace collaborator panicked",
				zap.String("component", component),
				zap.Uint64("trace_id", root.TraceID()),
				zap.Any("panic", r))
			if t.panicHook != nil {
				t.panicHook(component, r)
			}
		}
	}()
	fn()
	return true
}

// usageError records API misuse. It never fails the caller.
func (t *Tracer) usageError(msg string, c *SpanContext, fields ...zap.Field) {
	fields = append(fields,
		zap.Uint64("trace_id", c.traceID),
		zap.Uint64("span_id", c.spanID))
	t.logger.Debug(msg, fields...)
}

// applyTagLocked routes a tag through the decorators; callers hold c.mu.
func (t *Tracer) applyTagLocked(c *SpanContext, key string, value Value) {
	t.decorators.apply(c, key, value)
}

// Stats returns the tracer counters.
func (t *Tracer) Stats() Stats {
	return Stats{
		TracesWritten:    t.written.Load(),
		TracesSampledOut: t.sampledOut.Load(),
		TracesFailed:     t.failed.Load(),
		PendingTraces:    t.openTraces.Load(),
	}
}

// Close shuts down the tracer gracefully: the writer is closed and the ID
// pools stop. Traces still pending are reported, not flushed.
// Safe to call multiple times.
func (t *Tracer) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if open := t.openTraces.Load(); open > 0 {
		t.logger.Warn("closing tracer with unfinished traces", zap.Int64("pending_traces", open))
	}

	// Close ID pools; a tracer closed before its first span never starts them.
	t.idPoolOnce.Do(func() {})
	if t.traceIDPool != nil {
		t.traceIDPool.Close()
	}
	if t.spanIDPool != nil {
		t.spanIDPool.Close()
	}
	err := t.writer.Close()
	_ = t.logger.Sync()
	return err
}

func typeName(v interface{}) string {
	switch v.(type) {
	case NoopWriter:
		return "noop"
	case *LoggingWriter:
		return "logging"
	case *Collector:
		return "collector"
	case *AsyncWriter:
		return "async"
	case *AllSampler:
		return "all"
	case *RateSampler:
		return "rate"
	case *ServiceRateSampler:
		return "service"
	default:
		return "custom"
	}
}

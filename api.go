// Package spanz is the in-process core of a distributed tracing client.
//
// spanz creates spans, links them into traces, tracks the active span of each
// goroutine and hands every completed trace to a Sampler and then a Writer.
// It does not encode or transport traces; a Writer does that.
//
// Core Components:
//   - Tracer: Creates spans and owns the sampler, writer and ID pools.
//   - Span: A timed unit of work with tags and baggage.
//   - ActiveSpan: A span on the calling goroutine's active stack.
//   - Continuation: Carries an active span to another goroutine.
//   - Sampler: Keeps or drops a completed trace.
//   - Writer: Receives kept traces. Collector buffers them for export.
//
// Basic Usage:
//
//	tracer := spanz.New(spanz.WithServiceName("checkout"))
//	defer tracer.Close()
//
//	root := tracer.BuildSpan("http.request").StartActive()
//	child := tracer.BuildSpan("db.query").
//		WithTag("db.rows", spanz.Int(12)).
//		StartActive()
//	child.Close()
//	root.Close()
//
// Context Propagation:
//
// StartSpan links spans through context.Context instead of the active
// stack. Both styles may be mixed; an explicit parent always wins.
//
// Trace Completion:
//
// A trace is complete when every span started in it has finished and no
// Continuation or activation still holds it open. The trace is then sampled
// exactly once, on the goroutine that released it last. Spans appear in the
// written trace in finish order.
//
// Thread Safety:
//
// Tracer, Span, Continuation and the samplers are safe for concurrent use.
// ActiveSpan values belong to the goroutine that activated them.
//
// Resource Cleanup:
//
// Call tracer.Close() to stop the ID pools and close the writer. Traces that
// are still open at that point are reported in the log, not written.
package spanz

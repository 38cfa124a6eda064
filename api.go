// Package waffle provides a causal distributed-tracing core: a bounded
// lock-free ring buffer feeding a single background assembly engine that
// resolves span/event causality and hands off immutable records to a
// processor chain.
//
// Core Components:.
//   - Tracer: the hot-path facade managing span/event creation.
//   - ActiveSpan: the handle returned by StartSpan; Finish ends it.
//   - Tracelet: the fixed-size record placed in the ring by the hot path.
//   - The assembly engine: the single background goroutine draining the
//     ring, interning strings, tracking open spans, and resolving
//     implicit causality.
//   - Processor: the delivery interface for AssembledRecords, with
//     BatchingProcessor and FanOutProcessor as composition primitives.
//
// Basic Usage:.
//
//	tracer, err := waffle.NewTracer(myProcessor)
//	if err != nil { ... }
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.StartSpan(ctx, "operation-name")
//	defer span.Finish()
//
//	ctx, child := tracer.StartSpan(ctx, "child-operation", waffle.StringAttr("user.id", "123"))
//	defer child.Finish()
//
// Context Propagation:.
//
// Spans are linked via context.Context, the idiomatic stand-in for the
// reference implementation's thread-local ambient span. A child span
// started from ctx inherits its parent's TraceID and records the
// parent's SpanID as ParentID.
//
// Thread Safety:.
//
// Tracer is safe for concurrent use by multiple goroutines. ActiveSpan's
// Finish is idempotent and safe for concurrent calls. Everything past the
// hot path — tracelet draining, interning, causality resolution, and
// delivery to Processors — runs on a single background goroutine, so
// Processor implementations never need to guard against concurrent
// OnRecord calls from this library.
//
// Resource Cleanup:.
//
// Call Tracer.Shutdown to stop the background assembly engine, drain and
// assemble any tracelets still in flight (including spans that started
// but never finished), and flush the processor chain.
package waffle

package waffle

import (
	"context"
	"sync/atomic"
)

// ActiveSpan is the handle StartSpan returns (C4). It carries only
// identity — no mutable tag map, no mutex-protected fields — because all
// real span state (attributes, timing, parent/cause linkage) already
// travelled to the assembly engine as part of the span-start tracelet at
// creation time. The only remaining lifecycle action is Finish.
//
// ActiveSpan is the Go expression of the spec's move-only handle: it is
// always used by pointer, so copying the handle copies a reference to
// the same logical span rather than duplicating ownership of it the way
// copying a value type would. Go has no destructors, so `defer
// span.Finish()` is the idiom that replaces C++ RAII scope-exit (§4.5).
type ActiveSpan struct {
	tracer  *Tracer
	traceID Id
	spanID  Id
	done    atomic.Bool
}

// TraceID returns the trace this span belongs to.
func (a *ActiveSpan) TraceID() Id { return a.traceID }

// SpanID returns this span's own identifier.
func (a *ActiveSpan) SpanID() Id { return a.spanID }

// Finish ends the span. Idempotent: only the first call emits a
// span-end tracelet, every subsequent call is a no-op (§4.5 edge cases).
// Safe for concurrent calls from multiple goroutines, though a single
// logical span is ordinarily finished from the goroutine that started
// it.
func (a *ActiveSpan) Finish() {
	if !a.done.CompareAndSwap(false, true) {
		return
	}
	a.tracer.endSpan(a.traceID, a.spanID)
}

// Context returns a copy of parent carrying this span as the ambient
// span for any children started from it. Equivalent to the context
// StartSpan already returned, provided here for callers that captured
// only the ActiveSpan (e.g. across an API boundary) and need to
// reconstruct the ambient context explicitly.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	return withAmbient(parent, ambient{traceID: a.traceID, spanID: a.spanID})
}

package waffle

import "context"

// ambientKey is a private context key type, same pattern the teacher uses
// for its bundleKey, to avoid collisions with other packages' context
// values.
type ambientKey struct{}

// ambient is the per-goroutine-chain current span identity (C5). Go has
// no portable thread-local storage or stable goroutine-id API, so
// context.Context propagation is the idiomatic stand-in for the spec's
// "per-thread ambient span identifier with scoped save/restore discipline"
// — it is also exactly the mechanism the teacher library already uses.
// Unlike the reference implementation's thread_local (which tracked only
// a span id and derived trace id incorrectly, see §9), ambient carries
// both identifiers so trace-id inheritance never needs to alias the
// parent's span id.
type ambient struct {
	traceID Id
	spanID  Id
}

func withAmbient(parent context.Context, a ambient) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, ambientKey{}, a)
}

func ambientFromContext(ctx context.Context) (ambient, bool) {
	if ctx == nil {
		return ambient{}, false
	}
	a, ok := ctx.Value(ambientKey{}).(ambient)
	return a, ok
}

// CurrentSpanID returns the span identifier ambient in ctx, or InvalidID
// if ctx carries no active span. This is the read-only accessor the spec
// allows exposing to propagator collaborators (§4.5, §6).
func CurrentSpanID(ctx context.Context) Id {
	a, ok := ambientFromContext(ctx)
	if !ok {
		return InvalidID
	}
	return a.spanID
}

// CurrentTraceID returns the trace identifier ambient in ctx, or
// InvalidID if ctx carries no active span.
func CurrentTraceID(ctx context.Context) Id {
	a, ok := ambientFromContext(ctx)
	if !ok {
		return InvalidID
	}
	return a.traceID
}

package waffle

import (
	"context"
	"testing"
)

func TestCurrentIDsAreInvalidWithoutAmbient(t *testing.T) {
	if CurrentSpanID(context.Background()).Valid() {
		t.Error("expected invalid SpanID for a context with no ambient span")
	}
	if CurrentTraceID(context.Background()).Valid() {
		t.Error("expected invalid TraceID for a context with no ambient span")
	}
	if CurrentSpanID(nil).Valid() || CurrentTraceID(nil).Valid() { //nolint:staticcheck // deliberately exercising nil
		t.Error("expected invalid IDs for a nil context")
	}
}

func TestWithAmbientRoundTrips(t *testing.T) {
	a := ambient{traceID: idFromUint64(7), spanID: idFromUint64(9)}
	ctx := withAmbient(context.Background(), a)

	if got := CurrentTraceID(ctx); got != a.traceID {
		t.Errorf("CurrentTraceID = %v, want %v", got, a.traceID)
	}
	if got := CurrentSpanID(ctx); got != a.spanID {
		t.Errorf("CurrentSpanID = %v, want %v", got, a.spanID)
	}
}

func TestWithAmbientNestingOverridesInnermost(t *testing.T) {
	outer := withAmbient(context.Background(), ambient{traceID: idFromUint64(1), spanID: idFromUint64(1)})
	inner := withAmbient(outer, ambient{traceID: idFromUint64(1), spanID: idFromUint64(2)})

	if got := CurrentSpanID(inner); got != idFromUint64(2) {
		t.Errorf("inner ambient SpanID = %v, want 2", got)
	}
	if got := CurrentSpanID(outer); got != idFromUint64(1) {
		t.Errorf("outer context should be unaffected by the child's ambient value, got %v", got)
	}
}

package waffle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

var errBoom = errors.New("boom")

func testRecord(name string) AssembledRecord {
	return AssembledRecord{Name: name, Type: RecordSpanStart, TraceID: idFromUint64(1), OwnID: idFromUint64(1)}
}

func TestBatchingProcessorFlushesOnMaxSize(t *testing.T) {
	next := NewCollectingProcessor(16)
	b := NewBatchingProcessor(next, 3, 0, nil)

	b.OnRecord(testRecord("a"))
	b.OnRecord(testRecord("b"))
	if next.Count() != 0 {
		t.Fatalf("should not flush before maxSize is reached, got %d records", next.Count())
	}
	b.OnRecord(testRecord("c"))

	if err := b.ForceFlush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := next.Count(); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestBatchingProcessorForceFlushDeliversPartialBatch(t *testing.T) {
	next := NewCollectingProcessor(16)
	b := NewBatchingProcessor(next, 10, 0, nil)

	b.OnRecord(testRecord("only"))
	if err := b.ForceFlush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := next.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

// TestBatchingProcessorFlushesOnMaxAge drives a FakeClock explicitly via
// Advance+BlockUntilReady rather than letting the age loop's internal
// Sleep call race a real-time duration, avoiding the FakeClock hang hazard
// of an unadvanced clock.Sleep blocking forever.
func TestBatchingProcessorFlushesOnMaxAge(t *testing.T) {
	next := NewCollectingProcessor(16)
	clock := clockz.NewFakeClock()
	b := NewBatchingProcessor(next, 0, 100*time.Millisecond, clock)

	b.OnRecord(testRecord("aged"))

	clock.BlockUntilReady()
	clock.Advance(200 * time.Millisecond)
	clock.BlockUntilReady()

	deadline := time.Now().Add(2 * time.Second)
	for next.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := next.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1 after age-based flush", got)
	}
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestBatchingProcessorShutdownFlushesRemainder(t *testing.T) {
	next := NewCollectingProcessor(16)
	b := NewBatchingProcessor(next, 100, 0, nil)

	b.OnRecord(testRecord("leftover"))
	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := next.Count(); got != 1 {
		t.Fatalf("Count = %d, want 1", got)
	}
}

func TestFanOutProcessorDuplicatesToAllChildren(t *testing.T) {
	a := NewCollectingProcessor(16)
	b := NewCollectingProcessor(16)
	fo := NewFanOutProcessor(a, b)

	fo.OnRecord(testRecord("one"))

	if err := fo.ForceFlush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.Count() != 1 || b.Count() != 1 {
		t.Fatalf("both children should have received the record, got a=%d b=%d", a.Count(), b.Count())
	}
	if err := fo.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

type errProcessor struct{ err error }

func (e errProcessor) OnRecord(AssembledRecord)         {}
func (e errProcessor) ForceFlush(context.Context) error { return e.err }
func (e errProcessor) Shutdown(context.Context) error   { return e.err }

func TestFanOutProcessorPropagatesFirstError(t *testing.T) {
	boom := errProcessor{err: errBoom}
	ok := NewCollectingProcessor(4)
	fo := NewFanOutProcessor(boom, ok)

	if err := fo.ForceFlush(context.Background()); err != errBoom {
		t.Fatalf("ForceFlush error = %v, want %v", err, errBoom)
	}
	if err := fo.Shutdown(context.Background()); err != errBoom {
		t.Fatalf("Shutdown error = %v, want %v", err, errBoom)
	}
}

func TestBatchingProcessorResetDiscardsPendingBatch(t *testing.T) {
	next := NewCollectingProcessor(16)
	b := NewBatchingProcessor(next, 100, 0, nil)

	b.OnRecord(testRecord("discarded"))
	b.Reset()

	if err := b.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := next.Count(); got != 0 {
		t.Fatalf("Count = %d, want 0: Reset should discard the pending batch undelivered", got)
	}
}

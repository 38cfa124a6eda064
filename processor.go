package waffle

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Processor is the delivery interface the background assembly engine feeds
// completed AssembledRecords to (§4.7, §8). Implementations must not
// mutate the record they receive — it may be shared with sibling
// processors in a fan-out chain.
type Processor interface {
	// OnRecord delivers one assembled record. Implementations that need to
	// buffer should copy what they keep; the record's Attributes map is
	// shared and must be treated as read-only.
	OnRecord(rec AssembledRecord)

	// ForceFlush asks the processor to deliver anything it is currently
	// holding, blocking until done or ctx is done.
	ForceFlush(ctx context.Context) error

	// Shutdown flushes and releases any background resources. After
	// Shutdown returns, OnRecord must still be safe to call (it may be a
	// no-op) since a concurrent hot-path caller cannot be made to
	// synchronize with tracer shutdown.
	Shutdown(ctx context.Context) error
}

// BatchingProcessor accumulates records and forwards them to a downstream
// Processor's OnRecord once per accumulated record, but only after either
// maxSize records have queued or maxAge has elapsed since the oldest
// record in the current batch — whichever comes first (§8). It exists to let an exporter-style downstream processor pay
// for a network round trip once per batch instead of once per record,
// the same batching-for-amortized-cost idea the teacher's Collector
// applies to buffer growth.
type BatchingProcessor struct {
	next    Processor
	clock   clockz.Clock
	maxSize int
	maxAge  time.Duration

	mu      sync.Mutex
	batch   []AssembledRecord
	oldest  time.Time
	timerCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBatchingProcessor wraps next so records are delivered in batches of
// up to maxSize, or after maxAge since the first record currently
// buffered, whichever is sooner. maxSize <= 0 disables the size bound
// (age-only flushing); maxAge <= 0 disables the age bound (size-only
// flushing). clock lets tests control the age bound deterministically,
// mirroring the teacher's WithClock injection pattern.
func NewBatchingProcessor(next Processor, maxSize int, maxAge time.Duration, clock clockz.Clock) *BatchingProcessor {
	if clock == nil {
		clock = clockz.RealClock
	}
	b := &BatchingProcessor{
		next:    next,
		clock:   clock,
		maxSize: maxSize,
		maxAge:  maxAge,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if maxAge > 0 {
		go b.ageLoop()
	} else {
		close(b.doneCh)
	}
	return b
}

// ageLoop polls at ageCheckInterval rather than using a ticker/timer:
// clockz.Clock exposes Now/Sleep/Since, the same small surface the
// teacher's fake-clock tests drive via Advance+BlockUntilReady, so
// sleep-and-recheck is the portable way to get a fake-clock-controllable
// periodic wakeup without assuming a richer timer API exists.
func (b *BatchingProcessor) ageLoop() {
	defer close(b.doneCh)
	interval := b.ageCheckInterval()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}
		b.clock.Sleep(interval)
		select {
		case <-b.stopCh:
			return
		default:
		}
		b.flushIfAged()
	}
}

// ageCheckInterval polls at a fraction of maxAge so the oldest buffered
// record is never held much longer than maxAge itself.
func (b *BatchingProcessor) ageCheckInterval() time.Duration {
	d := b.maxAge / 4
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (b *BatchingProcessor) flushIfAged() {
	b.mu.Lock()
	if len(b.batch) == 0 || b.clock.Since(b.oldest) < b.maxAge {
		b.mu.Unlock()
		return
	}
	batch := b.drainLocked()
	b.mu.Unlock()
	b.deliver(batch)
}

func (b *BatchingProcessor) drainLocked() []AssembledRecord {
	batch := b.batch
	b.batch = nil
	b.oldest = time.Time{}
	return batch
}

func (b *BatchingProcessor) deliver(batch []AssembledRecord) {
	for _, rec := range batch {
		b.next.OnRecord(rec)
	}
}

// OnRecord buffers rec, flushing the batch to next if maxSize is reached.
func (b *BatchingProcessor) OnRecord(rec AssembledRecord) {
	b.mu.Lock()
	if len(b.batch) == 0 {
		b.oldest = b.clock.Now()
	}
	b.batch = append(b.batch, rec)
	var batch []AssembledRecord
	if b.maxSize > 0 && len(b.batch) >= b.maxSize {
		batch = b.drainLocked()
	}
	b.mu.Unlock()
	if batch != nil {
		b.deliver(batch)
	}
}

// ForceFlush delivers the current batch regardless of size or age, then
// forwards the flush request downstream.
func (b *BatchingProcessor) ForceFlush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.drainLocked()
	b.mu.Unlock()
	b.deliver(batch)
	return b.next.ForceFlush(ctx)
}

// Shutdown stops the age-based flush loop, flushes any remaining batch,
// and shuts down next.
func (b *BatchingProcessor) Shutdown(ctx context.Context) error {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	<-b.doneCh
	if err := b.ForceFlush(ctx); err != nil {
		return err
	}
	return b.next.Shutdown(ctx)
}

// Reset discards any currently buffered, not-yet-flushed batch without
// delivering it downstream, mirroring the teacher's Collector.Reset
// applied here to the batching processor's pending batch rather than a
// terminal buffer.
func (b *BatchingProcessor) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batch = nil
	b.oldest = time.Time{}
}

// FanOutProcessor delivers every record to each of an ordered list of
// child processors in turn (§8). A panic or slow child does not get any
// special isolation — composition primitives here are deliberately thin;
// resilience belongs to the individual Processor implementation.
type FanOutProcessor struct {
	children []Processor
}

// NewFanOutProcessor returns a Processor that duplicates every record to
// each of children, in order.
func NewFanOutProcessor(children ...Processor) *FanOutProcessor {
	cs := make([]Processor, len(children))
	copy(cs, children)
	return &FanOutProcessor{children: cs}
}

func (f *FanOutProcessor) OnRecord(rec AssembledRecord) {
	for _, c := range f.children {
		c.OnRecord(rec)
	}
}

func (f *FanOutProcessor) ForceFlush(ctx context.Context) error {
	var firstErr error
	for _, c := range f.children {
		if err := c.ForceFlush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *FanOutProcessor) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, c := range f.children {
		if err := c.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

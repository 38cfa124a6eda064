// Package ringbuf implements the bounded, lock-free multi-producer /
// single-consumer queue that is the sole contact point between
// application threads and the tracing subsystem (spec §4.2). It is kept
// generic and free of any tracing-domain type so it can be exercised
// directly with plain comparable types, the way the reference
// implementation's ring_buffer_tests.cpp tests MpscRingBuffer<int> in
// isolation from the domain.
package ringbuf

import "sync/atomic"

// cacheLineSize is the padding granularity used to keep the producer-
// contended tail counter and the consumer-only head counter on separate
// cache lines. Go has no portable way to query the platform's actual
// line size (no std::hardware_destructive_interference_size analogue),
// so 64 bytes — the universal value on every mainstream x86/arm64 target —
// is used the same way the reference implementation falls back to 64
// when the compiler can't report a better number.
const cacheLineSize = 64

// Ring is a bounded MPSC queue of T with power-of-two capacity. The zero
// value is not usable; construct with New.
//
//nolint:govet // field order is deliberate: padding isolates head/tail.
type Ring[T any] struct {
	cap  uint64
	mask uint64

	_pad0 [cacheLineSize]byte
	head  atomic.Uint64 // consumer-owned

	_pad1 [cacheLineSize]byte
	tail  atomic.Uint64 // producer-contended

	_pad2 [cacheLineSize]byte
	slots []T
	ready []atomic.Bool
}

// nextPowerOfTwo rounds n up to the next power of two with a floor of 2,
// matching the reference implementation's next_power_of_two.
func nextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 2
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// New constructs a ring with the requested capacity rounded up to the
// next power of two (floor 2). A requested capacity of zero is rejected.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errInvalidCapacity
	}
	cap := nextPowerOfTwo(uint64(capacity))
	return &Ring[T]{
		cap:   cap,
		mask:  cap - 1,
		slots: make([]T, cap),
		ready: make([]atomic.Bool, cap),
	}, nil
}

// Capacity returns the ring's effective (power-of-two) slot count.
func (r *Ring[T]) Capacity() int { return int(r.cap) }

// Len returns an instantaneous, racy estimate of the number of published
// and not-yet-popped entries. Useful for idle-detection heuristics only.
func (r *Ring[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// TryEmplace attempts to claim the next producer slot and store v in it.
// It returns false if the ring is full. This is the claim-then-publish
// protocol from §4.2: the tail CAS reserves a unique slot index among
// contending producers; only after the CAS succeeds is the value written
// and the slot's ready flag published with release semantics, so slot
// reservation order never implies construction-completion order.
//
// Go's sync/atomic operations are specified by the Go memory model as
// sequentially consistent, a strictly stronger guarantee than the spec's
// per-operation minimums (relaxed tail CAS, acquire/release head and
// ready-flag traffic) — there is no relaxed/acquire/release distinction
// to tune in idiomatic Go, so every load/store below uses the plain
// atomic accessor and relies on that stronger guarantee.
func (r *Ring[T]) TryEmplace(v T) bool {
	for {
		tail := r.tail.Load()
		head := r.head.Load()
		if tail-head >= r.cap {
			return false
		}
		if r.tail.CompareAndSwap(tail, tail+1) {
			idx := tail & r.mask
			r.slots[idx] = v
			r.ready[idx].Store(true)
			return true
		}
	}
}

// TryPop drains the oldest published slot into *out. It returns false if
// no slot is currently both reserved and published. Consumption proceeds
// strictly in reservation order: a producer that won the tail CAS for an
// earlier slot but hasn't published yet blocks the consumer from seeing
// any later, already-published slot. This is intentional (§4.2) — it
// preserves producer-order FIFO and keeps the consumer loop free of
// reordering logic.
func (r *Ring[T]) TryPop(out *T) bool {
	head := r.head.Load()
	if head == r.tail.Load() {
		return false
	}
	idx := head & r.mask
	if !r.ready[idx].Load() {
		return false
	}
	*out = r.slots[idx]
	var zero T
	r.slots[idx] = zero // drop the reference so the GC can reclaim it
	r.ready[idx].Store(false)
	r.head.Store(head + 1)
	return true
}

// Close drains every slot still published between the current head and
// tail, invoking destruct on each in head-to-tail order, then marks the
// ring as empty. This is the Go analogue of the reference
// implementation's destructor, which must destruct any live (claimed and
// published but not yet popped) records before the backing storage goes
// away. A slot that was reserved by a producer's tail CAS but never
// published (the producer died mid-construction) is skipped, since it was
// never an "occupied" slot by the spec's definition.
func (r *Ring[T]) Close(destruct func(T)) {
	head := r.head.Load()
	tail := r.tail.Load()
	for i := head; i != tail; i++ {
		idx := i & r.mask
		if r.ready[idx].Load() {
			if destruct != nil {
				destruct(r.slots[idx])
			}
			var zero T
			r.slots[idx] = zero
			r.ready[idx].Store(false)
		}
	}
	r.head.Store(tail)
}

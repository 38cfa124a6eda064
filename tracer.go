package waffle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/waffletrace/waffle/internal/ringbuf"
)

// DefaultRingCapacity is the slot count used when WithRingCapacity is not
// supplied. Rounded up to the next power of two by ringbuf.New, same as
// every other capacity.
const DefaultRingCapacity = 4096

// DefaultIdleSleep is how long the assembly engine sleeps between drain
// attempts when it finds the ring empty (§4.7, C7), absent WithIdleSleep.
const DefaultIdleSleep = 200 * time.Microsecond

// tracerConfig collects the functional options below into the values
// NewTracer actually needs, mirroring the teacher's options-into-struct
// pattern even though the teacher itself only exposes WithClock.
type tracerConfig struct {
	clock        clockz.Clock
	logger       *zap.SugaredLogger
	ringCapacity int
	idleSleep    time.Duration
}

// Option configures a Tracer at construction time.
type Option func(*tracerConfig)

// WithClock injects a clock, the same deterministic-testing hook the
// teacher's Tracer.WithClock provides. Applies to tracelet timestamps
// only; the assembly engine's idle sleep always uses wall-clock time.
func WithClock(clock clockz.Clock) Option {
	return func(c *tracerConfig) { c.clock = clock }
}

// WithRingCapacity sets the requested ring buffer slot count (rounded up
// to the next power of two). The ring bounds in-flight, not-yet-assembled
// tracelets (§2 Non-goals: no unbounded queueing, no dynamic growth).
func WithRingCapacity(n int) Option {
	return func(c *tracerConfig) { c.ringCapacity = n }
}

// WithIdleSleep sets how long the assembly engine sleeps between drain
// attempts when the ring is empty.
func WithIdleSleep(d time.Duration) Option {
	return func(c *tracerConfig) { c.idleSleep = d }
}

// WithLogger sets the logger used for the rare, already-counted failure
// paths (dropped tracelet, unpairable span-end, suppressed processor
// panic, processor shutdown error). The hot path logs only when the ring
// is full and a tracelet is dropped; the rest is logged by the assembly
// engine, see assembly.go. Attribute truncation is counted, not logged.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *tracerConfig) { c.logger = logger }
}

// Tracer is the hot-path facade (C6): StartSpan, CreateEvent, and the
// ActiveSpans they return are the entire surface application code calls.
// Everything downstream — tracelet construction, ring placement, drain,
// assembly, and delivery — runs on the single background assembly-engine
// goroutine spawned by NewTracer.
//
//nolint:govet // field order follows the teacher's "functionality over
// memory" convention rather than tightest packing.
type Tracer struct {
	ring     *ringbuf.Ring[Tracelet]
	interner *interner
	clock    clockz.Clock
	logger   *zap.SugaredLogger

	nextID atomic.Uint64

	metricsSet       *metrics.Set
	spansStarted     *metrics.Counter
	spansDropped     *metrics.Counter
	attrsTruncated   *metrics.Counter
	orphanedSpanEnds *metrics.Counter
	processorPanics  *metrics.Counter

	shutdown atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewTracer constructs a Tracer delivering AssembledRecords to processor
// and starts its background assembly engine. Callers must call Shutdown
// to release the goroutine and flush the processor chain.
func NewTracer(processor Processor, opts ...Option) (*Tracer, error) {
	if processor == nil {
		return nil, errors.New("waffle: processor must not be nil")
	}

	cfg := tracerConfig{
		clock:        clockz.RealClock,
		ringCapacity: DefaultRingCapacity,
		idleSleep:    DefaultIdleSleep,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		zapLogger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("waffle: building default logger: %w", err)
		}
		cfg.logger = zapLogger.Sugar()
	}

	ring, err := ringbuf.New[Tracelet](cfg.ringCapacity)
	if err != nil {
		return nil, fmt.Errorf("waffle: %w", err)
	}

	set := metrics.NewSet()
	t := &Tracer{
		ring:             ring,
		interner:         newInterner(),
		clock:            cfg.clock,
		logger:           cfg.logger,
		metricsSet:       set,
		spansStarted:     set.NewCounter("waffle_spans_started_total"),
		spansDropped:     set.NewCounter("waffle_tracelets_dropped_total"),
		attrsTruncated:   set.NewCounter("waffle_attributes_truncated_total"),
		orphanedSpanEnds: set.NewCounter("waffle_orphaned_span_ends_total"),
		processorPanics:  set.NewCounter("waffle_processor_panics_total"),
		stopCh:           make(chan struct{}),
	}

	engine := &assemblyEngine{
		ring:             ring,
		interner:         t.interner,
		processor:        processor,
		logger:           cfg.logger,
		idleSleep:        cfg.idleSleep,
		stopCh:           t.stopCh,
		orphanedSpanEnds: t.orphanedSpanEnds,
		processorPanics:  t.processorPanics,
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		engine.run()
	}()

	return t, nil
}

func (t *Tracer) allocID() Id {
	return idFromUint64(t.nextID.Add(1))
}

// gatherArgs splits a variadic spanArg slice into its Attribute and
// CausedBy components. spanArg is closed over exactly these two types,
// so there is no unsupported-type branch to handle here: the type
// checker already rejected anything else at the call site (§4.6.1, §7).
// Per §4.6.1 step 1, the first cause-tag in the list wins; any further
// CausedBy arguments are ignored.
func gatherArgs(args []spanArg) (attrs []Attribute, cause Id, hasCause bool) {
	cause = InvalidID
	for _, a := range args {
		switch v := a.(type) {
		case Attribute:
			attrs = append(attrs, v)
		case CausedBy:
			if !hasCause {
				cause = v.id
				hasCause = true
			}
		}
	}
	return attrs, cause, hasCause
}

// internAttrs resolves a slice of user-facing Attributes into wire
// format, interning the key and (for string attributes) the value.
// Attributes beyond MaxAttributesPerTracelet are dropped by the tracelet
// constructor, not here; the caller counts the drop.
func (t *Tracer) internAttrs(attrs []Attribute) []wireAttribute {
	if len(attrs) == 0 {
		return nil
	}
	wire := make([]wireAttribute, len(attrs))
	for i, a := range attrs {
		wire[i] = wireAttribute{
			KeyHash: t.interner.intern(a.Key),
			Kind:    a.Value.Kind,
			Bool:    a.Value.Bool,
			Int64:   a.Value.Int64,
			Float64: a.Value.Float,
		}
		if a.Value.Kind == AttrString {
			wire[i].StrHash = t.interner.intern(a.Value.Str)
		}
	}
	return wire
}

// emplaceOrDrop pushes tl onto the ring, counting and logging a drop if
// the ring is full. A full ring drops the tracelet rather than blocking
// the caller (§2 Non-goals: no backpressure onto application code).
func (t *Tracer) emplaceOrDrop(tl Tracelet) {
	if !t.ring.TryEmplace(tl) {
		t.spansDropped.Inc()
		t.logger.Warnw("waffle: ring buffer full, dropping tracelet",
			"type", tl.Type.String(), "trace_id", tl.TraceID.Uint64(), "own_id", tl.OwnID.Uint64())
	}
}

// StartSpan begins a new span named name, causally nested under whatever
// span is ambient in ctx (if any), and returns both the ActiveSpan handle
// and a context carrying the new span as ambient for children started
// from it. Accepts zero or more Attribute/CausedBy arguments.
//
// If ctx already carries an ambient span, the new span inherits that
// span's TraceID — not its SpanID, the bug described in §9 that this
// library fixes — and records ParentID as that span's SpanID.
func (t *Tracer) StartSpan(ctx context.Context, name string, args ...spanArg) (context.Context, *ActiveSpan) {
	return t.startSpan(ctx, name, 0, args)
}

// StartSpanHashed is StartSpan for a name whose hash was precomputed
// once via HashString (the Go analogue of a compile-time string
// literal's hash, §4.3). Register the literal itself once via
// (*Tracer).RegisterName so the assembly engine can resolve the hash
// back to a name when assembling records.
func (t *Tracer) StartSpanHashed(ctx context.Context, nameHash uint64, args ...spanArg) (context.Context, *ActiveSpan) {
	return t.startSpan(ctx, "", nameHash, args)
}

func (t *Tracer) startSpan(ctx context.Context, name string, nameHash uint64, args []spanArg) (context.Context, *ActiveSpan) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.shutdown.Load() {
		// Hot-path operations become no-ops after shutdown (§4.6): no id
		// allocation, no interning, no tracelet — the returned span is
		// already finished so a caller's deferred Finish is a further no-op.
		span := &ActiveSpan{tracer: t}
		span.done.Store(true)
		return ctx, span
	}
	if name != "" {
		nameHash = t.interner.intern(name)
	}

	attrs, explicitCause, hasCause := gatherArgs(args)
	wire := t.internAttrs(attrs)
	if len(attrs) > MaxAttributesPerTracelet {
		t.attrsTruncated.Inc()
	}

	ownID := t.allocID()
	traceID := ownID
	parentID := InvalidID
	causeID := InvalidID
	if hasCause {
		causeID = explicitCause
	}
	if parent, ok := ambientFromContext(ctx); ok {
		traceID = parent.traceID
		parentID = parent.spanID
	}

	t.spansStarted.Inc()
	tl, _ := newSpanStartTracelet(t.clock.Now().UnixNano(), traceID, ownID, parentID, causeID, nameHash, RecordSpanStart, wire)
	t.emplaceOrDrop(tl)

	newCtx := withAmbient(ctx, ambient{traceID: traceID, spanID: ownID})
	span := &ActiveSpan{tracer: t, traceID: traceID, spanID: ownID}
	return newCtx, span
}

// CreateEvent records a point-in-time event named name under whatever
// span is ambient in ctx, or as an orphaned (parentless) event if none
// is ambient — orphaned events are still assembled and delivered (§4.6.2,
// SPEC_FULL.md §4).
func (t *Tracer) CreateEvent(ctx context.Context, name string, args ...spanArg) {
	if t.shutdown.Load() {
		return
	}
	attrs, explicitCause, hasCause := gatherArgs(args)
	wire := t.internAttrs(attrs)
	if len(attrs) > MaxAttributesPerTracelet {
		t.attrsTruncated.Inc()
	}

	ownID := t.allocID()
	traceID := ownID
	parentID := InvalidID
	causeID := InvalidID
	if hasCause {
		causeID = explicitCause
	}
	if parent, ok := ambientFromContext(ctx); ok {
		traceID = parent.traceID
		parentID = parent.spanID
	}

	tl, _ := newSpanStartTracelet(t.clock.Now().UnixNano(), traceID, ownID, parentID, causeID, t.interner.intern(name), RecordEvent, wire)
	t.emplaceOrDrop(tl)
}

// endSpan is called exactly once by ActiveSpan.Finish.
func (t *Tracer) endSpan(traceID, spanID Id) {
	if t.shutdown.Load() {
		return
	}
	tl := newSpanEndTracelet(t.clock.Now().UnixNano(), traceID, spanID)
	t.emplaceOrDrop(tl)
}

// RegisterName interns name against its own hash eagerly, so the
// assembly engine can resolve it even when every call site at runtime
// uses the precomputed-hash fast path (StartSpanHashed) and never passes
// the literal itself.
func (t *Tracer) RegisterName(name string) uint64 {
	return t.interner.intern(name)
}

// SpansDropped returns the number of tracelets dropped because the ring
// was full at emplace time.
func (t *Tracer) SpansDropped() uint64 { return t.spansDropped.Get() }

// AttributesTruncated returns the number of StartSpan/CreateEvent calls
// that supplied more than MaxAttributesPerTracelet attributes.
func (t *Tracer) AttributesTruncated() uint64 { return t.attrsTruncated.Get() }

// OrphanedSpanEnds returns the number of span-end tracelets the assembly
// engine could not pair with an open span (§9 edge cases).
func (t *Tracer) OrphanedSpanEnds() uint64 { return t.orphanedSpanEnds.Get() }

// ProcessorPanics returns the number of times a Processor's OnRecord
// panicked and was suppressed by the assembly engine (§7 "Processor
// failure").
func (t *Tracer) ProcessorPanics() uint64 { return t.processorPanics.Get() }

// WritePrometheus writes this tracer's diagnostic counters in Prometheus
// exposition format, for wiring into an application's own /metrics
// handler alongside metrics.WriteProcessMetrics.
func (t *Tracer) WritePrometheus(w io.Writer) {
	t.metricsSet.WritePrometheus(w)
}

// Shutdown stops the assembly engine, draining and assembling any
// tracelets already in the ring (including leaked open spans, see
// assembly.go), then shuts down the processor chain. Safe to call more
// than once; subsequent calls are no-ops.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	close(t.stopCh)
	t.wg.Wait()
	return nil
}

package waffle

import (
	"context"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"go.uber.org/zap"

	"github.com/waffletrace/waffle/internal/ringbuf"
)

// shutdownFlushTimeout bounds how long the assembly engine waits for the
// processor chain to flush during Tracer.Shutdown.
const shutdownFlushTimeout = 5 * time.Second

// openSpan is the assembly engine's record of a span that has started but
// not yet ended, keyed by its own id in assemblyEngine.activeSpans. It is
// the Go equivalent of the reference implementation's ReadableSpanData
// held in waffle_core.cpp's processing-thread map — owned exclusively by
// the background goroutine, so it needs no locking.
type openSpan struct {
	traceID   Id
	parentID  Id
	causeID   Id
	hasCause  bool
	nameHash  uint64
	attrs     []wireAttribute
}

// assemblyEngine is the single background consumer (C7): it owns the
// ring's read side exclusively, so every field below is touched only
// from the goroutine running (*assemblyEngine).run — no synchronization
// is needed for activeSpans despite StartSpan/CreateEvent/Finish being
// called concurrently from arbitrarily many application goroutines,
// because those goroutines only ever write tracelets into the ring.
type assemblyEngine struct {
	ring      *ringbuf.Ring[Tracelet]
	interner  *interner
	processor Processor
	logger    *zap.SugaredLogger
	idleSleep time.Duration
	stopCh    <-chan struct{}

	orphanedSpanEnds *metrics.Counter
	processorPanics  *metrics.Counter

	activeSpans map[uint64]*openSpan
}

// run is the engine's only loop: drain, and when the ring is empty,
// sleep idleSleep before retrying (§4.7 C7). This backoff always uses
// wall-clock time rather than an injected clockz.Clock — it is purely
// an internal pacing detail with no observable effect on assembled
// timestamps (those come from the Tracer's injected clock at tracelet
// construction time), so tests that fake the clock for deterministic
// span timing never need to also drive this loop's pacing forward.
func (e *assemblyEngine) run() {
	e.activeSpans = make(map[uint64]*openSpan, 256)
	var tl Tracelet
	for {
		if e.ring.TryPop(&tl) {
			e.process(tl)
			continue
		}
		select {
		case <-e.stopCh:
			e.drainAndShutdown()
			return
		default:
		}
		time.Sleep(e.idleSleep)
	}
}

// drainAndShutdown runs once Shutdown has been requested: it pops
// whatever remains in the ring (tracelets written before the caller
// observed shutdown but not yet consumed), assembles what it can, then
// emits a best-effort record for every span that started but never
// received a matching end — a leaked span, under SPEC_FULL.md's
// supplemented shutdown-drain behavior — before flushing and shutting
// down the processor chain.
func (e *assemblyEngine) drainAndShutdown() {
	var tl Tracelet
	for e.ring.TryPop(&tl) {
		e.process(tl)
	}

	for ownIDVal, sp := range e.activeSpans {
		e.safeOnRecord(e.buildSpanRecord(idFromUint64(ownIDVal), sp))
	}
	e.activeSpans = nil

	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	if err := e.processor.Shutdown(ctx); err != nil {
		e.logger.Warnw("waffle: processor shutdown returned an error", "error", err)
	}
}

func (e *assemblyEngine) process(tl Tracelet) {
	switch tl.Type {
	case RecordSpanStart:
		e.activeSpans[tl.OwnID.Uint64()] = &openSpan{
			traceID:   tl.TraceID,
			parentID:  tl.ParentID,
			causeID:   tl.CauseID,
			hasCause:  tl.CauseID.Valid(),
			nameHash:  tl.NameHash,
			attrs:     append([]wireAttribute(nil), tl.attributes()...),
		}
	case RecordSpanEnd:
		sp, ok := e.activeSpans[tl.OwnID.Uint64()]
		if !ok {
			// No matching SPAN_START observed for this end: either it
			// already leaked through a prior shutdown drain, or the
			// corresponding start tracelet was dropped for a full ring.
			// Either way there is nothing to assemble (§9 edge cases).
			e.orphanedSpanEnds.Inc()
			e.logger.Warnw("waffle: span-end with no matching open span",
				"trace_id", tl.TraceID.Uint64(), "own_id", tl.OwnID.Uint64())
			return
		}
		delete(e.activeSpans, tl.OwnID.Uint64())
		e.safeOnRecord(e.buildSpanRecord(tl.OwnID, sp))
	case RecordEvent:
		e.safeOnRecord(e.buildEventRecord(tl))
	}
}

// safeOnRecord delivers rec to the processor chain, recovering from any
// panic a processor's OnRecord raises so one bad exporter cannot halt
// the single background goroutine and, with it, all further telemetry
// (§7 "Processor failure"). Adapted from the teacher's safeCall, which
// guards handler dispatch the same way.
func (e *assemblyEngine) safeOnRecord(rec AssembledRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.processorPanics.Inc()
			e.logger.Errorw("waffle: processor panicked handling a record",
				"panic", r, "record_name", rec.Name, "own_id", rec.OwnID.Uint64())
		}
	}()
	e.processor.OnRecord(rec)
}

func (e *assemblyEngine) buildSpanRecord(ownID Id, sp *openSpan) AssembledRecord {
	cause, hasCause := sp.causeID, sp.hasCause
	if !hasCause {
		cause, hasCause = e.walkForCause(sp.parentID)
	}
	return AssembledRecord{
		Name:           e.resolveName(sp.nameHash),
		Type:           RecordSpanStart,
		TraceID:        sp.traceID,
		OwnID:          ownID,
		ParentID:       sp.parentID,
		HasParent:      sp.parentID.Valid(),
		EffectiveCause: cause,
		HasCause:       hasCause,
		Attributes:     e.resolveAttrs(sp.attrs),
	}
}

func (e *assemblyEngine) buildEventRecord(tl Tracelet) AssembledRecord {
	cause, hasCause := tl.CauseID, tl.CauseID.Valid()
	if !hasCause {
		cause, hasCause = e.walkForCause(tl.ParentID)
	}
	return AssembledRecord{
		Name:           e.resolveName(tl.NameHash),
		Type:           RecordEvent,
		TraceID:        tl.TraceID,
		OwnID:          tl.OwnID,
		ParentID:       tl.ParentID,
		HasParent:      tl.ParentID.Valid(),
		EffectiveCause: cause,
		HasCause:       hasCause,
		Attributes:     e.resolveAttrs(tl.attributes()),
	}
}

// walkForCause implements the implicit-causality resolution algorithm
// (§4.7, GLOSSARY "effective cause"): starting from a record's parent,
// walk up the chain of still-open ancestor spans until one carries an
// explicit cause, and inherit it. Grounded directly on the ancestor walk
// in waffle_core.cpp's EVENT handling, generalized here to also apply to
// completed spans so the rule is uniform across record types.
func (e *assemblyEngine) walkForCause(parent Id) (Id, bool) {
	current := parent
	for current.Valid() {
		sp, ok := e.activeSpans[current.Uint64()]
		if !ok {
			return InvalidID, false
		}
		if sp.hasCause {
			return sp.causeID, true
		}
		current = sp.parentID
	}
	return InvalidID, false
}

func (e *assemblyEngine) resolveName(hash uint64) string {
	if name, ok := e.interner.lookup(hash); ok {
		return name
	}
	return fmt.Sprintf("?%x", hash)
}

func (e *assemblyEngine) resolveAttrs(wire []wireAttribute) map[string]MaterialisedAttribute {
	if len(wire) == 0 {
		return nil
	}
	out := make(map[string]MaterialisedAttribute, len(wire))
	for _, w := range wire {
		key, ok := e.interner.lookup(w.KeyHash)
		if !ok {
			key = fmt.Sprintf("?%x", w.KeyHash)
		}
		mv := MaterialisedAttribute{Kind: w.Kind, Bool: w.Bool, Int64: w.Int64, Float: w.Float64}
		if w.Kind == AttrString {
			if s, ok := e.interner.lookup(w.StrHash); ok {
				mv.Str = s
			} else {
				mv.Str = fmt.Sprintf("?%x", w.StrHash)
			}
		}
		out[key] = mv
	}
	return out
}

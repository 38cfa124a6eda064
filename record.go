package waffle

// MaterialisedAttribute is an attribute whose key and (if present) string
// value have been resolved against the interner, ready for delivery to a
// processor.
type MaterialisedAttribute struct {
	Kind  AttrKind
	Bool  bool
	Int64 int64
	Float float64
	Str   string
}

// AssembledRecord is the immutable unit the background assembly engine
// delivers to the processor chain (§3, §4.7). Once emitted, a record must
// not be mutated by any processor — composition primitives like the
// batching and fan-out processors rely on that to share one record across
// multiple downstream consumers without copying.
type AssembledRecord struct {
	Name string
	Type RecordType

	TraceID Id
	OwnID   Id

	// ParentID is InvalidID for a root span or an orphaned event.
	ParentID Id
	// HasParent distinguishes "no parent" from an explicitly zero-value
	// parent, since Id's zero value and InvalidID are the same thing —
	// kept for symmetry with EffectiveCause below and for processors
	// that want an explicit presence check rather than a Valid() call.
	HasParent bool

	// EffectiveCause is the explicit-or-inherited cause (§4.7, GLOSSARY).
	// HasCause is false when no explicit or inherited cause was found.
	EffectiveCause Id
	HasCause       bool

	Attributes map[string]MaterialisedAttribute
}

package waffle

// MaxAttributesPerTracelet is the compile-time capacity of a tracelet's
// inline attribute array (§3). Attributes beyond this many are silently
// dropped; the facade counts the drop (§6, §9).
const MaxAttributesPerTracelet = 6

// cacheLineSize is the alignment/padding granularity for Tracelet, mirror
// of the one used by internal/ringbuf for the same reason: Go has no
// portable hardware_destructive_interference_size query.
const cacheLineSize = 64

// RecordType tags what kind of event a Tracelet carries.
type RecordType uint8

const (
	RecordSpanStart RecordType = iota
	RecordSpanEnd
	RecordEvent
)

func (t RecordType) String() string {
	switch t {
	case RecordSpanStart:
		return "span-start"
	case RecordSpanEnd:
		return "span-end"
	case RecordEvent:
		return "event"
	default:
		return "unknown"
	}
}

// wireAttribute is the wire-format representation of an attribute inside a
// Tracelet: a key hash paired with a tagged value whose string variant is
// itself already a hash into the interner. Fields are ordered
// largest-alignment-first so Go inserts no implicit padding, keeping the
// layout predictable for the cache-line sizing computed below.
type wireAttribute struct {
	KeyHash uint64
	StrHash uint64
	Int64   int64
	Float64 float64
	Kind    AttrKind
	Bool    bool
	_       [6]byte
}

// emptyWireAttribute is the defined "empty" sentinel value positions past
// NumAttrs must hold, so stale producer data never leaks (§4.1).
var emptyWireAttribute = wireAttribute{}

// Tracelet is the fixed, cache-line-aligned wire unit transferred between
// an application thread and the background assembly engine (§4.1). It is
// constructed in place inside a reserved ring slot and is trivially
// copyable: no field owns heap memory that requires an explicit
// destructor beyond what Go's garbage collector already reclaims.
//
// Total size is a multiple of cacheLineSize by construction (verified in
// tracelet_test.go). Go cannot pin the slice backing array's starting
// address to a cache-line boundary the way C++'s alignas does — there is
// no stdlib-only equivalent — so this guarantees uniform spacing between
// adjacent slots (preventing false sharing between neighbours) but not
// that slot zero itself starts on a cache-line boundary.
type Tracelet struct {
	Timestamp int64 // nanoseconds, from the configured clock source
	TraceID   Id
	OwnID     Id
	ParentID  Id
	CauseID   Id
	NameHash  uint64
	Type      RecordType
	NumAttrs  uint8
	_         [6]byte

	Attrs [MaxAttributesPerTracelet]wireAttribute

	_tailPad [tailPadBytes]byte
}

// tailPadBytes brings Tracelet's size up to the next multiple of
// cacheLineSize. Computed by hand from the field layout above: 56 bytes of
// header plus 6*40 = 240 bytes of attributes is 296 bytes; the next
// multiple of 64 is 320, so 24 bytes of trailing padding are required.
const tailPadBytes = 24

// newSpanStartTracelet builds a span-start (or event) tracelet carrying
// up to MaxAttributesPerTracelet attributes. Excess attributes are
// dropped; truncated reports whether any were.
func newSpanStartTracelet(ts int64, traceID, ownID, parentID, causeID Id, nameHash uint64, rt RecordType, attrs []wireAttribute) (Tracelet, bool) {
	tl := Tracelet{
		Timestamp: ts,
		TraceID:   traceID,
		OwnID:     ownID,
		ParentID:  parentID,
		CauseID:   causeID,
		NameHash:  nameHash,
		Type:      rt,
	}
	n := len(attrs)
	truncated := n > MaxAttributesPerTracelet
	if truncated {
		n = MaxAttributesPerTracelet
	}
	for i := 0; i < n; i++ {
		tl.Attrs[i] = attrs[i]
	}
	for i := n; i < MaxAttributesPerTracelet; i++ {
		tl.Attrs[i] = emptyWireAttribute
	}
	tl.NumAttrs = uint8(n)
	return tl, truncated
}

// newSpanEndTracelet builds a span-end tracelet. Span-end tracelets never
// carry attributes (§3).
func newSpanEndTracelet(ts int64, traceID, ownID Id) Tracelet {
	return Tracelet{
		Timestamp: ts,
		TraceID:   traceID,
		OwnID:     ownID,
		Type:      RecordSpanEnd,
	}
}

// attributes returns the tracelet's live attributes (its first NumAttrs
// entries), ignoring the padding positions beyond that.
func (t *Tracelet) attributes() []wireAttribute {
	return t.Attrs[:t.NumAttrs]
}

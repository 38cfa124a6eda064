package waffle

import "hash/fnv"

// Id is the unified, strongly-typed identifier for every trace entity:
// spans, events, and traces all share the same identifier space. Zero is
// the reserved invalid/sentinel value.
type Id struct {
	value uint64
}

// InvalidID is the reserved sentinel. The zero Id is always invalid.
var InvalidID = Id{}

// Valid reports whether id is anything other than the invalid sentinel.
func (id Id) Valid() bool { return id.value != 0 }

// Uint64 returns the raw identifier value, mainly for export/serialization.
func (id Id) Uint64() uint64 { return id.value }

func idFromUint64(v uint64) Id { return Id{value: v} }

// CausedBy is a tag wrapper establishing an explicit causal link to id,
// independent of span nesting. Pass it alongside Attributes to StartSpan
// or CreateEvent.
type CausedBy struct {
	id Id
}

// Cause wraps id as an explicit cause tag.
func Cause(id Id) CausedBy { return CausedBy{id: id} }

// spanArg is implemented by Attribute and CausedBy, the only two argument
// kinds StartSpan/CreateEvent accept. Restricting the interface to these
// two concrete types pushes the "unsupported argument" rejection the spec
// asks for (§4.6.1, §7) to the type checker instead of a runtime check.
type spanArg interface {
	isSpanArg()
}

func (CausedBy) isSpanArg()  {}
func (Attribute) isSpanArg() {}

// fnv1aOffset and fnv1aPrime are the 64-bit FNV-1a constants §4.3 pins for
// the compile-time and runtime string hashing paths. hash/fnv's 64a
// implementation already uses exactly these constants, so no third-party
// hasher is substituted here.
const (
	fnv1aOffset uint64 = 0xcbf29ce484222325
	fnv1aPrime  uint64 = 0x100000001b3
)

// HashString computes the 64-bit FNV-1a hash of s, matching the constants
// a compile-time literal hash is expected to use (§4.3). Callers that want
// to precompute a literal's hash once (the Go analogue of the reference
// implementation's compile-time StaticStringSource) can cache the result
// of HashString in a package-level var and pass it to StartSpanHashed.
// CreateEvent has no precomputed-hash variant.
func HashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s)) // fnv.Write never returns an error
	return h.Sum64()
}

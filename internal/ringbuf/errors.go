package ringbuf

import "errors"

// errInvalidCapacity is returned by New when the requested capacity is
// zero or negative — the spec (§4.2, §7) requires construction to fail
// loudly rather than silently substitute a default.
var errInvalidCapacity = errors.New("ringbuf: capacity must be > 0")

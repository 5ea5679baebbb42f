// Package ohdr implements the object-header metadata engine: decoding and
// encoding of versioned, chunked, checksummed object headers, and the
// message/chunk lifecycle operations built on them.
package ohdr

import "github.com/zeebo/errs"

// Error classes. Decode-time failures (ErrCorrupt, ErrChecksum,
// ErrUnsupported) are not retriable: the caller must treat the object as
// unreadable. ErrInvalidOp reports a contract violation by the caller.
var (
	// ErrCorrupt covers bad magic, size overruns, and malformed
	// continuation chains.
	ErrCorrupt = errs.Class("corrupt object header")

	// ErrChecksum is a checksum mismatch, kept distinct from ErrCorrupt
	// for diagnostics.
	ErrChecksum = errs.Class("object header checksum mismatch")

	// ErrUnsupported reports a construct the library cannot process: an
	// unknown header version, or an unknown message type whose flags
	// demand failure.
	ErrUnsupported = errs.Class("unsupported header message")

	// ErrOutOfSpace reports allocator exhaustion. The header is left in
	// its prior in-memory state; no partial mutation is committed.
	ErrOutOfSpace = errs.Class("file space exhausted")

	// ErrInvalidOp reports a programming error, such as releasing a
	// locked message or exhausting the creation-index space.
	ErrInvalidOp = errs.Class("invalid object header operation")
)

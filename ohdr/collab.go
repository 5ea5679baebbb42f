package ohdr

// Cache is the metadata cache the engine reads chunk images from and writes
// them back to. It is also the registry for flush dependencies between
// cached entries, keyed by file address.
//
// Protect checks out the image at addr. A size of zero asks for a
// speculative read: the cache returns at least enough bytes to parse a
// header prefix, and the engine calls Protect again with the exact size
// once it is known. The engine copies what it needs and releases the
// checkout with Unprotect(addr, nil, false).
//
// Unprotect with dirty=true is the writeback path: image holds the full
// serialized chunk and replaces whatever the cache had at addr. Dirty
// unprotects are issued by Flush for every dirty chunk, including chunks
// the engine allocated itself and never protected.
type Cache interface {
	Protect(addr, size uint64) ([]byte, error)
	Unprotect(addr uint64, image []byte, dirty bool) error

	// Depend registers child as a flush dependency of parent: the cache
	// must not write parent before child. Undepend removes the edge.
	Depend(parent, child uint64) error
	Undepend(parent, child uint64) error
}

// Allocator hands out file space for header chunks.
type Allocator interface {
	Allocate(size uint64) (uint64, error)
	Free(addr, size uint64) error
}

package ohdr

import "github.com/zeebo/errs"

// Flush dependency bookkeeping. Each chunk acts as a cache client of its
// own: a continuation chunk must reach disk before the chunk holding the
// continuation message that points at it, so the child registers the
// parent chunk's address as a flush parent. Registration and removal are
// idempotent; the cache only ever sees each edge once.

// addFlushDependency records parentAddr as a flush parent of chunk
// chunkno, registering the edge with the cache the first time.
func (h *Header) addFlushDependency(parentAddr uint64, chunkno int) error {
	c := &h.chunks[chunkno]
	for _, p := range c.fdParents {
		if p == parentAddr {
			return nil
		}
	}
	if err := h.cache.Depend(parentAddr, c.addr); err != nil {
		return errs.Wrap(err)
	}
	if c.fdParents == nil {
		// Nearly every chunk has exactly one parent.
		c.fdParents = make([]uint64, 0, 1)
	}
	c.fdParents = append(c.fdParents, parentAddr)
	return nil
}

// removeFlushDependency removes one flush-parent edge. Removing an edge
// that was never registered is a no-op.
func (h *Header) removeFlushDependency(parentAddr uint64, chunkno int) error {
	c := &h.chunks[chunkno]
	for i, p := range c.fdParents {
		if p != parentAddr {
			continue
		}
		if err := h.cache.Undepend(parentAddr, c.addr); err != nil {
			return errs.Wrap(err)
		}
		c.fdParents = append(c.fdParents[:i], c.fdParents[i+1:]...)
		return nil
	}
	return nil
}

// clearFlushDependencies tears down every flush-parent edge of a chunk,
// used when the chunk is deleted.
func (h *Header) clearFlushDependencies(chunkno int) error {
	c := &h.chunks[chunkno]
	for _, p := range c.fdParents {
		if err := h.cache.Undepend(p, c.addr); err != nil {
			return errs.Wrap(err)
		}
	}
	c.fdParents = nil
	return nil
}

// DependOn registers parentAddr as a flush parent of the header itself
// (chunk 0), for callers that need the whole header written before some
// other cache entry. Only meaningful in SWMR write mode.
func (h *Header) DependOn(parentAddr uint64) error {
	if !h.cfg.SWMRWrite {
		return ErrInvalidOp.New("flush dependencies require SWMR write mode")
	}
	return h.addFlushDependency(parentAddr, 0)
}

// UndependFrom removes an edge added with DependOn.
func (h *Header) UndependFrom(parentAddr uint64) error {
	if !h.cfg.SWMRWrite {
		return ErrInvalidOp.New("flush dependencies require SWMR write mode")
	}
	return h.removeFlushDependency(parentAddr, 0)
}

// FlushParents returns the registered flush-parent addresses of a chunk.
func (h *Header) FlushParents(chunkno int) []uint64 {
	return append([]uint64(nil), h.chunks[chunkno].fdParents...)
}

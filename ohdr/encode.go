package ohdr

import (
	"go.uber.org/zap"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

// Flush re-encodes every dirty message into its chunk image, finalizes the
// prefixes and checksums of dirty chunks, and hands them to the cache for
// writeback. Flushing a clean header performs no cache writes, so Flush is
// idempotent.
func (h *Header) Flush() error {
	for i := range h.mesgs {
		if !h.mesgs[i].dirty {
			continue
		}
		if err := h.serializeMesg(i); err != nil {
			return err
		}
		h.mesgs[i].dirty = false
		h.chunks[h.mesgs[i].chunkno].dirty = true
	}
	written := 0
	for i := range h.chunks {
		c := &h.chunks[i]
		if !c.dirty {
			continue
		}
		h.finalizeChunk(i)
		if err := h.cache.Unprotect(c.addr, c.image, true); err != nil {
			return err
		}
		c.dirty = false
		written++
	}
	if written > 0 {
		h.log.Debug("flushed object header",
			zap.Uint64("addr", h.chunks[0].addr),
			zap.Int("chunks", written))
	}
	return nil
}

// serializeMesg writes the header and body of slot idx into its chunk
// image.
func (h *Header) serializeMesg(idx int) error {
	m := &h.mesgs[idx]
	c := &h.chunks[m.chunkno]
	hdrSize := h.msgHdrSize()
	w := binpkg.NewWriter(c.image, h.cfg.binConfig()).At(m.raw - hdrSize)

	if h.version == 1 {
		w.PutUint16(uint16(m.id))
		w.PutUint16(uint16(m.rawSize))
		w.PutUint8(m.flags)
		w.PutZeros(3)
	} else {
		w.PutUint8(uint8(m.id))
		w.PutUint16(uint16(m.rawSize))
		w.PutUint8(m.flags)
		if h.flags&flagAttrOrderTrack != 0 {
			w.PutUint16(m.crtIdx)
		}
	}

	if m.isNull() {
		return w.PutZeros(m.rawSize)
	}
	if m.native == nil {
		// Dirty slots always carry a value; raw-only slots are never
		// marked dirty.
		return ErrInvalidOp.New("dirty message %d has no value to encode", idx)
	}
	body, err := m.class.Encode(m.native, h.format())
	if err != nil {
		return ErrInvalidOp.New("encode %s message: %v", m.class.Name, err)
	}
	if len(body) > m.rawSize {
		return ErrInvalidOp.New("%s message encodes to %d bytes, slot holds %d",
			m.class.Name, len(body), m.rawSize)
	}
	if err := w.PutBytes(body); err != nil {
		return err
	}
	return w.PutZeros(m.rawSize - len(body))
}

// finalizeChunk rewrites the chunk's fixed fields: the prefix of chunk 0,
// the continuation magic, and the version 2 checksum trailer.
func (h *Header) finalizeChunk(chunkno int) {
	c := &h.chunks[chunkno]
	w := binpkg.NewWriter(c.image, h.cfg.binConfig())

	if h.version == 1 {
		if chunkno == 0 {
			w.PutUint8(1)
			w.PutUint8(0)
			w.PutUint16(uint16(len(h.mesgs)))
			w.PutUint32(h.nlink)
			w.PutUint32(uint32(c.size - v1PrefixSize))
			w.PutZeros(v1PrefixSize - 12)
		}
		return
	}

	if chunkno == 0 {
		w.PutBytes(headerMagic)
		w.PutUint8(h.version)
		w.PutUint8(h.flags)
		if h.flags&flagStoreTimes != 0 {
			w.PutUint32(uint32(h.atime.Unix()))
			w.PutUint32(uint32(h.mtime.Unix()))
			w.PutUint32(uint32(h.ctime.Unix()))
			w.PutUint32(uint32(h.btime.Unix()))
		}
		if h.flags&flagStorePhase != 0 {
			w.PutUint16(h.maxCompact)
			w.PutUint16(h.minDense)
		}
		body := c.size - h.prefixSize() - checksumSize
		w.PutUintN(uint64(body), h.chunk0SizeWidth())
	} else {
		w.PutBytes(chunkMagic)
	}
	sum := binpkg.Lookup3(c.image[:c.size-checksumSize])
	h.cfg.ByteOrder.PutUint32(c.image[c.size-checksumSize:], sum)
}

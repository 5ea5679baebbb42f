package ohdr

import (
	"sort"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/robert-malhotra/go-ohdr/message"
)

// bestFitNull returns the index of the smallest null message with at least
// need body bytes, or -1.
func (h *Header) bestFitNull(need int) int {
	best := -1
	for i := range h.mesgs {
		m := &h.mesgs[i]
		if !m.isNull() || m.rawSize < need {
			continue
		}
		if best < 0 || m.rawSize < h.mesgs[best].rawSize {
			best = i
		}
	}
	return best
}

// carveNull shapes the null slot at idx to exactly need body bytes. A
// remainder large enough for another message header becomes a new trailing
// null slot; a smaller remainder stays on the slot as padding.
func (h *Header) carveNull(idx, need int) {
	hdrSize := h.msgHdrSize()
	m := &h.mesgs[idx]
	if leftover := m.rawSize - need; leftover >= hdrSize {
		h.mesgs = append(h.mesgs, mesg{
			id:      message.TypeNIL,
			class:   message.Lookup(message.TypeNIL),
			chunkno: m.chunkno,
			raw:     m.raw + need + hdrSize,
			rawSize: leftover - hdrSize,
			dirty:   true,
		})
		m = &h.mesgs[idx] // append may move the backing array
		m.rawSize = need
	}
	m.dirty = true
	h.chunks[m.chunkno].dirty = true
}

// allocate finds space for a message body of need bytes (already aligned)
// and returns the index of a null-shaped slot spanning it. Existing null
// messages are reused best-fit first; otherwise a new continuation chunk is
// allocated. Nothing is mutated until file space is secured.
func (h *Header) allocate(need int) (int, error) {
	if idx := h.bestFitNull(need); idx >= 0 {
		h.carveNull(idx, need)
		return idx, nil
	}
	return h.allocNewChunk(need)
}

// allocNewChunk allocates a continuation chunk sized for a message body of
// need bytes and returns the slot spanning that body. The continuation
// message pointing at the new chunk is homed in an existing chunk: in a
// null message when one is large enough, otherwise in the space vacated by
// relocating a movable message into the new chunk.
func (h *Header) allocNewChunk(need int) (int, error) {
	hdrSize := h.msgHdrSize()
	contRaw := h.alignRaw(message.ContinuationRawSize(h.format()))

	contHome := h.bestFitNull(contRaw)
	moveIdx := -1
	if contHome < 0 {
		for i := range h.mesgs {
			m := &h.mesgs[i]
			if m.isNull() || m.locked || m.id == message.TypeContinuation {
				continue
			}
			if m.rawSize < contRaw {
				continue
			}
			if moveIdx < 0 || m.rawSize < h.mesgs[moveIdx].rawSize {
				moveIdx = i
			}
		}
		if moveIdx < 0 {
			return -1, ErrOutOfSpace.New("no message can make room for a continuation message")
		}
	}

	body := hdrSize + need
	if moveIdx >= 0 {
		body += hdrSize + h.mesgs[moveIdx].rawSize
	}
	target := body
	if target < minChunkData {
		target = minChunkData
	}
	target = h.alignRaw(target)
	pad := target - body
	if pad > 0 && pad < hdrSize {
		// Too small for a trailing null; the new message absorbs it.
		need += pad
		pad = 0
	}
	body = hdrSize + need
	if moveIdx >= 0 {
		body += hdrSize + h.mesgs[moveIdx].rawSize
	}
	total := body + pad + h.chunkOverhead()

	addr, err := h.alloc.Allocate(uint64(total))
	if err != nil {
		return -1, ErrOutOfSpace.Wrap(err)
	}

	// File space secured; commit the in-memory changes.
	chunkno := len(h.chunks)
	var contChunk int
	if contHome >= 0 {
		contChunk = h.mesgs[contHome].chunkno
	} else {
		contChunk = h.mesgs[moveIdx].chunkno
	}
	nc := chunk{
		addr:        addr,
		size:        total,
		image:       make([]byte, total),
		dirty:       true,
		contChunkno: contChunk,
	}
	cursor := 0
	if h.version > 1 {
		cursor = len(chunkMagic)
	}

	cont := &message.Continuation{Addr: addr, Length: uint64(total), Chunk: chunkno}
	contCls := message.Lookup(message.TypeContinuation)
	if contHome >= 0 {
		h.carveNull(contHome, contRaw)
		m := &h.mesgs[contHome]
		m.id = message.TypeContinuation
		m.class = contCls
		m.native = cont
		m.dirty = true
	} else {
		old := h.mesgs[moveIdx]
		src := h.chunks[old.chunkno].image[old.raw-hdrSize : old.raw+old.rawSize]
		copy(nc.image[cursor:], src)
		h.mesgs[moveIdx].chunkno = chunkno
		h.mesgs[moveIdx].raw = cursor + hdrSize
		cursor += hdrSize + old.rawSize

		// The vacated span becomes the continuation message.
		contRawHere := old.rawSize
		if split := old.rawSize - contRaw; split >= hdrSize {
			contRawHere = contRaw
			h.mesgs = append(h.mesgs, mesg{
				id:      message.TypeNIL,
				class:   message.Lookup(message.TypeNIL),
				chunkno: old.chunkno,
				raw:     old.raw + contRaw + hdrSize,
				rawSize: split - hdrSize,
				dirty:   true,
			})
		}
		h.mesgs = append(h.mesgs, mesg{
			id:      message.TypeContinuation,
			class:   contCls,
			chunkno: old.chunkno,
			raw:     old.raw,
			rawSize: contRawHere,
			native:  cont,
			dirty:   true,
		})
		h.chunks[old.chunkno].dirty = true
	}

	h.chunks = append(h.chunks, nc)

	newIdx := len(h.mesgs)
	h.mesgs = append(h.mesgs, mesg{
		id:      message.TypeNIL,
		class:   message.Lookup(message.TypeNIL),
		chunkno: chunkno,
		raw:     cursor + hdrSize,
		rawSize: need,
		dirty:   true,
	})
	cursor += hdrSize + need
	if pad > 0 {
		h.mesgs = append(h.mesgs, mesg{
			id:      message.TypeNIL,
			class:   message.Lookup(message.TypeNIL),
			chunkno: chunkno,
			raw:     cursor + hdrSize,
			rawSize: pad - hdrSize,
			dirty:   true,
		})
	}

	if h.cfg.SWMRWrite {
		if err := h.addFlushDependency(h.chunks[contChunk].addr, chunkno); err != nil {
			return -1, err
		}
	}
	return newIdx, nil
}

// release turns the message at idx into a null message, merges it with its
// null neighbors, and removes any chunk left without live messages. With
// adjLink set, file space referenced by the message value is released
// through its codec first.
func (h *Header) release(idx int, adjLink bool) error {
	if idx < 0 || idx >= len(h.mesgs) {
		return ErrInvalidOp.New("message index %d out of range", idx)
	}
	m := &h.mesgs[idx]
	if m.isNull() {
		return ErrInvalidOp.New("message %d is already a null message", idx)
	}
	if m.locked {
		return ErrInvalidOp.New("message %d is locked", idx)
	}
	if adjLink && m.class.Delete != nil {
		if _, err := h.loadNative(idx); err != nil {
			return err
		}
		if err := m.class.Delete(m.native); err != nil {
			return errs.Wrap(err)
		}
	}
	if m.native != nil && m.class.Reset != nil {
		m.class.Reset(m.native)
	}
	h.bumpSeen(m.id, -1)
	chunkno := m.chunkno
	m.id = message.TypeNIL
	m.class = message.Lookup(message.TypeNIL)
	m.native = nil
	m.flags = 0
	m.dirty = true
	h.chunks[chunkno].dirty = true
	h.mergeNulls(chunkno)
	h.touchModTime()
	return h.sweepEmptyChunks()
}

func (h *Header) bumpSeen(id message.Type, by int) {
	switch id {
	case message.TypeLink:
		h.linkMsgsSeen += by
	case message.TypeAttribute:
		h.attrMsgsSeen += by
	}
}

func (h *Header) removeSlot(j int) {
	h.mesgs[j] = h.mesgs[len(h.mesgs)-1]
	h.mesgs = h.mesgs[:len(h.mesgs)-1]
}

// mergeNulls repeatedly merges physically adjacent null messages in one
// chunk and lets a null reaching the end of the body absorb the trailing
// gap.
func (h *Header) mergeNulls(chunkno int) {
	hdrSize := h.msgHdrSize()
	for merged := true; merged; {
		merged = false
	scan:
		for i := range h.mesgs {
			a := &h.mesgs[i]
			if !a.isNull() || a.chunkno != chunkno {
				continue
			}
			for j := range h.mesgs {
				b := &h.mesgs[j]
				if i == j || !b.isNull() || b.chunkno != chunkno {
					continue
				}
				if a.raw+a.rawSize+hdrSize == b.raw {
					a.rawSize += hdrSize + b.rawSize
					a.dirty = true
					h.removeSlot(j)
					merged = true
					break scan
				}
			}
		}
	}
	c := &h.chunks[chunkno]
	if c.gap > 0 {
		_, end := h.chunkBodyBounds(chunkno)
		for i := range h.mesgs {
			m := &h.mesgs[i]
			if m.isNull() && m.chunkno == chunkno && m.raw+m.rawSize == end-c.gap {
				m.rawSize += c.gap
				m.dirty = true
				c.gap = 0
				c.dirty = true
				break
			}
		}
	}
}

// chunkEmpty reports whether a chunk holds no live messages.
func (h *Header) chunkEmpty(chunkno int) bool {
	for i := range h.mesgs {
		if h.mesgs[i].chunkno == chunkno && !h.mesgs[i].isNull() {
			return false
		}
	}
	return true
}

// sweepEmptyChunks removes chunks without live messages until none remain.
// Removing a chunk nulls its continuation message in the parent chunk,
// which can empty the parent in turn.
func (h *Header) sweepEmptyChunks() error {
	for {
		removed := false
		for chunkno := 1; chunkno < len(h.chunks); chunkno++ {
			if !h.chunkEmpty(chunkno) {
				continue
			}
			if err := h.removeChunk(chunkno); err != nil {
				return err
			}
			removed = true
			break // chunk indices shifted; rescan
		}
		if !removed {
			return nil
		}
	}
}

// removeChunk drops chunk chunkno from the header: its flush dependencies
// are torn down, its continuation message becomes a null message, its file
// space is freed, and all chunk numbering is compacted.
func (h *Header) removeChunk(chunkno int) error {
	contIdx := -1
	for i := range h.mesgs {
		m := &h.mesgs[i]
		if m.id != message.TypeContinuation {
			continue
		}
		if n, ok := m.native.(*message.Continuation); ok && n.Chunk == chunkno {
			contIdx = i
			break
		}
	}
	if contIdx < 0 {
		return ErrInvalidOp.New("chunk %d has no continuation message", chunkno)
	}
	if err := h.clearFlushDependencies(chunkno); err != nil {
		return err
	}

	freedAddr := h.chunks[chunkno].addr
	freedSize := h.chunks[chunkno].size

	contSlot := &h.mesgs[contIdx]
	parentChunk := contSlot.chunkno
	contSlot.id = message.TypeNIL
	contSlot.class = message.Lookup(message.TypeNIL)
	contSlot.native = nil
	contSlot.flags = 0
	contSlot.dirty = true
	h.chunks[parentChunk].dirty = true

	out := h.mesgs[:0]
	for i := range h.mesgs {
		if h.mesgs[i].chunkno != chunkno {
			out = append(out, h.mesgs[i])
		}
	}
	h.mesgs = out
	h.chunks = append(h.chunks[:chunkno], h.chunks[chunkno+1:]...)
	for i := range h.mesgs {
		if h.mesgs[i].chunkno > chunkno {
			h.mesgs[i].chunkno--
		}
		if n, ok := h.mesgs[i].native.(*message.Continuation); ok && n.Chunk > chunkno {
			n.Chunk--
		}
	}
	for i := range h.chunks {
		if h.chunks[i].contChunkno > chunkno {
			h.chunks[i].contChunkno--
		}
	}
	if parentChunk > chunkno {
		parentChunk--
	}
	h.mergeNulls(parentChunk)

	if err := h.alloc.Free(freedAddr, uint64(freedSize)); err != nil {
		return errs.Wrap(err)
	}
	h.log.Info("removed header chunk",
		zap.Uint64("addr", freedAddr),
		zap.Int("size", freedSize),
		zap.Int("chunks", len(h.chunks)))
	return nil
}

// Condense compacts every chunk and removes emptied chunks, repeating
// until a pass makes no further progress: null messages are squeezed out
// by sliding later messages down, chunk tails are freed back to the file,
// and chunks left without live messages are dropped. Locked messages pin
// everything up to and including themselves.
func (h *Header) Condense() error {
	beforeChunks, beforeSize := len(h.chunks), h.totalSize()
	defer func() {
		if size := h.totalSize(); size != beforeSize || len(h.chunks) != beforeChunks {
			h.log.Info("condensed object header",
				zap.Int("chunks", len(h.chunks)),
				zap.Int("size", size),
				zap.Int("reclaimed", beforeSize-size))
		}
	}()
	for {
		progress := false
		for chunkno := 0; chunkno < len(h.chunks); chunkno++ {
			changed, err := h.compactChunk(chunkno)
			if err != nil {
				return err
			}
			if changed {
				progress = true
			}
		}
		before := len(h.chunks)
		if err := h.sweepEmptyChunks(); err != nil {
			return err
		}
		if len(h.chunks) != before {
			progress = true
		}
		if !progress {
			return nil
		}
	}
}

// compactChunk slides the movable messages of one chunk toward its start,
// dropping null messages, and frees the reclaimed tail.
func (h *Header) compactChunk(chunkno int) (bool, error) {
	hdrSize := h.msgHdrSize()
	c := &h.chunks[chunkno]
	begin, _ := h.chunkBodyBounds(chunkno)

	var idxs []int
	for i := range h.mesgs {
		if h.mesgs[i].chunkno == chunkno {
			idxs = append(idxs, i)
		}
	}
	sort.Slice(idxs, func(a, b int) bool {
		return h.mesgs[idxs[a]].raw < h.mesgs[idxs[b]].raw
	})

	cursor := begin
	first := 0
	for k, i := range idxs {
		if h.mesgs[i].locked {
			cursor = h.mesgs[i].raw + h.mesgs[i].rawSize
			first = k + 1
		}
	}

	changed := false
	var drop []int
	for _, i := range idxs[first:] {
		m := &h.mesgs[i]
		if m.isNull() {
			drop = append(drop, i)
			changed = true
			continue
		}
		if m.raw-hdrSize != cursor {
			copy(c.image[cursor:cursor+hdrSize+m.rawSize], c.image[m.raw-hdrSize:m.raw+m.rawSize])
			m.raw = cursor + hdrSize
			c.dirty = true
			changed = true
		}
		cursor += hdrSize + m.rawSize
	}
	sort.Sort(sort.Reverse(sort.IntSlice(drop)))
	for _, i := range drop {
		h.removeSlot(i)
	}

	trailer := 0
	if h.version > 1 {
		trailer = checksumSize
	}
	newSize := cursor + trailer
	if newSize < c.size {
		freed := c.size - newSize
		c.size = newSize
		c.image = c.image[:newSize]
		c.gap = 0
		c.dirty = true
		changed = true
		if chunkno > 0 {
			for i := range h.mesgs {
				if n, ok := h.mesgs[i].native.(*message.Continuation); ok && n.Chunk == chunkno {
					n.Length = uint64(newSize)
					h.mesgs[i].dirty = true
					break
				}
			}
		}
		if err := h.alloc.Free(c.addr+uint64(newSize), uint64(freed)); err != nil {
			return changed, errs.Wrap(err)
		}
	}
	return changed, nil
}

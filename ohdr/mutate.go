package ohdr

import (
	"sort"

	"github.com/robert-malhotra/go-ohdr/message"
)

// Append adds a new message to the header and returns its slot index. The
// value is owned by the header from here on. Space comes from an existing
// null message when one fits, otherwise a new continuation chunk is
// allocated; on ErrOutOfSpace the header is left unchanged.
func (h *Header) Append(id message.Type, flags uint8, native message.Native) (int, error) {
	cls := message.Lookup(id)
	if cls == nil {
		return -1, ErrInvalidOp.New("no codec registered for message type 0x%04X", uint16(id))
	}
	if id == message.TypeNIL || id == message.TypeContinuation {
		return -1, ErrInvalidOp.New("message type 0x%04X is managed internally", uint16(id))
	}
	if native == nil || native.Type() != id {
		return -1, ErrInvalidOp.New("value does not match message type 0x%04X", uint16(id))
	}
	if flags&message.FlagShareable != 0 {
		if cls.ShareFlags&message.ShareIsShared == 0 {
			return -1, ErrInvalidOp.New("%s messages cannot be shared", cls.Name)
		}
		if cls.CanShare != nil && !cls.CanShare(native) {
			return -1, ErrInvalidOp.New("%s value is not shareable", cls.Name)
		}
	}
	if h.nextCrtIdx > maxCreationIndex {
		return -1, ErrInvalidOp.New("creation index space exhausted")
	}
	need := h.alignRaw(cls.RawSize(native, h.format()))
	if need > maxRawSize {
		return -1, ErrInvalidOp.New("%s message body of %d bytes exceeds the format limit", cls.Name, need)
	}

	idx, err := h.allocate(need)
	if err != nil {
		return -1, err
	}
	m := &h.mesgs[idx]
	m.id = id
	m.class = cls
	m.native = native
	m.flags = flags
	m.crtIdx = uint16(h.nextCrtIdx)
	h.nextCrtIdx++
	if cls.SetCreationIndex != nil {
		cls.SetCreationIndex(native, m.crtIdx)
	}
	m.dirty = true
	h.chunks[m.chunkno].dirty = true
	h.bumpSeen(id, 1)
	h.touchModTime()
	return idx, nil
}

// WriteMessage replaces the value of the message at idx. When the new
// encoding fits the existing slot it is rewritten in place; otherwise the
// slot is released and the message reallocated, keeping its creation
// index. A value written over a shared message makes the message private
// again.
func (h *Header) WriteMessage(idx int, native message.Native) error {
	if idx < 0 || idx >= len(h.mesgs) || h.mesgs[idx].isNull() {
		return ErrInvalidOp.New("no message at index %d", idx)
	}
	m := &h.mesgs[idx]
	if native == nil || native.Type() != m.id {
		return ErrInvalidOp.New("value does not match message type 0x%04X", uint16(m.id))
	}
	if m.flags&message.FlagConstant != 0 {
		return ErrInvalidOp.New("message %d is marked constant", idx)
	}
	need := h.alignRaw(m.class.RawSize(native, h.format()))
	if need > maxRawSize {
		return ErrInvalidOp.New("%s message body of %d bytes exceeds the format limit", m.class.Name, need)
	}

	if need <= m.rawSize && m.rawSize-need < h.msgHdrSize() {
		// Fits the existing slot; slack becomes zero padding.
		if m.flags&message.FlagShared != 0 && m.class.SetShare != nil {
			if err := m.class.SetShare(native, message.Shared{}); err != nil {
				return err
			}
		}
		if m.native != nil && m.native != native && m.class.Reset != nil {
			m.class.Reset(m.native)
		}
		m.native = native
		m.flags &^= message.FlagShared
		if m.class.SetCreationIndex != nil {
			m.class.SetCreationIndex(native, m.crtIdx)
		}
		m.dirty = true
		h.chunks[m.chunkno].dirty = true
		h.touchModTime()
		return nil
	}

	if m.locked {
		return ErrInvalidOp.New("cannot resize locked message %d", idx)
	}
	id, cls, flags, crt := m.id, m.class, m.flags, m.crtIdx
	// Allocate first so failure leaves the header unchanged. The slice may
	// grow here; m is dead past this point.
	nidx, err := h.allocate(need)
	if err != nil {
		return err
	}
	if flags&message.FlagShared != 0 && cls.SetShare != nil {
		if err := cls.SetShare(native, message.Shared{}); err != nil {
			return err
		}
	}
	nm := &h.mesgs[nidx]
	nm.id = id
	nm.class = cls
	nm.native = native
	nm.flags = flags &^ message.FlagShared
	nm.crtIdx = crt
	if cls.SetCreationIndex != nil {
		cls.SetCreationIndex(native, crt)
	}
	nm.dirty = true
	h.chunks[nm.chunkno].dirty = true
	h.bumpSeen(id, 1)
	if err := h.release(idx, false); err != nil {
		return err
	}
	h.touchModTime()
	return nil
}

// Release deletes the message at idx, turning its span into null space.
// With adjLink set, file space referenced by the value is released through
// its codec. Null and continuation slots are managed internally and cannot
// be released directly.
func (h *Header) Release(idx int, adjLink bool) error {
	if idx < 0 || idx >= len(h.mesgs) {
		return ErrInvalidOp.New("message index %d out of range", idx)
	}
	if h.mesgs[idx].id == message.TypeContinuation {
		return ErrInvalidOp.New("continuation messages are managed internally")
	}
	return h.release(idx, adjLink)
}

// Remove releases messages of the given type. sequence selects the n'th
// live message of that type in table order, or AllSequences for every one.
// A non-nil op further filters: it receives the decoded value and its
// sequence number and returns whether the message should go. With adjLink
// set, file space referenced by removed values is released through their
// codecs. Removing no messages is not an error.
func (h *Header) Remove(id message.Type, sequence int, op func(n message.Native, sequence int) bool, adjLink bool) error {
	if id == message.TypeNIL || id == message.TypeContinuation {
		return ErrInvalidOp.New("message type 0x%04X is managed internally", uint16(id))
	}

	// Select by stable identity first: releasing a message merges and
	// renumbers slots.
	var targets []uint16
	seq := -1
	for i := range h.mesgs {
		m := &h.mesgs[i]
		if m.id != id || m.isNull() {
			continue
		}
		seq++
		if sequence != AllSequences && seq != sequence {
			continue
		}
		if op != nil {
			n, err := h.loadNative(i)
			if err != nil {
				return err
			}
			if !op(n, seq) {
				if sequence != AllSequences {
					break
				}
				continue
			}
		}
		if m.locked {
			return ErrInvalidOp.New("message %d is locked", i)
		}
		targets = append(targets, m.crtIdx)
		if sequence != AllSequences {
			break
		}
	}

	for _, crt := range targets {
		idx := -1
		for i := range h.mesgs {
			m := &h.mesgs[i]
			if m.id == id && !m.isNull() && m.crtIdx == crt {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		if err := h.release(idx, adjLink); err != nil {
			return err
		}
	}
	return nil
}

// Iterate calls fn for each live message of the given type in table order
// with its slot index and decoded value. Returning done stops the
// iteration. fn may modify the value through WriteMessage but must not add
// or remove messages.
func (h *Header) Iterate(id message.Type, fn func(idx int, n message.Native) (done bool, err error)) error {
	for i := 0; i < len(h.mesgs); i++ {
		m := &h.mesgs[i]
		if m.id != id || m.isNull() {
			continue
		}
		n, err := h.loadNative(i)
		if err != nil {
			return err
		}
		done, err := fn(i, n)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// IterateCreationOrder is Iterate in ascending creation-index order.
func (h *Header) IterateCreationOrder(id message.Type, fn func(idx int, n message.Native) (done bool, err error)) error {
	var idxs []int
	for i := range h.mesgs {
		if h.mesgs[i].id == id && !h.mesgs[i].isNull() {
			idxs = append(idxs, i)
		}
	}
	sort.Slice(idxs, func(a, b int) bool {
		return h.mesgs[idxs[a]].crtIdx < h.mesgs[idxs[b]].crtIdx
	})
	for _, i := range idxs {
		n, err := h.loadNative(i)
		if err != nil {
			return err
		}
		done, err := fn(i, n)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// First returns the decoded value of the first live message of the given
// type, reporting whether one exists.
func (h *Header) First(id message.Type) (message.Native, bool, error) {
	idx := h.findType(id, 0)
	if idx < 0 {
		return nil, false, nil
	}
	n, err := h.loadNative(idx)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

// Count returns the number of live messages of the given type.
func (h *Header) Count(id message.Type) int {
	n := 0
	for i := range h.mesgs {
		if h.mesgs[i].id == id && !h.mesgs[i].isNull() {
			n++
		}
	}
	return n
}

// NullCount returns the number of null messages in the table. Count
// skips nulls, so free-space checks go through here.
func (h *Header) NullCount() int {
	n := 0
	for i := range h.mesgs {
		if h.mesgs[i].isNull() {
			n++
		}
	}
	return n
}

// Stats reports table-level counters, mostly for diagnostics.
type Stats struct {
	// LinkMessages and AttrMessages count live link and attribute
	// messages.
	LinkMessages int
	AttrMessages int

	// MergedNulls counts adjacent null messages folded together at
	// decode time.
	MergedNulls int

	// DecodeDirtied counts messages whose decode normalized an older
	// encoding and so must be rewritten.
	DecodeDirtied int
}

// Stats returns the header's table-level counters.
func (h *Header) Stats() Stats {
	return Stats{
		LinkMessages:  h.linkMsgsSeen,
		AttrMessages:  h.attrMsgsSeen,
		MergedNulls:   h.mergedNulls,
		DecodeDirtied: h.decodeDirtied,
	}
}

package ohdr

import (
	"time"

	"go.uber.org/zap"

	"github.com/robert-malhotra/go-ohdr/message"
)

// Object header signatures.
var (
	headerMagic = []byte("OHDR")
	chunkMagic  = []byte("OCHK")
)

// Version 2 header status flags (the flags byte in the prefix).
const (
	flagChunk0SizeMask  uint8 = 0x03 // width of the chunk 0 size field: 1 << value
	flagAttrOrderTrack  uint8 = 0x04 // attribute creation order tracked
	flagAttrOrderIndex  uint8 = 0x08 // attribute creation order indexed
	flagStorePhase      uint8 = 0x10 // non-default phase-change values stored
	flagStoreTimes      uint8 = 0x20 // timestamps stored
	flagsKnownMask      uint8 = 0x3F
	flagsDefinedVersion       = 2
)

const (
	// v1PrefixSize is the fixed prefix of a version 1 header, padded to
	// the 8-byte message alignment.
	v1PrefixSize = 16

	// checksumSize is the width of the lookup3 trailer on version 2
	// chunks.
	checksumSize = 4

	// minChunkData is the smallest message-body region a chunk is
	// created with.
	minChunkData = 22

	// initialSlots and initialChunks size the backing arrays of a fresh
	// header; both grow geometrically from there.
	initialSlots  = 8
	initialChunks = 2

	// maxCreationIndex is the largest value the 16-bit creation index
	// can hold; appending past it fails.
	maxCreationIndex = 0xFFFF

	// maxRawSize bounds a message body: the size field is 16 bits wide.
	maxRawSize = 0xFFFF

	// Default attribute storage phase-change thresholds.
	defaultMaxCompact = 8
	defaultMinDense   = 6
)

// AllSequences selects every matching message in Remove.
const AllSequences = -1

// timeNow is replaced in tests.
var timeNow = time.Now

// mesg is one slot in the message table. raw is the offset of the message
// body inside its chunk image; the message header sits immediately before
// it. rawSize includes any absorbed alignment padding.
type mesg struct {
	id      message.Type
	class   *message.Class
	flags   uint8
	crtIdx  uint16
	chunkno int
	raw     int
	rawSize int
	native  message.Native
	dirty   bool
	locked  bool
}

func (m *mesg) isNull() bool { return m.id == message.TypeNIL }

// chunk is one contiguous header block. contChunkno is the index of the
// chunk holding the continuation message that points here, -1 for chunk 0.
// gap is trailing space too small to hold a message header; it carries no
// message and is preserved across flushes.
type chunk struct {
	addr        uint64
	size        int
	gap         int
	image       []byte
	dirty       bool
	contChunkno int
	fdParents   []uint64
}

// Header is the decoded, mutable in-memory form of one object header. It is
// not safe for concurrent use; callers serialize access externally.
type Header struct {
	cfg   Config
	cache Cache
	alloc Allocator
	log   *zap.Logger

	version uint8
	flags   uint8
	nlink   uint32

	atime, mtime, ctime, btime time.Time

	maxCompact uint16
	minDense   uint16

	mesgs  []mesg
	chunks []chunk

	nextCrtIdx uint32

	linkMsgsSeen  int
	attrMsgsSeen  int
	mergedNulls   int
	decodeDirtied int

	rc int
}

// Version returns the on-disk header version, 1 or 2.
func (h *Header) Version() uint8 { return h.version }

// Flags returns the version 2 status flags byte. Version 1 headers report
// zero.
func (h *Header) Flags() uint8 { return h.flags }

// RefCount returns the object's hard link count.
func (h *Header) RefCount() uint32 { return h.nlink }

// NumMessages returns the number of live (non-null) messages.
func (h *Header) NumMessages() int {
	n := 0
	for i := range h.mesgs {
		if !h.mesgs[i].isNull() {
			n++
		}
	}
	return n
}

// NumChunks returns the number of chunks backing the header.
func (h *Header) NumChunks() int { return len(h.chunks) }

// totalSize is the file space spanned by all chunks.
func (h *Header) totalSize() int {
	n := 0
	for i := range h.chunks {
		n += h.chunks[i].size
	}
	return n
}

// ChunkAddr returns the file address of a chunk.
func (h *Header) ChunkAddr(chunkno int) uint64 { return h.chunks[chunkno].addr }

// ChunkSize returns the total on-disk size of a chunk.
func (h *Header) ChunkSize(chunkno int) int { return h.chunks[chunkno].size }

// Times returns the stored access, modification, change, and birth times.
// All four are zero when the header does not track times.
func (h *Header) Times() (atime, mtime, ctime, btime time.Time) {
	return h.atime, h.mtime, h.ctime, h.btime
}

// PhaseChange returns the attribute storage phase-change thresholds.
func (h *Header) PhaseChange() (maxCompact, minDense uint16) {
	return h.maxCompact, h.minDense
}

// MessageInfo is the table-level view of one message slot, for diagnostics
// and iteration.
type MessageInfo struct {
	Type          message.Type
	Flags         uint8
	CreationIndex uint16
	Chunk         int
	RawSize       int
	Dirty         bool
	Locked        bool
}

// Info returns the table-level view of slot idx.
func (h *Header) Info(idx int) (MessageInfo, error) {
	if idx < 0 || idx >= len(h.mesgs) {
		return MessageInfo{}, ErrInvalidOp.New("message index %d out of range", idx)
	}
	m := &h.mesgs[idx]
	return MessageInfo{
		Type:          m.id,
		Flags:         m.flags,
		CreationIndex: m.crtIdx,
		Chunk:         m.chunkno,
		RawSize:       m.rawSize,
		Dirty:         m.dirty,
		Locked:        m.locked,
	}, nil
}

// Lock pins the message at idx to its current position: it will not be
// moved, compacted over, or released until Unlock.
func (h *Header) Lock(idx int) error {
	if idx < 0 || idx >= len(h.mesgs) || h.mesgs[idx].isNull() {
		return ErrInvalidOp.New("cannot lock message %d", idx)
	}
	h.mesgs[idx].locked = true
	return nil
}

// Unlock releases a Lock.
func (h *Header) Unlock(idx int) error {
	if idx < 0 || idx >= len(h.mesgs) {
		return ErrInvalidOp.New("cannot unlock message %d", idx)
	}
	h.mesgs[idx].locked = false
	return nil
}

// Ref takes an additional in-memory reference on the header. Every Ref and
// the initial Decode/New are balanced by one Close.
func (h *Header) Ref() { h.rc++ }

// Close drops one reference. When the last reference is dropped the decoded
// natives and chunk images are released. Dirty state must be flushed first;
// closing a dirty header is an error.
func (h *Header) Close() error {
	h.rc--
	if h.rc > 0 {
		return nil
	}
	for i := range h.mesgs {
		m := &h.mesgs[i]
		if m.dirty {
			return ErrInvalidOp.New("closing header with unflushed messages")
		}
		if m.native != nil && m.class.Reset != nil {
			m.class.Reset(m.native)
		}
		m.native = nil
	}
	for i := range h.chunks {
		if h.chunks[i].dirty {
			return ErrInvalidOp.New("closing header with unflushed chunks")
		}
		h.chunks[i].image = nil
	}
	h.mesgs = nil
	h.chunks = nil
	return nil
}

// Link adjusts the hard link count by adj and keeps the stored reference
// count in sync: version 1 headers carry it in the prefix, version 2
// headers in a reference count message that exists only while the count
// exceeds one.
func (h *Header) Link(adj int) (uint32, error) {
	if adj < 0 && uint32(-adj) > h.nlink {
		return h.nlink, ErrInvalidOp.New("link count underflow")
	}
	h.nlink += uint32(adj)
	if h.version == 1 {
		h.chunks[0].dirty = true
		return h.nlink, nil
	}
	idx := h.findType(message.TypeObjectRefCount, 0)
	switch {
	case h.nlink > 1 && idx < 0:
		_, err := h.Append(message.TypeObjectRefCount, 0, &message.RefCount{Count: h.nlink})
		if err != nil {
			return h.nlink, err
		}
	case h.nlink > 1:
		if err := h.WriteMessage(idx, &message.RefCount{Count: h.nlink}); err != nil {
			return h.nlink, err
		}
	case idx >= 0:
		if err := h.release(idx, false); err != nil {
			return h.nlink, err
		}
	}
	return h.nlink, nil
}

// findType returns the slot index of the sequence'th live message of the
// given type, or -1.
func (h *Header) findType(id message.Type, sequence int) int {
	seq := 0
	for i := range h.mesgs {
		if h.mesgs[i].id != id || h.mesgs[i].isNull() {
			continue
		}
		if seq == sequence {
			return i
		}
		seq++
	}
	return -1
}

// touchModTime refreshes the modification and change times on mutation.
func (h *Header) touchModTime() {
	if h.flags&flagStoreTimes == 0 {
		return
	}
	now := timeNow()
	h.mtime = now
	h.ctime = now
	h.chunks[0].dirty = true
}

// format helpers

func (h *Header) format() message.Format { return h.cfg.format() }

// msgHdrSize returns the per-message header overhead for this header.
func (h *Header) msgHdrSize() int {
	if h.version == 1 {
		return 8
	}
	if h.flags&flagAttrOrderTrack != 0 {
		return 6
	}
	return 4
}

// alignRaw rounds a message body size up to the format's alignment.
// Version 1 aligns bodies to 8 bytes; version 2 packs them.
func (h *Header) alignRaw(n int) int {
	if h.version == 1 {
		return (n + 7) &^ 7
	}
	return n
}

// chunk0SizeWidth returns the byte width of the version 2 chunk 0 size
// field, selected by the low two flag bits.
func (h *Header) chunk0SizeWidth() int {
	return 1 << (h.flags & flagChunk0SizeMask)
}

// prefixSize returns the byte offset of the first message header in
// chunk 0.
func (h *Header) prefixSize() int {
	if h.version == 1 {
		return v1PrefixSize
	}
	n := 4 + 1 + 1 // magic, version, flags
	if h.flags&flagStoreTimes != 0 {
		n += 16
	}
	if h.flags&flagStorePhase != 0 {
		n += 4
	}
	n += h.chunk0SizeWidth()
	return n
}

// chunkBodyBounds returns the half-open range of chunk image bytes that
// hold message headers and bodies.
func (h *Header) chunkBodyBounds(chunkno int) (begin, end int) {
	c := &h.chunks[chunkno]
	if h.version == 1 {
		if chunkno == 0 {
			return v1PrefixSize, c.size
		}
		return 0, c.size
	}
	if chunkno == 0 {
		return h.prefixSize(), c.size - checksumSize
	}
	return len(chunkMagic), c.size - checksumSize
}

// chunkOverhead returns the non-body bytes of a continuation chunk.
func (h *Header) chunkOverhead() int {
	if h.version == 1 {
		return 0
	}
	return len(chunkMagic) + checksumSize
}

// Validate checks the structural invariants of the in-memory header:
// message spans tile their chunks exactly (plus the recorded gap), no two
// null messages are adjacent, and every continuation target exists. It is
// meant for tests and diagnostic tools.
func (h *Header) Validate() error {
	if len(h.chunks) == 0 {
		return ErrInvalidOp.New("header has no chunks")
	}
	hdr := h.msgHdrSize()
	for chunkno := range h.chunks {
		begin, end := h.chunkBodyBounds(chunkno)
		span := 0
		for i := range h.mesgs {
			m := &h.mesgs[i]
			if m.chunkno != chunkno {
				continue
			}
			if m.raw-hdr < begin || m.raw+m.rawSize > end {
				return ErrInvalidOp.New("message %d escapes chunk %d body", i, chunkno)
			}
			span += hdr + m.rawSize
		}
		c := &h.chunks[chunkno]
		if span+c.gap != end-begin {
			return ErrInvalidOp.New("chunk %d: messages cover %d+%d gap of %d body bytes",
				chunkno, span, c.gap, end-begin)
		}
		if c.gap >= hdr {
			return ErrInvalidOp.New("chunk %d gap %d can hold a message header", chunkno, c.gap)
		}
		if len(c.image) != c.size {
			return ErrInvalidOp.New("chunk %d image length %d != size %d", chunkno, len(c.image), c.size)
		}
	}
	for i := range h.mesgs {
		a := &h.mesgs[i]
		if !a.isNull() {
			continue
		}
		for j := range h.mesgs {
			b := &h.mesgs[j]
			if i == j || !b.isNull() || a.chunkno != b.chunkno {
				continue
			}
			if a.raw+a.rawSize+hdr == b.raw {
				return ErrInvalidOp.New("adjacent null messages %d and %d in chunk %d", i, j, a.chunkno)
			}
		}
	}
	seen := make(map[int]bool, len(h.chunks))
	for i := range h.mesgs {
		m := &h.mesgs[i]
		if m.id != message.TypeContinuation || m.isNull() {
			continue
		}
		cont, ok := m.native.(*message.Continuation)
		if !ok {
			return ErrInvalidOp.New("continuation message %d has no decoded value", i)
		}
		if cont.Chunk <= 0 || cont.Chunk >= len(h.chunks) {
			return ErrInvalidOp.New("continuation message %d targets chunk %d", i, cont.Chunk)
		}
		if seen[cont.Chunk] {
			return ErrInvalidOp.New("chunk %d has two continuation messages", cont.Chunk)
		}
		seen[cont.Chunk] = true
		if h.chunks[cont.Chunk].addr != cont.Addr {
			return ErrInvalidOp.New("continuation message %d addr mismatch", i)
		}
	}
	for chunkno := 1; chunkno < len(h.chunks); chunkno++ {
		if !seen[chunkno] {
			return ErrInvalidOp.New("chunk %d has no continuation message", chunkno)
		}
	}
	return nil
}

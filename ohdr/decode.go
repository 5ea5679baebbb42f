package ohdr

import (
	"bytes"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
	"github.com/robert-malhotra/go-ohdr/message"
)

// pendingCont is a continuation message whose target chunk has not been
// loaded yet. Targets are loaded in discovery order, each exactly once.
type pendingCont struct {
	cont      *message.Continuation
	fromChunk int
}

// fetchImage checks an image out of the cache, copies it, and releases the
// checkout. A size of zero requests a speculative read.
func fetchImage(cache Cache, addr, size uint64) ([]byte, error) {
	img, err := cache.Protect(addr, size)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	cp := append([]byte(nil), img...)
	if err := cache.Unprotect(addr, nil, false); err != nil {
		return nil, errs.Wrap(err)
	}
	return cp, nil
}

// Decode reads and parses the object header rooted at addr, following its
// continuation chain. The returned header holds one reference; release it
// with Close.
func Decode(cache Cache, alloc Allocator, addr uint64, cfg Config) (*Header, error) {
	cfg = cfg.withDefaults()
	h := &Header{
		cfg:        cfg,
		cache:      cache,
		alloc:      alloc,
		log:        cfg.Logger,
		mesgs:      make([]mesg, 0, initialSlots),
		chunks:     make([]chunk, 0, initialChunks),
		maxCompact: defaultMaxCompact,
		minDense:   defaultMinDense,
		rc:         1,
	}

	img, err := fetchImage(cache, addr, 0)
	if err != nil {
		return nil, err
	}
	declared, total, err := h.parsePrefix(img, addr)
	if err != nil {
		return nil, err
	}
	if len(img) < total {
		if img, err = fetchImage(cache, addr, uint64(total)); err != nil {
			return nil, err
		}
		if len(img) < total {
			return nil, ErrCorrupt.New("chunk 0 at 0x%X truncated: have %d of %d bytes", addr, len(img), total)
		}
	}
	img = img[:total]
	if h.version > 1 {
		if !binpkg.VerifyLookup3(img[:total-checksumSize],
			h.cfg.ByteOrder.Uint32(img[total-checksumSize:])) {
			return nil, ErrChecksum.New("chunk 0 at 0x%X", addr)
		}
	}
	h.chunks = append(h.chunks, chunk{addr: addr, size: total, image: img, contChunkno: -1})

	visited := map[uint64]bool{addr: true}
	var pending []pendingCont
	if err := h.decodeMessages(0, &pending); err != nil {
		return nil, err
	}
	for len(pending) > 0 {
		p := pending[0]
		pending = pending[1:]
		if err := h.loadContinuation(p, visited, &pending); err != nil {
			return nil, err
		}
	}

	if h.version == 1 && declared != len(h.mesgs)+h.mergedNulls {
		return nil, ErrCorrupt.New("header at 0x%X declares %d messages, found %d",
			addr, declared, len(h.mesgs)+h.mergedNulls)
	}

	// Creation indexes double as stable slot identity. Headers that do not
	// store them get table-order values.
	if h.version > 1 && h.flags&flagAttrOrderTrack != 0 {
		for i := range h.mesgs {
			if next := uint32(h.mesgs[i].crtIdx) + 1; next > h.nextCrtIdx {
				h.nextCrtIdx = next
			}
		}
	} else {
		for i := range h.mesgs {
			h.mesgs[i].crtIdx = uint16(i)
		}
		h.nextCrtIdx = uint32(len(h.mesgs))
	}

	if h.version > 1 {
		h.nlink = 1
		if idx := h.findType(message.TypeObjectRefCount, 0); idx >= 0 {
			n, err := h.loadNative(idx)
			if err != nil {
				return nil, err
			}
			h.nlink = n.(*message.RefCount).Count
		}
	}

	h.log.Debug("decoded object header",
		zap.Uint64("addr", addr),
		zap.Uint8("version", h.version),
		zap.Int("messages", len(h.mesgs)),
		zap.Int("chunks", len(h.chunks)))
	return h, nil
}

// parsePrefix parses the chunk 0 prefix out of img, filling in the header
// fields it carries. It returns the version 1 declared message count and
// the total on-disk size of chunk 0.
func (h *Header) parsePrefix(img []byte, addr uint64) (declared, total int, err error) {
	if len(img) < v1PrefixSize {
		return 0, 0, ErrCorrupt.New("header prefix at 0x%X truncated", addr)
	}
	bo := h.cfg.ByteOrder
	if bytes.Equal(img[:4], headerMagic) {
		h.version = img[4]
		if h.version != flagsDefinedVersion {
			return 0, 0, ErrUnsupported.New("header version %d", h.version)
		}
		h.flags = img[5]
		if h.flags&^flagsKnownMask != 0 {
			return 0, 0, ErrCorrupt.New("unknown status flags 0x%02X", h.flags)
		}
		pos := 6
		if h.flags&flagStoreTimes != 0 {
			if len(img) < pos+16 {
				return 0, 0, ErrCorrupt.New("header prefix at 0x%X truncated", addr)
			}
			h.atime = time.Unix(int64(bo.Uint32(img[pos:])), 0).UTC()
			h.mtime = time.Unix(int64(bo.Uint32(img[pos+4:])), 0).UTC()
			h.ctime = time.Unix(int64(bo.Uint32(img[pos+8:])), 0).UTC()
			h.btime = time.Unix(int64(bo.Uint32(img[pos+12:])), 0).UTC()
			pos += 16
		}
		if h.flags&flagStorePhase != 0 {
			if len(img) < pos+4 {
				return 0, 0, ErrCorrupt.New("header prefix at 0x%X truncated", addr)
			}
			h.maxCompact = bo.Uint16(img[pos:])
			h.minDense = bo.Uint16(img[pos+2:])
			pos += 4
		}
		width := h.chunk0SizeWidth()
		if len(img) < pos+width {
			return 0, 0, ErrCorrupt.New("header prefix at 0x%X truncated", addr)
		}
		size0 := binpkg.DecodeUint(img[pos:], width, bo)
		pos += width
		return 0, pos + int(size0) + checksumSize, nil
	}

	if img[0] == 1 {
		h.version = 1
		declared = int(bo.Uint16(img[2:]))
		h.nlink = bo.Uint32(img[4:])
		hdrData := bo.Uint32(img[8:])
		return declared, v1PrefixSize + int(hdrData), nil
	}
	return 0, 0, ErrCorrupt.New("bad object header signature at 0x%X", addr)
}

// decodeMessages parses the message stream in one chunk's body, appending
// slots to the message table and queueing continuation targets.
func (h *Header) decodeMessages(chunkno int, pending *[]pendingCont) error {
	c := &h.chunks[chunkno]
	begin, end := h.chunkBodyBounds(chunkno)
	if end < begin {
		return ErrCorrupt.New("chunk %d smaller than its fixed fields", chunkno)
	}
	hdrSize := h.msgHdrSize()
	bo := h.cfg.ByteOrder

	pos := begin
	prev := -1 // last slot appended from this chunk
	for end-pos >= hdrSize {
		hb := c.image[pos : pos+hdrSize]
		var id message.Type
		var size int
		var mflags uint8
		var crt uint16
		if h.version == 1 {
			id = message.Type(bo.Uint16(hb[0:]))
			size = int(bo.Uint16(hb[2:]))
			mflags = hb[4]
		} else {
			id = message.Type(hb[0])
			size = int(bo.Uint16(hb[1:]))
			mflags = hb[3]
			if h.flags&flagAttrOrderTrack != 0 {
				crt = bo.Uint16(hb[4:])
			}
		}
		bodyOff := pos + hdrSize
		if bodyOff+size > end {
			return ErrCorrupt.New("message type 0x%04X overruns chunk %d", uint16(id), chunkno)
		}
		body := c.image[bodyOff : bodyOff+size]
		pos = bodyOff + size

		if id == message.TypeNIL && prev >= 0 && h.mesgs[prev].isNull() {
			// Adjacent null messages merge into one slot; the merged
			// header must be rewritten.
			h.mesgs[prev].rawSize += hdrSize + size
			h.mesgs[prev].dirty = true
			c.dirty = true
			h.mergedNulls++
			continue
		}

		m := mesg{
			id:      id,
			flags:   mflags,
			crtIdx:  crt,
			chunkno: chunkno,
			raw:     bodyOff,
			rawSize: size,
		}
		cls := message.Lookup(id)
		switch {
		case cls == nil:
			if mflags&message.FlagFailIfUnknownAlways != 0 {
				return ErrUnsupported.New("message type 0x%04X must be understood", uint16(id))
			}
			if mflags&message.FlagFailIfUnknownWrite != 0 && h.cfg.WriteIntent {
				return ErrUnsupported.New("message type 0x%04X must be understood when writing", uint16(id))
			}
			if mflags&message.FlagMarkIfUnknown != 0 && h.cfg.WriteIntent &&
				mflags&message.FlagWasUnknown == 0 {
				m.flags |= message.FlagWasUnknown
				m.dirty = true
			}
			m.class = message.UnknownClass
			m.native = &message.Unknown{ID: id, Data: append([]byte(nil), body...)}
		case id == message.TypeContinuation:
			// Continuations decode eagerly; the chunk chain cannot be
			// followed without them.
			n, _, err := cls.Decode(body, mflags, h.format())
			if err != nil {
				return ErrCorrupt.New("continuation message in chunk %d: %v", chunkno, err)
			}
			m.class = cls
			m.native = n
			*pending = append(*pending, pendingCont{cont: n.(*message.Continuation), fromChunk: chunkno})
		default:
			m.class = cls
		}

		switch id {
		case message.TypeLink:
			h.linkMsgsSeen++
		case message.TypeAttribute:
			h.attrMsgsSeen++
		}
		h.mesgs = append(h.mesgs, m)
		prev = len(h.mesgs) - 1
	}
	c.gap = end - pos
	return nil
}

// loadContinuation fetches and parses the chunk a continuation message
// points at.
func (h *Header) loadContinuation(p pendingCont, visited map[uint64]bool, pending *[]pendingCont) error {
	cont := p.cont
	if cont.Addr == message.UndefinedAddress {
		return ErrCorrupt.New("continuation message with undefined address")
	}
	if visited[cont.Addr] {
		return ErrCorrupt.New("continuation chain revisits chunk at 0x%X", cont.Addr)
	}
	minSize := h.chunkOverhead() + h.msgHdrSize()
	if cont.Length < uint64(minSize) {
		return ErrCorrupt.New("continuation chunk at 0x%X too small: %d bytes", cont.Addr, cont.Length)
	}
	visited[cont.Addr] = true

	img, err := fetchImage(h.cache, cont.Addr, cont.Length)
	if err != nil {
		return err
	}
	if uint64(len(img)) < cont.Length {
		return ErrCorrupt.New("chunk at 0x%X truncated: have %d of %d bytes", cont.Addr, len(img), cont.Length)
	}
	img = img[:cont.Length]
	if h.version > 1 {
		if !bytes.Equal(img[:4], chunkMagic) {
			return ErrCorrupt.New("bad continuation chunk signature at 0x%X", cont.Addr)
		}
		n := len(img)
		if !binpkg.VerifyLookup3(img[:n-checksumSize], h.cfg.ByteOrder.Uint32(img[n-checksumSize:])) {
			return ErrChecksum.New("chunk at 0x%X", cont.Addr)
		}
	}

	chunkno := len(h.chunks)
	h.chunks = append(h.chunks, chunk{
		addr:        cont.Addr,
		size:        int(cont.Length),
		image:       img,
		contChunkno: p.fromChunk,
	})
	cont.Chunk = chunkno
	if err := h.decodeMessages(chunkno, pending); err != nil {
		return err
	}
	if h.cfg.SWMRWrite {
		return h.addFlushDependency(h.chunks[p.fromChunk].addr, chunkno)
	}
	return nil
}

// loadNative returns the decoded value of slot idx, decoding it on first
// use. Decoding that normalizes an older on-disk encoding marks the slot
// dirty so the modern form is written back.
func (h *Header) loadNative(idx int) (message.Native, error) {
	m := &h.mesgs[idx]
	if m.native != nil {
		return m.native, nil
	}
	if m.isNull() {
		return nil, ErrInvalidOp.New("message %d is a null message", idx)
	}
	body := h.chunks[m.chunkno].image[m.raw : m.raw+m.rawSize]
	n, dirtied, err := m.class.Decode(body, m.flags, h.format())
	if err != nil {
		return nil, ErrCorrupt.New("%s message: %v", m.class.Name, err)
	}
	if m.class.SetCreationIndex != nil {
		m.class.SetCreationIndex(n, m.crtIdx)
	}
	m.native = n
	if dirtied {
		m.dirty = true
		h.decodeDirtied++
	}
	return n, nil
}

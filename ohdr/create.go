package ohdr

import (
	"go.uber.org/zap"

	"github.com/robert-malhotra/go-ohdr/message"
)

// New allocates a fresh object header with a single chunk whose body is
// one null message covering all free space. The header starts with a link
// count of one and is dirty: it reaches disk on the first Flush.
func New(cache Cache, alloc Allocator, cfg Config) (*Header, error) {
	cfg = cfg.withDefaults()
	if cfg.Version != 1 && cfg.Version != 2 {
		return nil, ErrInvalidOp.New("cannot create a version %d header", cfg.Version)
	}
	h := &Header{
		cfg:        cfg,
		cache:      cache,
		alloc:      alloc,
		log:        cfg.Logger,
		version:    cfg.Version,
		nlink:      1,
		maxCompact: defaultMaxCompact,
		minDense:   defaultMinDense,
		mesgs:      make([]mesg, 0, initialSlots),
		chunks:     make([]chunk, 0, initialChunks),
		rc:         1,
	}

	if h.version > 1 {
		if cfg.TrackTimes {
			h.flags |= flagStoreTimes
			now := timeNow().UTC()
			h.atime, h.mtime, h.ctime, h.btime = now, now, now, now
		}
		if cfg.TrackAttrOrder {
			h.flags |= flagAttrOrderTrack
		}
		if cfg.MaxCompact != 0 || cfg.MinDense != 0 {
			if cfg.MaxCompact < cfg.MinDense {
				return nil, ErrInvalidOp.New("max compact threshold %d below min dense threshold %d",
					cfg.MaxCompact, cfg.MinDense)
			}
			h.flags |= flagStorePhase
			h.maxCompact = cfg.MaxCompact
			h.minDense = cfg.MinDense
		}
	}

	body := cfg.SizeHint
	if body < minChunkData {
		body = minChunkData
	}
	body = h.alignRaw(body)
	if h.version > 1 {
		h.flags |= sizeFieldSelector(body)
	}

	trailer := 0
	if h.version > 1 {
		trailer = checksumSize
	}
	total := h.prefixSize() + body + trailer

	addr, err := h.alloc.Allocate(uint64(total))
	if err != nil {
		return nil, ErrOutOfSpace.Wrap(err)
	}
	h.chunks = append(h.chunks, chunk{
		addr:        addr,
		size:        total,
		image:       make([]byte, total),
		dirty:       true,
		contChunkno: -1,
	})
	h.mesgs = append(h.mesgs, mesg{
		id:      message.TypeNIL,
		class:   message.Lookup(message.TypeNIL),
		chunkno: 0,
		raw:     h.prefixSize() + h.msgHdrSize(),
		rawSize: body - h.msgHdrSize(),
		dirty:   true,
	})

	h.log.Debug("created object header",
		zap.Uint64("addr", addr),
		zap.Uint8("version", h.version),
		zap.Int("size", total))
	return h, nil
}

// sizeFieldSelector returns the status-flag bits selecting the narrowest
// chunk 0 size field that can hold body.
func sizeFieldSelector(body int) uint8 {
	switch {
	case body <= 0xFF:
		return 0
	case body <= 0xFFFF:
		return 1
	case body <= 0xFFFFFFFF:
		return 2
	default:
		return 3
	}
}

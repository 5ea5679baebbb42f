package message

import (
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

// Link info flags.
const (
	linkInfoTrackCorder uint8 = 0x01
	linkInfoIndexCorder uint8 = 0x02
)

// LinkInfo represents a link info message (type 0x0002), holding metadata
// about the links stored in a group.
type LinkInfo struct {
	Flags                  uint8
	MaxCreationIndex       uint64 // present if creation order is tracked
	FractalHeapAddr        uint64
	NameIndexBTreeAddr     uint64
	CreationOrderBTreeAddr uint64 // present if creation order is indexed
}

func (*LinkInfo) Type() Type { return TypeLinkInfo }

// TracksCreationOrder reports whether link creation order is tracked.
func (m *LinkInfo) TracksCreationOrder() bool { return m.Flags&linkInfoTrackCorder != 0 }

// NewLinkInfo creates a minimal link info message with undefined heap and
// index addresses.
func NewLinkInfo() *LinkInfo {
	return &LinkInfo{
		FractalHeapAddr:    UndefinedAddress,
		NameIndexBTreeAddr: UndefinedAddress,
	}
}

func linkInfoRawSize(n Native, f Format) int {
	m := n.(*LinkInfo)
	size := 2 + 2*f.OffsetSize
	if m.Flags&linkInfoTrackCorder != 0 {
		size += 8
	}
	if m.Flags&(linkInfoTrackCorder|linkInfoIndexCorder) == linkInfoTrackCorder|linkInfoIndexCorder {
		size += f.OffsetSize
	}
	return size
}

var linkInfoClass = &Class{
	ID:   TypeLinkInfo,
	Name: "link info",
	Decode: func(data []byte, flags uint8, f Format) (Native, bool, error) {
		r := binpkg.NewReader(data, binpkg.Config(f))
		version, err := r.Uint8()
		if err != nil {
			return nil, false, fmt.Errorf("link info message too short")
		}
		if version != 0 {
			return nil, false, fmt.Errorf("unsupported link info version %d", version)
		}
		m := &LinkInfo{}
		if m.Flags, err = r.Uint8(); err != nil {
			return nil, false, err
		}
		if m.Flags&linkInfoTrackCorder != 0 {
			if m.MaxCreationIndex, err = r.Uint64(); err != nil {
				return nil, false, err
			}
		}
		if m.FractalHeapAddr, err = r.Offset(); err != nil {
			return nil, false, err
		}
		if m.NameIndexBTreeAddr, err = r.Offset(); err != nil {
			return nil, false, err
		}
		if m.Flags&(linkInfoTrackCorder|linkInfoIndexCorder) == linkInfoTrackCorder|linkInfoIndexCorder {
			if m.CreationOrderBTreeAddr, err = r.Offset(); err != nil {
				return nil, false, err
			}
		}
		return m, false, nil
	},
	Encode: func(n Native, f Format) ([]byte, error) {
		m := n.(*LinkInfo)
		buf := make([]byte, linkInfoRawSize(n, f))
		w := binpkg.NewWriter(buf, binpkg.Config(f))
		w.PutUint8(0) // version
		w.PutUint8(m.Flags)
		if m.Flags&linkInfoTrackCorder != 0 {
			w.PutUint64(m.MaxCreationIndex)
		}
		w.PutOffset(m.FractalHeapAddr)
		if err := w.PutOffset(m.NameIndexBTreeAddr); err != nil {
			return nil, err
		}
		if m.Flags&(linkInfoTrackCorder|linkInfoIndexCorder) == linkInfoTrackCorder|linkInfoIndexCorder {
			if err := w.PutOffset(m.CreationOrderBTreeAddr); err != nil {
				return nil, err
			}
		}
		return buf, nil
	},
	RawSize: linkInfoRawSize,
	Copy: func(n Native) Native {
		m := *n.(*LinkInfo)
		return &m
	},
	Debug: func(n Native, w io.Writer) {
		m := n.(*LinkInfo)
		fmt.Fprintf(w, "link info: flags 0x%02X, heap 0x%X\n", m.Flags, m.FractalHeapAddr)
	},
}

package message

import (
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

// Group info flags.
const (
	groupInfoStorePhaseChange uint8 = 0x01
	groupInfoStoreEstimates   uint8 = 0x02
)

// GroupInfo represents a group info message (type 0x000A), carrying the
// compact/dense storage thresholds and size estimates for a group.
type GroupInfo struct {
	Flags            uint8
	MaxCompactLinks  uint16 // present if phase-change flag set
	MinDenseLinks    uint16
	EstNumEntries    uint16 // present if estimates flag set
	EstEntryNameLen  uint16
}

func (*GroupInfo) Type() Type { return TypeGroupInfo }

func groupInfoRawSize(n Native, f Format) int {
	m := n.(*GroupInfo)
	size := 2
	if m.Flags&groupInfoStorePhaseChange != 0 {
		size += 4
	}
	if m.Flags&groupInfoStoreEstimates != 0 {
		size += 4
	}
	return size
}

var groupInfoClass = &Class{
	ID:   TypeGroupInfo,
	Name: "group info",
	Decode: func(data []byte, flags uint8, f Format) (Native, bool, error) {
		r := binpkg.NewReader(data, binpkg.Config(f))
		version, err := r.Uint8()
		if err != nil {
			return nil, false, fmt.Errorf("group info message too short")
		}
		if version != 0 {
			return nil, false, fmt.Errorf("unsupported group info version %d", version)
		}
		m := &GroupInfo{}
		if m.Flags, err = r.Uint8(); err != nil {
			return nil, false, err
		}
		if m.Flags&groupInfoStorePhaseChange != 0 {
			if m.MaxCompactLinks, err = r.Uint16(); err != nil {
				return nil, false, err
			}
			if m.MinDenseLinks, err = r.Uint16(); err != nil {
				return nil, false, err
			}
		}
		if m.Flags&groupInfoStoreEstimates != 0 {
			if m.EstNumEntries, err = r.Uint16(); err != nil {
				return nil, false, err
			}
			if m.EstEntryNameLen, err = r.Uint16(); err != nil {
				return nil, false, err
			}
		}
		return m, false, nil
	},
	Encode: func(n Native, f Format) ([]byte, error) {
		m := n.(*GroupInfo)
		buf := make([]byte, groupInfoRawSize(n, f))
		w := binpkg.NewWriter(buf, binpkg.Config(f))
		w.PutUint8(0) // version
		w.PutUint8(m.Flags)
		if m.Flags&groupInfoStorePhaseChange != 0 {
			w.PutUint16(m.MaxCompactLinks)
			w.PutUint16(m.MinDenseLinks)
		}
		if m.Flags&groupInfoStoreEstimates != 0 {
			w.PutUint16(m.EstNumEntries)
			if err := w.PutUint16(m.EstEntryNameLen); err != nil {
				return nil, err
			}
		}
		return buf, nil
	},
	RawSize: groupInfoRawSize,
	Copy: func(n Native) Native {
		m := *n.(*GroupInfo)
		return &m
	},
	Debug: func(n Native, w io.Writer) {
		m := n.(*GroupInfo)
		fmt.Fprintf(w, "group info: flags 0x%02X\n", m.Flags)
	},
}

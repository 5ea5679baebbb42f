package message

import (
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

// DataspaceType represents the extent type of a dataspace.
type DataspaceType uint8

const (
	DataspaceScalar DataspaceType = 0 // single element
	DataspaceSimple DataspaceType = 1 // regular N-dimensional array
	DataspaceNull   DataspaceType = 2 // no data
)

// Dataspace represents a dataspace message (type 0x0001).
type Dataspace struct {
	SpaceType  DataspaceType
	Dimensions []uint64
	MaxDims    []uint64 // nil means same as Dimensions

	// Sharing records where a shared copy of this dataspace lives. It is
	// not part of the private wire form.
	Sharing Shared
}

func (*Dataspace) Type() Type { return TypeDataspace }

// Rank returns the dimensionality of the dataspace.
func (m *Dataspace) Rank() int { return len(m.Dimensions) }

// NumElements returns the total number of elements in the dataspace.
func (m *Dataspace) NumElements() uint64 {
	switch m.SpaceType {
	case DataspaceNull:
		return 0
	case DataspaceScalar:
		return 1
	case DataspaceSimple:
		n := uint64(1)
		for _, d := range m.Dimensions {
			n *= d
		}
		return n
	default:
		return 0
	}
}

/*
Dataspace Message Layout (version 2):
Offset  Size  Description
0       1     Version (2)
1       1     Dimensionality (rank)
2       1     Flags (bit 0: max dimensions present)
3       1     Type (0=scalar, 1=simple, 2=null)
4       var   Dimension sizes (rank x length-size bytes)
var     var   Max dimension sizes, if flag bit 0 set

Version 1 lacks the type byte and carries 4 reserved bytes after the flags;
the type is inferred from the rank. Version-1 messages are normalized to
version 2 on decode, which dirties the message.
*/

func dataspaceRawSize(n Native, f Format) int {
	m := n.(*Dataspace)
	size := 4 + m.Rank()*f.LengthSize
	if len(m.MaxDims) > 0 {
		size += m.Rank() * f.LengthSize
	}
	return size
}

var dataspaceClass = &Class{
	ID:         TypeDataspace,
	Name:       "dataspace",
	ShareFlags: ShareIsShared | ShareInHeader,
	Decode:     decodeDataspace,
	Encode:     encodeDataspace,
	RawSize:    dataspaceRawSize,
	Copy: func(n Native) Native {
		m := n.(*Dataspace)
		out := &Dataspace{SpaceType: m.SpaceType, Sharing: m.Sharing}
		out.Dimensions = append([]uint64(nil), m.Dimensions...)
		if m.MaxDims != nil {
			out.MaxDims = append([]uint64(nil), m.MaxDims...)
		}
		return out
	},
	CanShare: func(n Native) bool { return true },
	SetShare: func(n Native, s Shared) error {
		n.(*Dataspace).Sharing = s
		return nil
	},
	Debug: func(n Native, w io.Writer) {
		m := n.(*Dataspace)
		switch m.SpaceType {
		case DataspaceScalar:
			fmt.Fprintln(w, "dataspace: scalar")
		case DataspaceNull:
			fmt.Fprintln(w, "dataspace: null")
		default:
			fmt.Fprintf(w, "dataspace: simple, dims %v\n", m.Dimensions)
		}
	},
}

func decodeDataspace(data []byte, flags uint8, f Format) (Native, bool, error) {
	if len(data) < 4 {
		return nil, false, fmt.Errorf("dataspace message too short")
	}

	version := data[0]
	rank := int(data[1])
	hasMaxDims := data[2]&0x01 != 0

	m := &Dataspace{}
	offset := 4
	switch version {
	case 1:
		// No explicit type; infer from rank. Reserved bytes follow.
		if rank == 0 {
			m.SpaceType = DataspaceScalar
		} else {
			m.SpaceType = DataspaceSimple
		}
		offset = 8
	case 2:
		m.SpaceType = DataspaceType(data[3])
	default:
		return nil, false, fmt.Errorf("unsupported dataspace version %d", version)
	}

	if m.SpaceType == DataspaceSimple && rank > 0 {
		r := binpkg.NewReader(data, binpkg.Config(f)).At(offset)
		m.Dimensions = make([]uint64, rank)
		for i := 0; i < rank; i++ {
			d, err := r.Length()
			if err != nil {
				return nil, false, fmt.Errorf("dataspace message truncated reading dimensions")
			}
			m.Dimensions[i] = d
		}
		if hasMaxDims {
			m.MaxDims = make([]uint64, rank)
			for i := 0; i < rank; i++ {
				d, err := r.Length()
				if err != nil {
					return nil, false, fmt.Errorf("dataspace message truncated reading max dimensions")
				}
				m.MaxDims[i] = d
			}
		}
	}

	// Version-1 messages re-encode as version 2 on the next flush.
	return m, version == 1, nil
}

func encodeDataspace(n Native, f Format) ([]byte, error) {
	m := n.(*Dataspace)
	buf := make([]byte, dataspaceRawSize(n, f))
	w := binpkg.NewWriter(buf, binpkg.Config(f))

	flags := uint8(0)
	if len(m.MaxDims) > 0 {
		flags |= 0x01
	}
	w.PutUint8(2) // version
	w.PutUint8(uint8(m.Rank()))
	w.PutUint8(flags)
	w.PutUint8(uint8(m.SpaceType))
	for _, d := range m.Dimensions {
		w.PutLength(d)
	}
	for _, d := range m.MaxDims {
		if err := w.PutLength(d); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

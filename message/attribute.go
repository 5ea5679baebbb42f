package message

import (
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

/*
Attribute Message Layout (version 3):
Offset  Size  Description
0       1     Version (3)
1       1     Flags
2       2     Name size (including NUL)
4       2     Datatype message size
6       2     Dataspace message size
8       1     Name character set encoding
9       var   Name (NUL terminated)
var     var   Datatype message bytes
var     var   Dataspace message bytes
var     var   Attribute value

Version 1 has a reserved byte instead of flags, no encoding byte, and pads
name/datatype/dataspace to 8-byte boundaries. Version-1 messages are
normalized to version 3 on decode, which dirties the message.
*/

// Attribute represents an attribute message (type 0x000C). The embedded
// datatype and dataspace messages are kept as opaque encoded bytes; their
// codecs live behind the same class interface and are applied on demand by
// higher layers.
type Attribute struct {
	Name          string
	Encoding      uint8
	Datatype      []byte
	Dataspace     []byte
	Data          []byte
	CreationIndex uint16

	// Sharing records where a shared copy of this attribute lives. It is
	// not part of the private wire form.
	Sharing Shared
}

func (*Attribute) Type() Type { return TypeAttribute }

func attributeRawSize(n Native, f Format) int {
	m := n.(*Attribute)
	return 9 + len(m.Name) + 1 + len(m.Datatype) + len(m.Dataspace) + len(m.Data)
}

var attributeClass = &Class{
	ID:         TypeAttribute,
	Name:       "attribute",
	ShareFlags: ShareIsShared | ShareInHeader,
	Decode:     decodeAttribute,
	Encode:     encodeAttribute,
	RawSize:    attributeRawSize,
	Copy: func(n Native) Native {
		m := n.(*Attribute)
		return &Attribute{
			Name:          m.Name,
			Encoding:      m.Encoding,
			Datatype:      append([]byte(nil), m.Datatype...),
			Dataspace:     append([]byte(nil), m.Dataspace...),
			Data:          append([]byte(nil), m.Data...),
			CreationIndex: m.CreationIndex,
			Sharing:       m.Sharing,
		}
	},
	Reset: func(n Native) {
		m := n.(*Attribute)
		m.Datatype, m.Dataspace, m.Data = nil, nil, nil
	},
	// An attribute missing its datatype or dataspace component cannot
	// stand alone in the shared table.
	CanShare: func(n Native) bool {
		m := n.(*Attribute)
		return len(m.Datatype) > 0 && len(m.Dataspace) > 0
	},
	SetShare: func(n Native, s Shared) error {
		n.(*Attribute).Sharing = s
		return nil
	},
	GetCreationIndex: func(n Native) (uint16, bool) {
		return n.(*Attribute).CreationIndex, true
	},
	SetCreationIndex: func(n Native, idx uint16) {
		n.(*Attribute).CreationIndex = idx
	},
	Debug: func(n Native, w io.Writer) {
		m := n.(*Attribute)
		fmt.Fprintf(w, "attribute %q (%d value bytes)\n", m.Name, len(m.Data))
	},
}

func decodeAttribute(data []byte, flags uint8, f Format) (Native, bool, error) {
	if len(data) < 8 {
		return nil, false, fmt.Errorf("attribute message too short")
	}
	version := data[0]
	switch version {
	case 1:
		m, err := decodeAttributeV1(data, f)
		return m, err == nil, err
	case 3:
		m, err := decodeAttributeV3(data, f)
		return m, false, err
	default:
		return nil, false, fmt.Errorf("unsupported attribute version %d", version)
	}
}

func decodeAttributeV1(data []byte, f Format) (*Attribute, error) {
	r := binpkg.NewReader(data, binpkg.Config(f)).At(2)
	nameSize, _ := r.Uint16()
	dtSize, _ := r.Uint16()
	dsSize, err := r.Uint16()
	if err != nil {
		return nil, fmt.Errorf("attribute message too short")
	}

	m := &Attribute{}
	name, err := r.Bytes(int(nameSize))
	if err != nil {
		return nil, fmt.Errorf("attribute name truncated")
	}
	m.Name = cstring(name)
	r.Align(8)

	if m.Datatype, err = r.Bytes(int(dtSize)); err != nil {
		return nil, fmt.Errorf("attribute datatype truncated")
	}
	m.Datatype = append([]byte(nil), m.Datatype...)
	r.Align(8)

	if m.Dataspace, err = r.Bytes(int(dsSize)); err != nil {
		return nil, fmt.Errorf("attribute dataspace truncated")
	}
	m.Dataspace = append([]byte(nil), m.Dataspace...)
	r.Align(8)

	if rest := r.Remaining(); rest > 0 {
		value, _ := r.Bytes(rest)
		m.Data = append([]byte(nil), value...)
	}
	return m, nil
}

func decodeAttributeV3(data []byte, f Format) (*Attribute, error) {
	r := binpkg.NewReader(data, binpkg.Config(f)).At(2)
	nameSize, _ := r.Uint16()
	dtSize, _ := r.Uint16()
	dsSize, err := r.Uint16()
	if err != nil {
		return nil, fmt.Errorf("attribute message too short")
	}

	m := &Attribute{}
	if m.Encoding, err = r.Uint8(); err != nil {
		return nil, fmt.Errorf("attribute message too short")
	}
	name, err := r.Bytes(int(nameSize))
	if err != nil {
		return nil, fmt.Errorf("attribute name truncated")
	}
	m.Name = cstring(name)

	if m.Datatype, err = r.Bytes(int(dtSize)); err != nil {
		return nil, fmt.Errorf("attribute datatype truncated")
	}
	m.Datatype = append([]byte(nil), m.Datatype...)
	if m.Dataspace, err = r.Bytes(int(dsSize)); err != nil {
		return nil, fmt.Errorf("attribute dataspace truncated")
	}
	m.Dataspace = append([]byte(nil), m.Dataspace...)

	if rest := r.Remaining(); rest > 0 {
		value, _ := r.Bytes(rest)
		m.Data = append([]byte(nil), value...)
	}
	return m, nil
}

func encodeAttribute(n Native, f Format) ([]byte, error) {
	m := n.(*Attribute)
	buf := make([]byte, attributeRawSize(n, f))
	w := binpkg.NewWriter(buf, binpkg.Config(f))
	w.PutUint8(3) // version
	w.PutUint8(0) // flags
	w.PutUint16(uint16(len(m.Name) + 1))
	w.PutUint16(uint16(len(m.Datatype)))
	w.PutUint16(uint16(len(m.Dataspace)))
	w.PutUint8(m.Encoding)
	w.PutBytes([]byte(m.Name))
	w.PutUint8(0) // NUL terminator
	w.PutBytes(m.Datatype)
	w.PutBytes(m.Dataspace)
	if err := w.PutBytes(m.Data); err != nil {
		return nil, err
	}
	return buf, nil
}

// cstring returns the bytes up to the first NUL.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

package message

import (
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

// LinkType represents the target kind of a link message.
type LinkType uint8

const (
	LinkTypeHard     LinkType = 0  // object header address
	LinkTypeSoft     LinkType = 1  // path string
	LinkTypeExternal LinkType = 64 // file name + object path
)

// Link message flags.
const (
	linkNameLenMask  uint8 = 0x03 // width of the name-length field: 1 << value
	linkHasCorder    uint8 = 0x04
	linkHasType      uint8 = 0x08
	linkHasCharset   uint8 = 0x10
)

// Link represents a link message (type 0x0006).
type Link struct {
	LinkType      LinkType
	CreationOrder uint64
	HasCorder     bool
	Name          string
	Charset       uint8

	ObjectAddress uint64 // hard links
	SoftTarget    string // soft links

	// External links name an object in another file.
	ExternalFile string
	ExternalPath string
}

func (*Link) Type() Type { return TypeLink }

// IsHard reports whether this is a hard link.
func (m *Link) IsHard() bool { return m.LinkType == LinkTypeHard }

// IsExternal reports whether this link targets another file.
func (m *Link) IsExternal() bool { return m.LinkType == LinkTypeExternal }

func linkRawSize(n Native, f Format) int {
	m := n.(*Link)
	size := 2 + 1 // version, flags, link type (always written)
	if m.HasCorder {
		size += 8
	}
	if m.Charset != 0 {
		size++
	}
	size += linkNameLenBytes(len(m.Name)) + len(m.Name)
	switch m.LinkType {
	case LinkTypeHard:
		size += f.OffsetSize
	case LinkTypeSoft:
		size += 2 + len(m.SoftTarget)
	case LinkTypeExternal:
		size += 2 + externalPayloadLen(m)
	}
	return size
}

// Link creation order is part of the message body, assigned by the group
// layer; the header never rewrites it, so this class carries no
// creation-index hooks.
var linkClass = &Class{
	ID:      TypeLink,
	Name:    "link",
	Decode:  decodeLink,
	Encode:  encodeLink,
	RawSize: linkRawSize,
	Copy: func(n Native) Native {
		m := *n.(*Link)
		return &m
	},
	Debug: func(n Native, w io.Writer) {
		m := n.(*Link)
		switch {
		case m.IsHard():
			fmt.Fprintf(w, "link %q -> 0x%X\n", m.Name, m.ObjectAddress)
		case m.IsExternal():
			fmt.Fprintf(w, "link %q -> %s:%s\n", m.Name, m.ExternalFile, m.ExternalPath)
		default:
			fmt.Fprintf(w, "link %q -> %q\n", m.Name, m.SoftTarget)
		}
	},
}

// externalPayloadLen is the external-link value: a version/flags byte plus
// the NUL-terminated file name and object path.
func externalPayloadLen(m *Link) int {
	return 1 + len(m.ExternalFile) + 1 + len(m.ExternalPath) + 1
}

func decodeLink(data []byte, flags uint8, f Format) (Native, bool, error) {
	r := binpkg.NewReader(data, binpkg.Config(f))
	version, err := r.Uint8()
	if err != nil {
		return nil, false, fmt.Errorf("link message too short")
	}
	if version != 1 {
		return nil, false, fmt.Errorf("unsupported link message version %d", version)
	}
	lflags, err := r.Uint8()
	if err != nil {
		return nil, false, err
	}

	m := &Link{}
	if lflags&linkHasType != 0 {
		t, err := r.Uint8()
		if err != nil {
			return nil, false, fmt.Errorf("link type truncated")
		}
		m.LinkType = LinkType(t)
	}
	if lflags&linkHasCorder != 0 {
		m.HasCorder = true
		if m.CreationOrder, err = r.Uint64(); err != nil {
			return nil, false, fmt.Errorf("link creation order truncated")
		}
	}
	if lflags&linkHasCharset != 0 {
		if m.Charset, err = r.Uint8(); err != nil {
			return nil, false, fmt.Errorf("link charset truncated")
		}
	}

	nameLen, err := r.UintN(1 << (lflags & linkNameLenMask))
	if err != nil {
		return nil, false, fmt.Errorf("link name length truncated")
	}
	name, err := r.Bytes(int(nameLen))
	if err != nil {
		return nil, false, fmt.Errorf("link name truncated")
	}
	m.Name = string(name)

	switch m.LinkType {
	case LinkTypeHard:
		if m.ObjectAddress, err = r.Offset(); err != nil {
			return nil, false, fmt.Errorf("hard link address truncated")
		}
	case LinkTypeSoft:
		targetLen, err := r.Uint16()
		if err != nil {
			return nil, false, fmt.Errorf("soft link length truncated")
		}
		target, err := r.Bytes(int(targetLen))
		if err != nil {
			return nil, false, fmt.Errorf("soft link value truncated")
		}
		m.SoftTarget = string(target)
	case LinkTypeExternal:
		extLen, err := r.Uint16()
		if err != nil {
			return nil, false, fmt.Errorf("external link length truncated")
		}
		ext, err := r.Bytes(int(extLen))
		if err != nil {
			return nil, false, fmt.Errorf("external link value truncated")
		}
		if len(ext) < 2 {
			return nil, false, fmt.Errorf("external link value too short")
		}
		ext = ext[1:] // version/flags byte
		m.ExternalFile = cstring(ext)
		if rest := len(m.ExternalFile) + 1; rest < len(ext) {
			m.ExternalPath = cstring(ext[rest:])
		}
	default:
		return nil, false, fmt.Errorf("unsupported link type %d", m.LinkType)
	}
	return m, false, nil
}

func encodeLink(n Native, f Format) ([]byte, error) {
	m := n.(*Link)
	buf := make([]byte, linkRawSize(n, f))
	w := binpkg.NewWriter(buf, binpkg.Config(f))

	nameLenSize := linkNameLenBytes(len(m.Name))
	lflags := uint8(0)
	switch nameLenSize {
	case 2:
		lflags |= 0x01
	case 4:
		lflags |= 0x02
	case 8:
		lflags |= 0x03
	}
	lflags |= linkHasType
	if m.HasCorder {
		lflags |= linkHasCorder
	}
	if m.Charset != 0 {
		lflags |= linkHasCharset
	}

	w.PutUint8(1) // version
	w.PutUint8(lflags)
	w.PutUint8(uint8(m.LinkType))
	if m.HasCorder {
		w.PutUint64(m.CreationOrder)
	}
	if m.Charset != 0 {
		w.PutUint8(m.Charset)
	}
	w.PutUintN(uint64(len(m.Name)), nameLenSize)
	w.PutBytes([]byte(m.Name))

	switch m.LinkType {
	case LinkTypeHard:
		if err := w.PutOffset(m.ObjectAddress); err != nil {
			return nil, err
		}
	case LinkTypeSoft:
		w.PutUint16(uint16(len(m.SoftTarget)))
		if err := w.PutBytes([]byte(m.SoftTarget)); err != nil {
			return nil, err
		}
	case LinkTypeExternal:
		w.PutUint16(uint16(externalPayloadLen(m)))
		w.PutUint8(0) // version/flags
		w.PutBytes([]byte(m.ExternalFile))
		w.PutUint8(0)
		w.PutBytes([]byte(m.ExternalPath))
		if err := w.PutUint8(0); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func linkNameLenBytes(n int) int {
	switch {
	case n <= 0xFF:
		return 1
	case n <= 0xFFFF:
		return 2
	case n <= 0x7FFFFFFF:
		return 4
	default:
		return 8
	}
}

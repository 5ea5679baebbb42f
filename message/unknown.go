package message

import (
	"fmt"
	"io"
)

// Unknown wraps the raw bytes of a message whose type has no registered
// codec. It re-encodes byte-identically, preserving forward compatibility:
// a file written by a newer library survives a read-modify-write cycle.
type Unknown struct {
	ID   Type
	Data []byte
}

func (m *Unknown) Type() Type { return m.ID }

// UnknownClass is the codec used for unregistered message types. It is not
// part of the registry table; the engine selects it when Lookup fails and
// the message flags permit carrying the type opaquely.
var UnknownClass = &Class{
	ID:   0xFFFF, // never matches a wire type; slots track the real ID
	Name: "unknown",
	Decode: func(data []byte, flags uint8, f Format) (Native, bool, error) {
		return &Unknown{Data: append([]byte(nil), data...)}, false, nil
	},
	Encode: func(n Native, f Format) ([]byte, error) {
		return n.(*Unknown).Data, nil
	},
	RawSize: func(n Native, f Format) int {
		return len(n.(*Unknown).Data)
	},
	Copy: func(n Native) Native {
		m := n.(*Unknown)
		return &Unknown{ID: m.ID, Data: append([]byte(nil), m.Data...)}
	},
	Reset: func(n Native) {
		n.(*Unknown).Data = nil
	},
	Debug: func(n Native, w io.Writer) {
		m := n.(*Unknown)
		fmt.Fprintf(w, "unknown message type 0x%04X (%d bytes)\n", uint16(m.ID), len(m.Data))
	},
}

package message

import (
	"fmt"
	"io"
)

// Nil is the native value of a null message. Null message bytes are scratch
// space marking reclaimed room inside a chunk; there is nothing to decode.
type Nil struct{}

func (*Nil) Type() Type { return TypeNIL }

var nilClass = &Class{
	ID:   TypeNIL,
	Name: "nil",
	Decode: func(data []byte, flags uint8, f Format) (Native, bool, error) {
		return &Nil{}, false, nil
	},
	Encode: func(n Native, f Format) ([]byte, error) {
		// The engine zero-fills the slot; no body bytes to produce.
		return nil, nil
	},
	RawSize: func(n Native, f Format) int { return 0 },
	Copy:    func(n Native) Native { return &Nil{} },
	Debug: func(n Native, w io.Writer) {
		fmt.Fprintln(w, "nil message (free space)")
	},
}

package message

import (
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

// Continuation records the file address and total size of another header
// chunk. Chunk is the in-memory index of the chunk the message points at;
// it is assigned while the chunk chain is decoded and never stored on disk.
type Continuation struct {
	Addr   uint64
	Length uint64
	Chunk  int
}

func (*Continuation) Type() Type { return TypeContinuation }

// ContinuationRawSize is the encoded size of a continuation message for the
// given format: one file offset plus one length.
func ContinuationRawSize(f Format) int {
	return f.OffsetSize + f.LengthSize
}

var continuationClass = &Class{
	ID:   TypeContinuation,
	Name: "header continuation",
	Decode: func(data []byte, flags uint8, f Format) (Native, bool, error) {
		r := binpkg.NewReader(data, binpkg.Config(f))
		addr, err := r.Offset()
		if err != nil {
			return nil, false, fmt.Errorf("continuation message too short")
		}
		length, err := r.Length()
		if err != nil {
			return nil, false, fmt.Errorf("continuation message too short")
		}
		return &Continuation{Addr: addr, Length: length}, false, nil
	},
	Encode: func(n Native, f Format) ([]byte, error) {
		c := n.(*Continuation)
		buf := make([]byte, ContinuationRawSize(f))
		w := binpkg.NewWriter(buf, binpkg.Config(f))
		if err := w.PutOffset(c.Addr); err != nil {
			return nil, err
		}
		if err := w.PutLength(c.Length); err != nil {
			return nil, err
		}
		return buf, nil
	},
	RawSize: func(n Native, f Format) int { return ContinuationRawSize(f) },
	Copy: func(n Native) Native {
		c := *n.(*Continuation)
		return &c
	},
	Debug: func(n Native, w io.Writer) {
		c := n.(*Continuation)
		fmt.Fprintf(w, "continuation -> chunk %d at 0x%X (%d bytes)\n", c.Chunk, c.Addr, c.Length)
	},
}

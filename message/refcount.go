package message

import (
	"fmt"
	"io"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

// RefCount represents an object reference count message (type 0x0016),
// present when an object has more than one hard link.
type RefCount struct {
	Count uint32
}

func (*RefCount) Type() Type { return TypeObjectRefCount }

var refCountClass = &Class{
	ID:   TypeObjectRefCount,
	Name: "object reference count",
	Decode: func(data []byte, flags uint8, f Format) (Native, bool, error) {
		r := binpkg.NewReader(data, binpkg.Config(f))
		version, err := r.Uint8()
		if err != nil {
			return nil, false, fmt.Errorf("ref count message too short")
		}
		if version != 0 {
			return nil, false, fmt.Errorf("unsupported ref count version %d", version)
		}
		count, err := r.Uint32()
		if err != nil {
			return nil, false, fmt.Errorf("ref count message too short")
		}
		return &RefCount{Count: count}, false, nil
	},
	Encode: func(n Native, f Format) ([]byte, error) {
		m := n.(*RefCount)
		buf := make([]byte, 5)
		w := binpkg.NewWriter(buf, binpkg.Config(f))
		w.PutUint8(0) // version
		if err := w.PutUint32(m.Count); err != nil {
			return nil, err
		}
		return buf, nil
	},
	RawSize: func(n Native, f Format) int { return 5 },
	Copy: func(n Native) Native {
		m := *n.(*RefCount)
		return &m
	},
	Debug: func(n Native, w io.Writer) {
		fmt.Fprintf(w, "ref count: %d\n", n.(*RefCount).Count)
	},
}
